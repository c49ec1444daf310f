// Command awa-client is a reference application for the client daemon:
// cobra subcommands modeled on the original implementation's
// tools/awa-client-*.c family (get, set, delete, explore),
// each driving a single operation through session.Session against a
// running lwm2m-clientd.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/daemon"
	"github.com/connectivityfoundry/lwm2m-runtime/ipc"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/session"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/spf13/cobra"
)

func main() {
	var endpoint string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "awa-client",
		Short: "reference client-daemon application",
	}
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "127.0.0.1:12345", "client daemon daemon_endpoint")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "per-operation timeout")

	root.AddCommand(
		getCmd(&endpoint, &timeout),
		setCmd(&endpoint, &timeout),
		deleteCmd(&endpoint, &timeout),
		exploreCmd(&endpoint, &timeout),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getCmd(endpoint *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "get [path...]",
		Short: "read one or more resource/instance/object paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := make([]daemon.WireTarget, 0, len(args))
			for _, p := range args {
				targets = append(targets, daemon.WireTarget{Path: p})
			}
			return perform(*endpoint, *timeout, daemon.WireOperation{Kind: "read", Targets: targets})
		},
	}
}

func setCmd(endpoint *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "set path=value [path=value...]",
		Short: "write a string value to one or more resource paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := make([]daemon.WireTarget, 0, len(args))
			for _, kv := range args {
				p, v, err := splitPathValue(kv)
				if err != nil {
					return err
				}
				sv := value.String(v)
				targets = append(targets, daemon.WireTarget{Path: p, Value: &sv, HasValue: true})
			}
			return perform(*endpoint, *timeout, daemon.WireOperation{Kind: "write", Targets: targets})
		},
	}
}

func deleteCmd(endpoint *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "delete path",
		Short: "delete an instance or resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(*endpoint, *timeout, daemon.WireOperation{Kind: "delete", Targets: []daemon.WireTarget{{Path: args[0]}}})
		},
	}
}

func exploreCmd(endpoint *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "explore path",
		Short: "discover the instances or resources under a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(*endpoint, *timeout, daemon.WireOperation{Kind: "discover", Targets: []daemon.WireTarget{{Path: args[0]}}})
		},
	}
}

func splitPathValue(kv string) (string, string, error) {
	for i := range kv {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("awa-client: %q is not in path=value form", kv)
}

func perform(endpoint string, timeout time.Duration, op daemon.WireOperation) error {
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("awa-client: dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	sess := session.New(session.RoleClient, endpoint, objectdef.New())
	if err := sess.Connect(ipc.NewStreamTransport(conn)); err != nil {
		return fmt.Errorf("awa-client: connect: %w", err)
	}
	defer sess.Disconnect()

	req, err := ipc.NewRequest(op.Kind, op)
	if err != nil {
		return fmt.Errorf("awa-client: encode request: %w", err)
	}

	resp, err := sess.Perform(req, timeout)
	if err != nil {
		return fmt.Errorf("awa-client: %w", err)
	}

	var wireResp daemon.WireResponse
	if err := resp.Decode(&wireResp); err != nil {
		return fmt.Errorf("awa-client: decode response: %w", err)
	}

	out, err := json.MarshalIndent(wireResp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
