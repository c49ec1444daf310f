// Command awa-server is a reference application for the server daemon:
// cobra subcommands modeled on the original implementation's
// tools/awa-server-*.c family (read, write, delete, create),
// each addressing one registered client by ID through
// a running lwm2m-serverd.
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

// clientRequest is the JSON shape lwm2m-serverd's serveApplication
// decodes: a ClientID selecting which registered client's object store
// the embedded operation runs against.
type clientRequest struct {
	ClientID string `json:"clientID"`
	daemon.WireOperation
}

func main() {
	var endpoint, clientID string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "awa-server",
		Short: "reference server-daemon application",
	}
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "127.0.0.1:54321", "server daemon daemon_endpoint")
	root.PersistentFlags().StringVar(&clientID, "client-id", "", "registered ClientID to address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "per-operation timeout")
	root.MarkPersistentFlagRequired("client-id")

	root.AddCommand(
		readCmd(&endpoint, &clientID, &timeout),
		writeCmd(&endpoint, &clientID, &timeout),
		deleteCmd(&endpoint, &clientID, &timeout),
		createCmd(&endpoint, &clientID, &timeout),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readCmd(endpoint, clientID *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "read [path...]",
		Short: "read one or more paths on the addressed client",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := make([]daemon.WireTarget, 0, len(args))
			for _, p := range args {
				targets = append(targets, daemon.WireTarget{Path: p})
			}
			return perform(*endpoint, *timeout, clientRequest{ClientID: *clientID, WireOperation: daemon.WireOperation{Kind: "read", Targets: targets}})
		},
	}
}

func writeCmd(endpoint, clientID *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "write path=value [path=value...]",
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
			return perform(*endpoint, *timeout, clientRequest{ClientID: *clientID, WireOperation: daemon.WireOperation{Kind: "write", Targets: targets}})
		},
	}
}

func deleteCmd(endpoint, clientID *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "delete path",
		Short: "delete an instance or resource on the addressed client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(*endpoint, *timeout, clientRequest{ClientID: *clientID, WireOperation: daemon.WireOperation{Kind: "delete", Targets: []daemon.WireTarget{{Path: args[0]}}}})
		},
	}
}

func createCmd(endpoint, clientID *string, timeout *time.Duration) *cobra.Command {
	return &cobra.Command{
		Use:   "create objectID",
		Short: "create a new instance of an object on the addressed client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return perform(*endpoint, *timeout, clientRequest{ClientID: *clientID, WireOperation: daemon.WireOperation{Kind: "create", Targets: []daemon.WireTarget{{Path: "/" + args[0]}}}})
		},
	}
}

func splitPathValue(kv string) (string, string, error) {
	for i := range kv {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("awa-server: %q is not in path=value form", kv)
}

func perform(endpoint string, timeout time.Duration, req clientRequest) error {
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return fmt.Errorf("awa-server: dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	sess := session.New(session.RoleServer, endpoint, objectdef.New())
	if err := sess.Connect(ipc.NewStreamTransport(conn)); err != nil {
		return fmt.Errorf("awa-server: connect: %w", err)
	}
	defer sess.Disconnect()

	envelope, err := ipc.NewRequest(req.Kind, req)
	if err != nil {
		return fmt.Errorf("awa-server: encode request: %w", err)
	}

	resp, err := sess.Perform(envelope, timeout)
	if err != nil {
		return fmt.Errorf("awa-server: %w", err)
	}

	var wireResp daemon.WireResponse
	if err := resp.Decode(&wireResp); err != nil {
		return fmt.Errorf("awa-server: decode response: %w", err)
	}

	out, err := json.MarshalIndent(wireResp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
