// Command lwm2m-clientd is the client daemon: it hosts the local object
// model for one device and accepts the application library's IPC
// connection on daemon_endpoint, translating Read/Write/Execute/... into
// calls against the local objectstore.Store and (eventually) CoAP
// exchanges with the device's LwM2M server.
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/connectivityfoundry/lwm2m-runtime/adminapi"
	"github.com/connectivityfoundry/lwm2m-runtime/common"
	"github.com/connectivityfoundry/lwm2m-runtime/config"
	"github.com/connectivityfoundry/lwm2m-runtime/daemon"
	"github.com/connectivityfoundry/lwm2m-runtime/ipc"
	"github.com/connectivityfoundry/lwm2m-runtime/logging"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/objectstore"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// guardedTransport serializes Send calls on one connection. Fan-out
// delivery of a Notify runs on whichever goroutine's request triggered
// the change, which is not necessarily the goroutine that owns this
// connection's own request/response loop — without this lock the two
// could interleave their writes and corrupt the length-prefixed framing.
type guardedTransport struct {
	mu        sync.Mutex
	transport *ipc.StreamTransport
}

func (g *guardedTransport) Send(e ipc.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transport.Send(e)
}

// notifyFanout tracks every application connection currently attached to
// the daemon, so a value change at an observed path can be delivered to
// every one of them, not just the connection whose request produced it.
type notifyFanout struct {
	mu     sync.Mutex
	conns  map[*guardedTransport]struct{}
	logger *logrus.Logger
}

func newNotifyFanout(logger *logrus.Logger) *notifyFanout {
	return &notifyFanout{conns: make(map[*guardedTransport]struct{}), logger: logger}
}

func (f *notifyFanout) add(t *guardedTransport) {
	f.mu.Lock()
	f.conns[t] = struct{}{}
	f.mu.Unlock()
}

func (f *notifyFanout) remove(t *guardedTransport) {
	f.mu.Lock()
	delete(f.conns, t)
	f.mu.Unlock()
}

func (f *notifyFanout) deliver(p path.Path, v value.Value) {
	env, err := ipc.NewNotify("observe_notify", daemon.EncodeNotify(p, v))
	if err != nil {
		return
	}
	f.mu.Lock()
	targets := make([]*guardedTransport, 0, len(f.conns))
	for t := range f.conns {
		targets = append(targets, t)
	}
	f.mu.Unlock()
	for _, t := range targets {
		if err := t.Send(env); err != nil {
			f.logger.WithField("error", err.Error()).Warn("failed to deliver notify")
		}
	}
}

func main() {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:   "lwm2m-clientd",
		Short: "LwM2M client daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			v = config.NewViper(configFile)
			config.BindFlags(cmd, v)
			return run(v)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("lwm2m-clientd: %w", err)
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:   toCommonLogLevel(cfg.LogLevel),
		Format:  "text",
		Service: "lwm2m-clientd",
	})
	ring := logging.NewRingHook(256)
	logger.AddHook(ring)

	registry := objectdef.New()
	store := objectstore.New(registry)
	handler := daemon.NewHandler(store, registry)

	fanout := newNotifyFanout(logger)
	handler.SetNotifier(fanout.deliver)

	admin := adminapi.New(adminapi.Config{AuthMode: adminapi.AuthNone}, nil, ring, logger)
	go func() {
		logger.WithField("address", cfg.DaemonEndpoint).Info("admin surface listening on :9090")
		if err := admin.Start(":9090", ""); err != nil {
			logger.WithField("error", err.Error()).Warn("admin surface stopped")
		}
	}()

	network, address := endpointAddr(cfg.DaemonEndpoint)
	if network == "unix" {
		os.Remove(address) // a stale socket file from a prior crashed run
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("lwm2m-clientd: listen on %s: %w", cfg.DaemonEndpoint, err)
	}
	defer listener.Close()

	logger.WithFields(map[string]interface{}{
		"daemon_endpoint": cfg.DaemonEndpoint,
		"content_format":  cfg.ContentFormat,
	}).Info("client daemon accepting application connections")

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("lwm2m-clientd: accept: %w", err)
		}
		go serveApplication(conn, handler, fanout, logger)
	}
}

// serveApplication runs one application's IPC session to completion: it
// reads one request at a time, dispatches it through handler, and writes
// back the correlated response, matching the single-threaded cooperative
// model of a session — one goroutine owns this connection for its life.
// It also registers its transport with fanout for the connection's
// duration, so an Observe relation it establishes can be notified even
// while this goroutine is blocked waiting on its own next Recv.
func serveApplication(conn net.Conn, handler *daemon.Handler, fanout *notifyFanout, logger *logrus.Logger) {
	defer conn.Close()
	transport := &guardedTransport{transport: ipc.NewStreamTransport(conn)}
	fanout.add(transport)
	defer fanout.remove(transport)

	for {
		req, err := transport.transport.Recv()
		if err != nil {
			return
		}
		resp := handleEnvelope(req, handler)
		if err := transport.Send(resp); err != nil {
			logger.WithField("error", err.Error()).Warn("failed to write response")
			return
		}
	}
}

func handleEnvelope(req ipc.Envelope, handler *daemon.Handler) ipc.Envelope {
	var wireOp daemon.WireOperation
	if err := req.Decode(&wireOp); err != nil {
		resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
		return resp
	}

	op, err := wireOp.ToOperation()
	if err != nil {
		resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
		return resp
	}

	result, err := handler.Handle(op)
	if err != nil {
		resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
		return resp
	}

	resp, _ := ipc.NewResponse(req.ID, wireOp.Kind, daemon.EncodeResponse(result))
	return resp
}

// toCommonLogLevel maps the runtime's §6.3 log_level vocabulary onto
// common.NewLogger's, which the application's own logging stack defines
// independently and does not share names with ("Warning" vs "warn", and
// no "none" — treated here as "error" since it is the quietest level
// common.NewLogger supports).
func toCommonLogLevel(level config.LogLevel) common.LogLevel {
	switch level {
	case config.LogDebug:
		return common.LogLevelDebug
	case config.LogInfo:
		return common.LogLevelInfo
	case config.LogWarning:
		return common.LogLevelWarn
	case config.LogError, config.LogNone:
		return common.LogLevelError
	default:
		return common.LogLevelInfo
	}
}

// endpointAddr splits a daemon_endpoint value (spec.md §6.3) into the
// net.Listen network/address pair: "unix:///path" listens on a Unix
// domain socket, anything else (optionally "tcp://host:port") listens on
// TCP.
func endpointAddr(daemonEndpoint string) (network, address string) {
	if daemonEndpoint == "" {
		return "tcp", "127.0.0.1:12345"
	}
	if path, ok := strings.CutPrefix(daemonEndpoint, "unix://"); ok {
		return "unix", path
	}
	return "tcp", strings.TrimPrefix(daemonEndpoint, "tcp://")
}
