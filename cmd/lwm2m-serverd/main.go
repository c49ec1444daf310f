// Command lwm2m-serverd is the server daemon: it manages the
// registration state of every remote LwM2M client talking to this
// server and exposes that state to one or more server-side applications
// over its own IPC endpoint, translating their requests into CoAP
// exchanges with the corresponding client.
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
	"github.com/connectivityfoundry/lwm2m-runtime/queue"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// guardedTransport serializes Send calls on one application connection, the
// same hazard cmd/lwm2m-clientd guards against: a Notify for a client this
// connection observed can be delivered from another goroutine's request
// handling while this connection's own loop is mid-Send.
type guardedTransport struct {
	mu        sync.Mutex
	transport *ipc.StreamTransport
}

func (g *guardedTransport) Send(e ipc.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transport.Send(e)
}

// clientFanout delivers Notify envelopes to every application connection
// that has observed a path belonging to one registered client, keyed by
// ClientID rather than kept per-connection: unlike the client daemon, one
// server-side application connection may address many different clients
// across its lifetime, so fan-out is scoped to the client, not the socket.
type clientFanout struct {
	mu     sync.Mutex
	byID   map[string]map[*guardedTransport]struct{}
	logger *logrus.Logger
}

func newClientFanout(logger *logrus.Logger) *clientFanout {
	return &clientFanout{byID: make(map[string]map[*guardedTransport]struct{}), logger: logger}
}

func (f *clientFanout) attach(clientID string, t *guardedTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.byID[clientID]
	if !ok {
		set = make(map[*guardedTransport]struct{})
		f.byID[clientID] = set
	}
	set[t] = struct{}{}
}

// detach removes t from every client it was attached to, called once the
// owning connection closes.
func (f *clientFanout) detach(t *guardedTransport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for clientID, set := range f.byID {
		delete(set, t)
		if len(set) == 0 {
			delete(f.byID, clientID)
		}
	}
}

func (f *clientFanout) notifier(clientID string) daemon.NotifyFunc {
	return func(p path.Path, v value.Value) {
		env, err := ipc.NewNotify("observe_notify", daemon.EncodeNotify(p, v))
		if err != nil {
			return
		}
		f.mu.Lock()
		targets := make([]*guardedTransport, 0, len(f.byID[clientID]))
		for t := range f.byID[clientID] {
			targets = append(targets, t)
		}
		f.mu.Unlock()
		for _, t := range targets {
			if err := t.Send(env); err != nil {
				f.logger.WithField("error", err.Error()).Warn("failed to deliver notify")
			}
		}
	}
}

func main() {
	v := viper.New()
	var configFile string
	var adminAddress string
	var rabbitURL string

	root := &cobra.Command{
		Use:   "lwm2m-serverd",
		Short: "LwM2M server daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			v = config.NewViper(configFile)
			config.BindFlags(cmd, v)
			return run(v, adminAddress, rabbitURL)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&adminAddress, "admin-address", ":9091", "address the debug/admin HTTP surface binds")
	root.PersistentFlags().StringVar(&rabbitURL, "retry-queue-url", "", "RabbitMQ URL for the offline-client retry queue (empty disables retry queuing)")
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(v *viper.Viper, adminAddress, rabbitURL string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("lwm2m-serverd: %w", err)
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:   toCommonLogLevel(cfg.LogLevel),
		Format:  "text",
		Service: "lwm2m-serverd",
	})
	ring := logging.NewRingHook(256)
	logger.AddHook(ring)

	clients := daemon.NewClientRegistry()
	registry := objectdef.New()

	var retryQueue queue.JobPublisher
	if rabbitURL != "" {
		rq, err := queue.NewRabbitMQService(queue.Config{RabbitMQURL: rabbitURL, QueueName: "lwm2m-retry"})
		if err != nil {
			logger.WithField("error", err.Error()).Warn("retry queue unavailable, offline clients will only see errors")
		} else {
			retryQueue = rq
			defer rq.Close()
		}
	}

	fanout := newClientFanout(logger)

	admin := adminapi.New(adminapi.Config{AuthMode: adminapi.AuthNone}, clients, ring, logger)
	go func() {
		logger.WithField("address", adminAddress).Info("admin surface listening")
		if err := admin.Start(adminAddress, ""); err != nil {
			logger.WithField("error", err.Error()).Warn("admin surface stopped")
		}
	}()

	network, address := endpointAddr(cfg.DaemonEndpoint, "127.0.0.1:54321")
	if network == "unix" {
		os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("lwm2m-serverd: listen on %s: %w", cfg.DaemonEndpoint, err)
	}
	defer listener.Close()

	logger.WithFields(map[string]interface{}{
		"daemon_endpoint": cfg.DaemonEndpoint,
		"content_format":  cfg.ContentFormat,
	}).Info("server daemon accepting application connections")

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("lwm2m-serverd: accept: %w", err)
		}
		go serveApplication(conn, clients, registry, retryQueue, fanout, logger)
	}
}

// registerRequest is the payload of a "register" envelope: an application
// announcing that a client has come online, the server-side equivalent of
// the CoAP Register operation spec.md §3 leaves to the transport this
// runtime does not implement. "renew" and "deregister" envelopes carry the
// same shape; renew reads ClientID/LifetimeSeconds/RegisteredObjects,
// deregister only ClientID.
type registerRequest struct {
	ClientID          string    `json:"clientID"`
	Endpoint          string    `json:"endpoint"`
	Address           string    `json:"address"`
	LifetimeSeconds   int       `json:"lifetimeSeconds"`
	RegisteredObjects []path.ID `json:"registeredObjects"`
}

// serveApplication runs one server-side application's IPC session: every
// operation envelope is dispatched against the ClientState addressed by
// its clientID field, reusing that client's own daemon.Handler across the
// whole registration (not a fresh one per request) so an Observe relation
// established on one request is still live to deliver a Notify triggered
// by a later one. "register"/"renew"/"deregister" envelopes manage
// ClientRegistry directly rather than building an optree.Operation. When
// an operation addresses a client that is not currently registered, the
// caller gets an error response; when a retryQueue is configured, the
// operation is also queued for redelivery.
func serveApplication(conn net.Conn, clients *daemon.ClientRegistry, registry *objectdef.Registry, retryQueue queue.JobPublisher, fanout *clientFanout, logger *logrus.Logger) {
	defer conn.Close()
	transport := &guardedTransport{transport: ipc.NewStreamTransport(conn)}
	defer fanout.detach(transport)

	for {
		req, err := transport.transport.Recv()
		if err != nil {
			return
		}

		switch req.Kind {
		case "register":
			handleRegister(req, clients, registry, fanout, transport, logger)
			continue
		case "renew":
			handleRenew(req, clients, transport)
			continue
		case "deregister":
			handleDeregister(req, clients, transport)
			continue
		}

		var envelope struct {
			ClientID string `json:"clientID"`
			daemon.WireOperation
		}
		if err := req.Decode(&envelope); err != nil {
			resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
			transport.Send(resp)
			continue
		}

		client, err := clients.Get(envelope.ClientID)
		if err != nil {
			if retryQueue != nil {
				queueOfflineClientRetry(retryQueue, envelope.ClientID, envelope.WireOperation, logger)
			}
			resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
			transport.Send(resp)
			continue
		}
		fanout.attach(envelope.ClientID, transport)

		op, err := envelope.WireOperation.ToOperation()
		if err != nil {
			resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
			transport.Send(resp)
			continue
		}

		result, err := client.Handler.Handle(op)
		if err != nil {
			resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
			transport.Send(resp)
			continue
		}

		resp, _ := ipc.NewResponse(req.ID, envelope.Kind, daemon.EncodeResponse(result))
		if err := transport.Send(resp); err != nil {
			logger.WithField("error", err.Error()).Warn("failed to write response")
			return
		}
	}
}

// handleRegister creates or replaces a ClientState for the announced
// client, with its own object store and a Handler wired to deliver Notify
// envelopes to whichever application connections later observe one of its
// paths through this server daemon.
func handleRegister(req ipc.Envelope, clients *daemon.ClientRegistry, registry *objectdef.Registry, fanout *clientFanout, transport *guardedTransport, logger *logrus.Logger) {
	var rr registerRequest
	if err := req.Decode(&rr); err != nil {
		resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
		transport.Send(resp)
		return
	}

	store := objectstore.New(registry)
	handler := daemon.NewHandler(store, registry)
	handler.SetNotifier(fanout.notifier(rr.ClientID))
	state := &daemon.ClientState{
		ClientID:          rr.ClientID,
		Endpoint:          rr.Endpoint,
		Address:           rr.Address,
		LifetimeSeconds:   rr.LifetimeSeconds,
		RegisteredObjects: rr.RegisteredObjects,
		Store:             store,
		Handler:           handler,
	}
	clients.Register(state)
	logger.WithField("client_id", rr.ClientID).Info("client registered")

	resp, _ := ipc.NewResponse(req.ID, "register", map[string]string{"clientID": rr.ClientID})
	transport.Send(resp)
}

func handleRenew(req ipc.Envelope, clients *daemon.ClientRegistry, transport *guardedTransport) {
	var rr registerRequest
	if err := req.Decode(&rr); err != nil {
		resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
		transport.Send(resp)
		return
	}
	var resp ipc.Envelope
	if err := clients.Renew(rr.ClientID, rr.LifetimeSeconds, rr.RegisteredObjects); err != nil {
		resp, _ = ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
	} else {
		resp, _ = ipc.NewResponse(req.ID, "renew", map[string]string{"clientID": rr.ClientID})
	}
	transport.Send(resp)
}

func handleDeregister(req ipc.Envelope, clients *daemon.ClientRegistry, transport *guardedTransport) {
	var rr registerRequest
	if err := req.Decode(&rr); err != nil {
		resp, _ := ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
		transport.Send(resp)
		return
	}
	var resp ipc.Envelope
	if err := clients.Deregister(rr.ClientID); err != nil {
		resp, _ = ipc.NewResponse(req.ID, "error", map[string]string{"error": err.Error()})
	} else {
		resp, _ = ipc.NewResponse(req.ID, "deregister", map[string]string{"clientID": rr.ClientID})
	}
	transport.Send(resp)
}

// queueOfflineClientRetry publishes one RetryJob per target of an
// operation addressed to a client that isn't currently registered, best
// effort: a publish failure is logged but does not change the response
// already being sent back to the caller.
func queueOfflineClientRetry(retryQueue queue.JobPublisher, clientID string, op daemon.WireOperation, logger *logrus.Logger) {
	kind, ok := daemon.ParseOperationKind(op.Kind)
	if !ok {
		return
	}
	for _, t := range op.Targets {
		job := queue.RetryJob{ClientID: clientID, Kind: kind, Path: t.Path, Attempts: 0}
		if err := retryQueue.PublishJob(job); err != nil {
			logger.WithField("error", err.Error()).Warn("failed to queue retry job")
		}
	}
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

func endpointAddr(daemonEndpoint, defaultAddr string) (network, address string) {
	if daemonEndpoint == "" {
		return "tcp", defaultAddr
	}
	if path, ok := strings.CutPrefix(daemonEndpoint, "unix://"); ok {
		return "unix", path
	}
	return "tcp", strings.TrimPrefix(daemonEndpoint, "tcp://")
}
