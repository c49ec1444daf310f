// Package adminapi is the debug/admin HTTP surface a running server
// daemon exposes alongside its IPC listener: client registration status,
// recent operation history, and recent error-level log lines, protected
// by the application's choice of API-key or Basic auth.
package adminapi

import (
	"net/http"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/api"
	"github.com/connectivityfoundry/lwm2m-runtime/common"
	"github.com/connectivityfoundry/lwm2m-runtime/daemon"
	"github.com/connectivityfoundry/lwm2m-runtime/logging"
	"github.com/connectivityfoundry/lwm2m-runtime/statemanager"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// AuthMode selects which of api's middlewares protects the admin surface.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthAPIKey
	AuthBasic
)

// Config configures the admin HTTP server.
type Config struct {
	Address  string
	AuthMode AuthMode
	APIKey   string
	Username string
	Password string
}

// Server is the echo-based debug surface over one server daemon's
// ClientRegistry and the process-wide RingHook error buffer.
type Server struct {
	echo    *echo.Echo
	clients *daemon.ClientRegistry
	ring    *logging.RingHook
	state   *statemanager.Manager
	logger  *common.ContextLogger
}

// New builds a Server. clients may be nil for a client-role daemon that
// has no registrations to report.
func New(cfg Config, clients *daemon.ClientRegistry, ring *logging.RingHook, logger *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	switch cfg.AuthMode {
	case AuthAPIKey:
		e.Use(api.APIKeyAuth(cfg.APIKey))
	case AuthBasic:
		e.Use(api.BasicAuthMiddleware(api.BasicAuthConfig{Username: cfg.Username, Password: cfg.Password}))
	}

	state := statemanager.New(statemanager.Config{ServiceName: "lwm2m-daemon"})

	s := &Server{
		echo:    e,
		clients: clients,
		ring:    ring,
		state:   state,
		logger:  common.ServiceLogger("lwm2m-daemon", "admin"),
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/clients", s.handleListClients)
	e.GET("/clients/:id", s.handleGetClient)
	e.GET("/debug/logs", s.handleRecentLogs)
	state.RegisterRoutes(e.Group("/debug"))

	return s
}

// TrackOperation records the start of a long-running daemon operation
// (e.g. an in-flight Perform) in the admin surface's operation history.
func (s *Server) TrackOperation(requestID, operation string, metadata map[string]interface{}) {
	s.state.StartOperation(requestID, operation, metadata)
}

// CompleteOperation marks a tracked operation as finished.
func (s *Server) CompleteOperation(requestID string, err error) {
	s.state.CompleteOperation(requestID, err)
}

// Start begins serving on address, blocking until the server stops
// or fails. Masks the configured API key in the startup log line so it
// never appears in plaintext log output.
func (s *Server) Start(address string, apiKeyForLog string) error {
	s.logger.WithField("api_key", common.MaskSecret(apiKeyForLog)).Info("starting admin surface")
	return s.echo.Start(address)
}

// Close shuts down the admin HTTP server.
func (s *Server) Close() error {
	return s.echo.Close()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListClients(c echo.Context) error {
	if s.clients == nil {
		return c.JSON(http.StatusOK, []string{})
	}
	return c.JSON(http.StatusOK, s.clients.List())
}

func (s *Server) handleGetClient(c echo.Context) error {
	if s.clients == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "client not found"})
	}
	id := c.Param("id")
	client, err := s.clients.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, client)
}

type logLine struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func (s *Server) handleRecentLogs(c echo.Context) error {
	entries := s.ring.Recent()
	out := make([]logLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, logLine{Time: e.Time, Level: e.Level, Message: e.Message, Fields: e.Fields})
	}
	return c.JSON(http.StatusOK, out)
}
