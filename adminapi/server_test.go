package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/daemon"
	"github.com/connectivityfoundry/lwm2m-runtime/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	clients := daemon.NewClientRegistry()
	clients.Register(&daemon.ClientState{ClientID: "urn:imei:123", Endpoint: "imei:123", LifetimeSeconds: 300})

	ring := logging.NewRingHook(16)
	logrus.New().AddHook(ring)

	return New(Config{AuthMode: AuthNone}, clients, ring, logrus.New())
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListClients(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Equal(t, []string{"urn:imei:123"}, ids)
}

func TestGetClientNotFound(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/clients/unknown", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	clients := daemon.NewClientRegistry()
	ring := logging.NewRingHook(16)
	s := New(Config{AuthMode: AuthAPIKey, APIKey: "secret"}, clients, ring, logrus.New())

	req := httptest.NewRequest(http.MethodGet, "/clients", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/clients", nil)
	req2.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	s.echo.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestTrackAndCompleteOperationAppearsInDebugState(t *testing.T) {
	s := newTestServer()
	s.TrackOperation("req-1", "read", map[string]interface{}{"path": "/1000/0/104"})
	s.CompleteOperation("req-1", nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/state/req-1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecentLogsReflectsRingHook(t *testing.T) {
	s := newTestServer()
	s.ring.Fire(&logrus.Entry{Time: time.Now(), Level: logrus.ErrorLevel, Message: "disk full"})

	req := httptest.NewRequest(http.MethodGet, "/debug/logs", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var lines []logLine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, "disk full", lines[0].Message)
}
