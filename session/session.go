// Package session implements the Session & Connection Manager
// (component C9): session creation, connect/disconnect, in-flight
// operation tracking, and the single-threaded cooperative dispatch loop
// (process/dispatch_callbacks) that the ipc and subscribe packages sit
// underneath.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/daemon"
	"github.com/connectivityfoundry/lwm2m-runtime/ipc"
	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/subscribe"
	"github.com/google/uuid"
)

// Role distinguishes a client-facing session from a server-facing one;
// each owns its registry/subscription state identically, but a Client
// session's registry mirrors a daemon's, while a Server session's
// registry is authoritative.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Session owns exactly the derived objects §4.2 assigns it: the
// definition registry reachable through it, its subscription engine, and
// the set of RequestIDs currently awaiting a response. Disconnect clears
// the in-flight set and closes the transport; Defs and Subs are kept, and
// handles issued by Subs stay valid after Disconnect.
type Session struct {
	mu        sync.Mutex
	role      Role
	endpoint  string
	sessionID string
	connected bool

	transport ipc.Transport
	pipeline  *ipc.Pipeline

	Defs *objectdef.Registry
	Subs *subscribe.Engine

	inFlight map[string]struct{}

	// OnNotify receives every Notify envelope the transport delivers
	// during Process. Left nil, notifications are silently dropped —
	// the caller is expected to set this before the first Process call.
	OnNotify func(ipc.Envelope)
}

// New creates a disconnected Session and records endpoint (the
// daemon_endpoint it is for). New does not dial; Connect takes an
// already-dialed ipc.Transport.
func New(role Role, endpoint string, defs *objectdef.Registry) *Session {
	if defs == nil {
		defs = objectdef.New()
	}
	return &Session{
		role:     role,
		endpoint: endpoint,
		Defs:     defs,
		Subs:     subscribe.New(),
		inFlight: make(map[string]struct{}),
	}
}

// Connect performs the handshake of §4.9 over an already-dialed
// transport: it assigns a session ID and marks the session usable.
// Populating the peer's definition registry is the caller's
// responsibility once Connect returns, via Define — Connect itself only
// establishes the channel.
func (s *Session) Connect(t ipc.Transport) error {
	const op = "session.Session.Connect"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return lwm2merr.New(op, lwm2merr.SessionInvalid, fmt.Errorf("session already connected"))
	}
	s.transport = t
	s.pipeline = ipc.NewPipeline(t, s.handleNotify)
	s.sessionID = uuid.NewString()
	s.connected = true
	return nil
}

// Connected reports whether the session has an active transport.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SessionID returns the handshake-assigned session ID, empty before the
// first successful Connect.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Disconnect is idempotent: in-flight tracking is cleared and the
// transport is closed. Perform and Process both check Connected first, so
// afterwards they fail with SessionNotConnected. Defs and Subs are not
// reset.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.inFlight = make(map[string]struct{})
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// Perform sends req and blocks for its correlated response, tracking the
// RequestID as in-flight for the duration. One of the two blocking
// operations §4.2 permits per session.
func (s *Session) Perform(req ipc.Envelope, timeout time.Duration) (ipc.Envelope, error) {
	const op = "session.Session.Perform"
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ipc.Envelope{}, lwm2merr.New(op, lwm2merr.SessionNotConnected, fmt.Errorf("session not connected"))
	}
	pipeline := s.pipeline
	s.inFlight[req.ID] = struct{}{}
	s.mu.Unlock()

	resp, err := pipeline.Perform(req, timeout)

	s.mu.Lock()
	delete(s.inFlight, req.ID)
	s.mu.Unlock()

	return resp, err
}

// Define registers def with the daemon on the other end of the session
// and, once the daemon confirms it, mirrors it into Defs so local code
// can immediately look it up — the step Connect's doc comment leaves to
// the caller.
func (s *Session) Define(def objectdef.ObjectDefinition, timeout time.Duration) error {
	const op = "session.Session.Define"
	wop := daemon.WireOperation{Kind: "define", Targets: []daemon.WireTarget{{Def: &def}}}
	req, err := ipc.NewRequest(wop.Kind, wop)
	if err != nil {
		return lwm2merr.New(op, lwm2merr.IPCError, err)
	}

	resp, err := s.Perform(req, timeout)
	if err != nil {
		return err
	}

	var wresp daemon.WireResponse
	if err := resp.Decode(&wresp); err != nil {
		return lwm2merr.New(op, lwm2merr.ResponseInvalid, err)
	}
	if len(wresp.Results) > 0 && wresp.Results[0].Err != "" {
		return lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("%s", wresp.Results[0].Err))
	}

	return s.Defs.Define(def)
}

// Process drains the transport for at most timeout, dispatching any
// Notify envelope received through the session's registered notify
// handler. The other blocking operation §4.2 permits per session.
func (s *Session) Process(timeout time.Duration) error {
	const op = "session.Session.Process"
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return lwm2merr.New(op, lwm2merr.SessionNotConnected, fmt.Errorf("session not connected"))
	}
	pipeline := s.pipeline
	s.mu.Unlock()
	return pipeline.Process(timeout)
}

// InFlight returns the RequestIDs currently awaiting a response.
func (s *Session) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// handleNotify is the pipeline's NotifyHandler; it forwards wire-level
// notifications to OnNotify, if the caller has set one.
func (s *Session) handleNotify(e ipc.Envelope) {
	if s.OnNotify != nil {
		s.OnNotify(e)
	}
}
