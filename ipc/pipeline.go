package ipc

import (
	"fmt"
	"sync"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
)

// NotifyHandler is invoked, synchronously and from whichever goroutine is
// currently inside Perform or Process, for every Notify envelope the
// pipeline receives. It must not block for long: spec.md §5's cooperative
// single-threaded model means nothing else happens on this session while
// it runs.
type NotifyHandler func(Envelope)

// Pipeline implements the Request/Response round trip of §4.6: Perform
// sends a request and blocks for its correlated response, transparently
// dispatching any Notify envelopes it receives along the way. Exactly one
// goroutine may call into a Pipeline at a time — it keeps no internal
// reader goroutine, matching the single-threaded cooperative session
// model of §5.
type Pipeline struct {
	mu     sync.Mutex
	t      Transport
	notify NotifyHandler
	closed bool
}

// NewPipeline wraps t. notify may be nil if the caller never expects
// unsolicited deliveries (e.g. a daemon-side pipeline talking to a single
// request-issuing application).
func NewPipeline(t Transport, notify NotifyHandler) *Pipeline {
	return &Pipeline{t: t, notify: notify}
}

// SetNotifyHandler replaces the handler invoked for Notify envelopes.
func (p *Pipeline) SetNotifyHandler(h NotifyHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = h
}

// Perform sends req and blocks until its correlated TypeResponse arrives,
// timeout elapses, or the transport fails. timeout == 0 waits
// indefinitely; timeout < 0 is rejected with RangeInvalid (§4.6).
func (p *Pipeline) Perform(req Envelope, timeout time.Duration) (Envelope, error) {
	const op = "ipc.Pipeline.Perform"
	if timeout < 0 {
		return Envelope{}, lwm2merr.New(op, lwm2merr.RangeInvalid, fmt.Errorf("negative timeout %s is invalid", timeout))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Envelope{}, lwm2merr.New(op, lwm2merr.SessionNotConnected, fmt.Errorf("pipeline closed"))
	}

	if err := p.t.Send(req); err != nil {
		return Envelope{}, lwm2merr.New(op, lwm2merr.IPCError, err)
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := p.t.SetReadDeadline(deadline); err != nil {
			return Envelope{}, lwm2merr.New(op, lwm2merr.IPCError, err)
		}
		resp, err := p.t.Recv()
		if err != nil {
			if isTimeoutError(err) {
				return Envelope{}, lwm2merr.New(op, lwm2merr.Timeout, err)
			}
			return Envelope{}, lwm2merr.New(op, lwm2merr.IPCError, err)
		}

		switch resp.Type {
		case TypeResponse:
			if resp.ID != req.ID {
				// Stale or mismatched correlation: keep waiting for ours
				// rather than surfacing someone else's answer.
				continue
			}
			return resp, nil
		case TypeNotify:
			if p.notify != nil {
				p.notify(resp)
			}
			continue
		default:
			return Envelope{}, lwm2merr.New(op, lwm2merr.ResponseInvalid, fmt.Errorf("unexpected envelope type %q", resp.Type))
		}
	}
}

// Process performs one bounded read cycle dedicated to delivering
// unsolicited Notify envelopes when the application is not itself inside
// Perform — the other of the two blocking operations §5 permits. Any
// TypeResponse envelope received here (one correlated to a request whose
// Perform already gave up, e.g. on a prior Timeout) is dropped rather than
// treated as an error: it is simply too late to deliver.
func (p *Pipeline) Process(timeout time.Duration) error {
	const op = "ipc.Pipeline.Process"
	if timeout < 0 {
		return lwm2merr.New(op, lwm2merr.RangeInvalid, fmt.Errorf("negative timeout %s is invalid", timeout))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return lwm2merr.New(op, lwm2merr.SessionNotConnected, fmt.Errorf("pipeline closed"))
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := p.t.SetReadDeadline(deadline); err != nil {
		return lwm2merr.New(op, lwm2merr.IPCError, err)
	}

	msg, err := p.t.Recv()
	if err != nil {
		if isTimeoutError(err) {
			return nil
		}
		return lwm2merr.New(op, lwm2merr.IPCError, err)
	}
	if msg.Type == TypeNotify && p.notify != nil {
		p.notify(msg)
	}
	return nil
}

// Close shuts down the underlying transport. Idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.t.Close()
}

type timeoutError interface {
	Timeout() bool
}

// isTimeoutError reports whether err is, or wraps, a net.Error whose
// Timeout() is true — the shape both net.Conn deadlines and
// gorilla/websocket's read errors surface.
func isTimeoutError(err error) bool {
	for err != nil {
		if te, ok := err.(timeoutError); ok && te.Timeout() {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
