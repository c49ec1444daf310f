package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the minimal surface the pipeline needs from a wire
// connection: send one Envelope, receive one Envelope, and enforce a read
// deadline so Perform/Process can implement their timeout semantics
// without spawning a reader goroutine (spec.md §5: a session's
// connection is touched by exactly one goroutine at a time).
type Transport interface {
	Send(Envelope) error
	Recv() (Envelope, error)
	SetReadDeadline(time.Time) error
	Close() error
}

// WebSocketTransport adapts a *websocket.Conn (the application's own
// dependency, used the same way coordinator.Coordinator dials when-v3) to
// Transport. Each Envelope is one text frame.
type WebSocketTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an already-dialed connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) Send(e Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) Recv() (Envelope, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: read frame: %w", err)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("ipc: decode envelope: %w", err)
	}
	return e, nil
}

func (t *WebSocketTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *WebSocketTransport) Close() error { return t.conn.Close() }

// StreamTransport frames Envelopes as a 4-byte big-endian length prefix
// followed by JSON, over any net.Conn. The daemons and CLIs use it for
// both the TCP and the unix-domain socket daemon_endpoint forms of
// spec.md §6.3, and tests use it over net.Pipe().
type StreamTransport struct {
	conn net.Conn
}

// NewStreamTransport wraps conn.
func NewStreamTransport(conn net.Conn) *StreamTransport {
	return &StreamTransport{conn: conn}
}

func (t *StreamTransport) Send(e Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := t.conn.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: write length prefix: %w", err)
	}
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

func (t *StreamTransport) Recv() (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return Envelope{}, fmt.Errorf("ipc: read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	data := make([]byte, length)
	if _, err := io.ReadFull(t.conn, data); err != nil {
		return Envelope{}, fmt.Errorf("ipc: read frame: %w", err)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("ipc: decode envelope: %w", err)
	}
	return e, nil
}

func (t *StreamTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *StreamTransport) Close() error { return t.conn.Close() }
