// Package ipc implements the Request/Response Pipeline (component C6): the
// application<->daemon wire protocol and the synchronous perform/process
// semantics built on top of it.
//
// Each message is a JSON object, modeled on the original implementation's
// tagged IPC messages and the application's own WSMessage shape.
// StreamTransport frames it with a 4-byte length prefix over any net.Conn
// and is the transport every daemon and CLI in this module uses;
// WebSocketTransport sends one message per gorilla/websocket text frame.
package ipc

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageType discriminates the three envelope shapes the pipeline
// exchanges.
type MessageType string

const (
	// TypeRequest is an application-originated operation.
	TypeRequest MessageType = "request"
	// TypeResponse answers a specific TypeRequest by ID.
	TypeResponse MessageType = "response"
	// TypeNotify is a daemon-originated, unsolicited delivery: a change
	// notification or an Observe callback, not correlated to any
	// in-flight request.
	TypeNotify MessageType = "notify"
)

// Envelope is one frame exchanged over the application<->daemon
// transport.
type Envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Kind    string          `json:"kind,omitempty"` // operation or notification kind, e.g. "read", "observe_notify"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest builds a request Envelope with a fresh correlation ID.
func NewRequest(kind string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: uuid.NewString(), Type: TypeRequest, Kind: kind, Payload: raw}, nil
}

// NewResponse builds a response Envelope correlated to requestID.
func NewResponse(requestID, kind string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: requestID, Type: TypeResponse, Kind: kind, Payload: raw}, nil
}

// NewNotify builds a notify Envelope. Notify envelopes get their own fresh
// ID since they answer no request.
func NewNotify(kind string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: uuid.NewString(), Type: TypeNotify, Kind: kind, Payload: raw}, nil
}

// Decode unmarshals e's Payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
