// Package lwm2merr defines the error taxonomy shared by every layer of the
// runtime, from path parsing up through the daemon request handlers. A
// PathResult always carries one of these kinds rather than a bare error
// string, so applications can switch on outcome instead of parsing text.
package lwm2merr

import "fmt"

// Kind enumerates the error categories a PathResult or operation-level
// failure can carry.
type Kind string

const (
	// Infrastructural
	Unspecified Kind = "unspecified"
	Internal    Kind = "internal"
	OutOfMemory Kind = "out_of_memory"
	IPCError    Kind = "ipc_error"

	// Session
	SessionInvalid      Kind = "session_invalid"
	SessionNotConnected Kind = "session_not_connected"

	// Operation shape
	OperationInvalid Kind = "operation_invalid"
	AddInvalid       Kind = "add_invalid"
	ResponseInvalid  Kind = "response_invalid"
	RangeInvalid     Kind = "range_invalid"

	// Definition
	NotDefined        Kind = "not_defined"
	AlreadyDefined    Kind = "already_defined"
	DefinitionInvalid Kind = "definition_invalid"

	// Path / identity
	PathInvalid  Kind = "path_invalid"
	PathNotFound Kind = "path_not_found"
	IDInvalid    Kind = "id_invalid"

	// Type
	TypeMismatch Kind = "type_mismatch"
	Overrun      Kind = "overrun"

	// Access
	CannotCreate Kind = "cannot_create"
	CannotDelete Kind = "cannot_delete"

	// Subscription
	AlreadySubscribed   Kind = "already_subscribed"
	SubscriptionInvalid Kind = "subscription_invalid"
	ObservationInvalid  Kind = "observation_invalid"

	// Client identity
	ClientIDInvalid Kind = "client_id_invalid"
	ClientNotFound  Kind = "client_not_found"

	// Protocol (LwM2M) — carried via Error.LWM2M, Kind is always LWM2MError
	LWM2MError Kind = "lwm2m_error"

	// Other
	Timeout         Kind = "timeout"
	Unsupported     Kind = "unsupported"
	IteratorInvalid Kind = "iterator_invalid"
	Response        Kind = "response"
	LogLevelInvalid Kind = "log_level_invalid"
)

// LWM2MKind enumerates the protocol-level sub-kinds carried alongside
// Kind == LWM2MError, mapped from CoAP 4.xx/5.xx response codes.
type LWM2MKind string

const (
	BadRequest       LWM2MKind = "bad_request"
	Unauthorized     LWM2MKind = "unauthorized"
	NotFound         LWM2MKind = "not_found"
	MethodNotAllowed LWM2MKind = "method_not_allowed"
	NotAcceptable    LWM2MKind = "not_acceptable"
	ProtocolTimeout  LWM2MKind = "timeout"
	ServerError      LWM2MKind = "server_error"
)

// Error is the concrete error type that crosses every component boundary in
// the runtime. It satisfies the standard error interface and Unwrap so
// %w-wrapped causes remain inspectable with errors.Is/As.
type Error struct {
	Kind Kind
	// LWM2M is populated only when Kind == LWM2MError.
	LWM2M LWM2MKind
	// Op names the operation or component that raised the error
	// (e.g. "path.Parse", "objectstore.CreateInstance").
	Op string
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Kind == LWM2MError {
		if e.Err != nil {
			return fmt.Sprintf("%s: lwm2m error %s: %v", e.Op, e.LWM2M, e.Err)
		}
		return fmt.Sprintf("%s: lwm2m error %s", e.Op, e.LWM2M)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind for op, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// NewLWM2M builds an Error carrying an LWM2M protocol sub-kind.
func NewLWM2M(op string, lwm2m LWM2MKind, cause error) *Error {
	return &Error{Op: op, Kind: LWM2MError, LWM2M: lwm2m, Err: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// Unspecified otherwise.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Unspecified
}

// As is a narrow local errors.As to avoid importing errors just for this.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
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

// CoAPCodeToLWM2M maps a CoAP response code class to an LWM2MKind, per
// §7/§4.7: 4.xx maps to a specific kind, 5.xx always maps to ServerError.
func CoAPCodeToLWM2M(code int) LWM2MKind {
	switch code {
	case 400:
		return BadRequest
	case 401, 403:
		return Unauthorized
	case 404:
		return NotFound
	case 405:
		return MethodNotAllowed
	case 406:
		return NotAcceptable
	default:
		switch {
		case code >= 500:
			return ServerError
		case code >= 400:
			return BadRequest
		default:
			return ServerError
		}
	}
}
