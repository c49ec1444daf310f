// Package daemon implements the Daemon Request Handlers (component C7):
// the per-operation-kind state machines that turn an incoming request
// Envelope into an effect on an objectstore.Store and a response Envelope,
// plus the client registry a server-side daemon keeps.
package daemon

import (
	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
)

// MaxLeavesPerRequest bounds how many leaf targets a single Read, Write,
// Delete, or Execute request may carry (§4.7). This is the "leaf-count
// policy" spec.md §9 leaves as an open question about permanence; it is
// implemented here as a configurable constant specifically so lifting the
// restriction later is a one-line change rather than a rewrite.
var MaxLeavesPerRequest = 1

// ClassifyCoAPFailure maps a CoAP response code observed on the wire to
// the ErrorKind a daemon handler should surface to its application, per
// §4.7's failure classification: 2.xx is success (not an error at all,
// callers should not reach this function for those), 4.xx maps through
// CoAPCodeToLWM2M, and 5.xx always becomes LWM2MError{ServerError}.
func ClassifyCoAPFailure(coapCode int) *lwm2merr.Error {
	const op = "daemon.ClassifyCoAPFailure"
	return lwm2merr.NewLWM2M(op, lwm2merr.CoAPCodeToLWM2M(coapCode), nil)
}
