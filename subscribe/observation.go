package subscribe

import (
	"fmt"
	"sync"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
)

// Observation is a server-side LwM2M Observe relation against one
// registered client's path, identified by the RequestID the client's
// Observe request carried (§9's map[RequestID]Subscription guidance) so
// a CancelObserve or an expiring registration can tear down the matching
// relation without scanning every path.
type Observation struct {
	RequestID string
	ClientID  string
	Path      path.Path
}

// ObservationTable tracks active Observe relations for a server daemon,
// independent of Engine's in-process change callbacks: an Observation's
// notifications travel over the wire (ipc Notify envelopes) rather than
// an in-process function call.
type ObservationTable struct {
	mu        sync.Mutex
	byRequest map[string]*Observation
	byClient  map[string]map[string]*Observation
}

// NewObservationTable creates an empty table.
func NewObservationTable() *ObservationTable {
	return &ObservationTable{
		byRequest: make(map[string]*Observation),
		byClient:  make(map[string]map[string]*Observation),
	}
}

// Add registers a new Observe relation.
func (t *ObservationTable) Add(o Observation) error {
	const op = "subscribe.ObservationTable.Add"
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byRequest[o.RequestID]; exists {
		return lwm2merr.New(op, lwm2merr.AlreadySubscribed, fmt.Errorf("request %s already observing", o.RequestID))
	}
	obs := o
	t.byRequest[o.RequestID] = &obs
	if t.byClient[o.ClientID] == nil {
		t.byClient[o.ClientID] = make(map[string]*Observation)
	}
	t.byClient[o.ClientID][o.RequestID] = &obs
	return nil
}

// Cancel removes the Observe relation identified by requestID.
func (t *ObservationTable) Cancel(requestID string) error {
	const op = "subscribe.ObservationTable.Cancel"
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byRequest[requestID]
	if !ok {
		return lwm2merr.New(op, lwm2merr.ObservationInvalid, fmt.Errorf("no observation for request %s", requestID))
	}
	delete(t.byRequest, requestID)
	delete(t.byClient[o.ClientID], requestID)
	if len(t.byClient[o.ClientID]) == 0 {
		delete(t.byClient, o.ClientID)
	}
	return nil
}

// CancelClient removes every Observe relation belonging to clientID —
// used when a registration expires or the client deregisters.
func (t *ObservationTable) CancelClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for reqID := range t.byClient[clientID] {
		delete(t.byRequest, reqID)
	}
	delete(t.byClient, clientID)
}

// ForPath returns the active Observations covering p for clientID, the
// set a NOTIFY delivered from that client's Update/reporting path should
// fan out to.
func (t *ObservationTable) ForPath(clientID string, p path.Path) []Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Observation
	for _, o := range t.byClient[clientID] {
		if o.Path == p {
			out = append(out, *o)
		}
	}
	return out
}
