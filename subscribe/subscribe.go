// Package subscribe implements the Subscription & Observation Engine
// (component C8): client-side ChangeSubscription/ExecuteSubscription
// callbacks and server-side Observation relations, dispatched through the
// same single-threaded cooperative model as the request/response
// pipeline — callbacks only ever run inside a caller's own Process call,
// never on a background goroutine the caller didn't start.
package subscribe

import (
	"fmt"
	"sync"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// ChangeKind classifies why a ChangeSubscription callback fired.
type ChangeKind int

const (
	ChangeKindAdd ChangeKind = iota
	ChangeKindModify
	ChangeKindDelete
	// ChangeKindCurrent fires exactly once per subscription, synchronously
	// at Subscribe time, when SubscribeOptions.EmitCurrent and HasCurrent
	// are both set — priming
	// a newly-subscribed caller with the value a change subscription would
	// otherwise make it wait for. It is never folded into the ordinary
	// Add/Modify/Delete stream; EmitCurrent delivery happens before
	// Subscribe returns, not via a later Dispatch.
	ChangeKindCurrent
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeKindAdd:
		return "add"
	case ChangeKindModify:
		return "modify"
	case ChangeKindDelete:
		return "delete"
	case ChangeKindCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// Change is one notification delivered to a ChangeSubscription callback.
type Change struct {
	Path  path.Path
	Kind  ChangeKind
	Value value.Value
}

// ChangeCallback observes value changes at a subscribed path.
type ChangeCallback func(Change)

// ExecuteCallback observes an Execute operation performed on a subscribed
// resource path.
type ExecuteCallback func(p path.Path, args string)

// SubscribeOptions configures a new ChangeSubscription.
type SubscribeOptions struct {
	// EmitCurrent requests a synchronous ChangeKindCurrent callback,
	// carrying Current, at Subscribe time; it has no effect unless
	// HasCurrent is also set.
	EmitCurrent bool
	Current     value.Value
	HasCurrent  bool
}

type subscription struct {
	generation uint64
	path       path.Path
	changeFn   ChangeCallback
	executeFn  ExecuteCallback
	lastValue  value.Value
	hasLast    bool
}

// Engine is the single subscription table of one in-process LwM2M
// endpoint, covering both client-side ChangeSubscription/
// ExecuteSubscription and server-side Observation relations — they share
// one dispatch mechanism because both are "notify this callback when
// this path changes."
type Engine struct {
	mu         sync.Mutex
	nextGen    uint64
	byPath     map[path.Path][]*subscription
	generation map[uint64]*subscription
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		byPath:     make(map[path.Path][]*subscription),
		generation: make(map[uint64]*subscription),
	}
}

// Handle identifies a subscription for later Unsubscribe, valid only for
// the Engine that issued it. It embeds a generation counter so a stale
// Handle from an already-unsubscribed or replaced subscription is
// rejected rather than silently operating on whatever now occupies its
// slot — the callback-after-free hazard the single-threaded cooperative
// model is otherwise exposed to.
type Handle struct {
	generation uint64
	path       path.Path
}

// SubscribeChange registers fn to be called on every Change at p. If
// opts.EmitCurrent and opts.HasCurrent are both set, fn is invoked once
// synchronously before
// SubscribeChange returns, with Kind ChangeKindCurrent.
func (e *Engine) SubscribeChange(p path.Path, fn ChangeCallback, opts SubscribeOptions) (Handle, error) {
	const op = "subscribe.Engine.SubscribeChange"
	if fn == nil {
		return Handle{}, lwm2merr.New(op, lwm2merr.SubscriptionInvalid, fmt.Errorf("change callback is nil"))
	}

	e.mu.Lock()
	e.nextGen++
	gen := e.nextGen
	sub := &subscription{generation: gen, path: p, changeFn: fn}
	if opts.HasCurrent {
		sub.lastValue = opts.Current
		sub.hasLast = true
	}
	e.byPath[p] = append(e.byPath[p], sub)
	e.generation[gen] = sub
	e.mu.Unlock()

	if opts.EmitCurrent && opts.HasCurrent {
		fn(Change{Path: p, Kind: ChangeKindCurrent, Value: opts.Current})
	}

	return Handle{generation: gen, path: p}, nil
}

// SubscribeExecute registers fn to be called whenever p is the target of
// an Execute operation.
func (e *Engine) SubscribeExecute(p path.Path, fn ExecuteCallback) (Handle, error) {
	const op = "subscribe.Engine.SubscribeExecute"
	if fn == nil {
		return Handle{}, lwm2merr.New(op, lwm2merr.SubscriptionInvalid, fmt.Errorf("execute callback is nil"))
	}

	e.mu.Lock()
	e.nextGen++
	gen := e.nextGen
	sub := &subscription{generation: gen, path: p, executeFn: fn}
	e.byPath[p] = append(e.byPath[p], sub)
	e.generation[gen] = sub
	e.mu.Unlock()

	return Handle{generation: gen, path: p}, nil
}

// Unsubscribe removes the subscription h identifies. A Handle already
// unsubscribed, or one whose generation has been superseded, yields
// SubscriptionInvalid rather than silently succeeding.
func (e *Engine) Unsubscribe(h Handle) error {
	const op = "subscribe.Engine.Unsubscribe"
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.generation[h.generation]
	if !ok {
		return lwm2merr.New(op, lwm2merr.SubscriptionInvalid, fmt.Errorf("subscription already removed"))
	}
	delete(e.generation, h.generation)

	subs := e.byPath[h.path]
	for i, s := range subs {
		if s == sub {
			e.byPath[h.path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(e.byPath[h.path]) == 0 {
		delete(e.byPath, h.path)
	}
	return nil
}

// NotifyChange delivers a value change at p to every ChangeSubscription
// covering it, computing ChangeKind from each subscription's own
// last-notified state (so two subscribers at the same path with
// different subscribe times can legitimately see different Kinds for the
// same write, e.g. an earlier subscriber sees Modify while one that
// subscribed after the previous write sees Add).
func (e *Engine) NotifyChange(p path.Path, newValue value.Value, present bool) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.byPath[p]...)
	deliveries := make([]Change, 0, len(subs))
	fns := make([]ChangeCallback, 0, len(subs))
	for _, sub := range subs {
		if sub.changeFn == nil {
			continue
		}
		kind := changeKind(sub.hasLast, present)
		if present {
			sub.lastValue = newValue
			sub.hasLast = true
		} else {
			sub.hasLast = false
		}
		deliveries = append(deliveries, Change{Path: p, Kind: kind, Value: newValue})
		fns = append(fns, sub.changeFn)
	}
	e.mu.Unlock()

	for i, ch := range deliveries {
		if fns[i] != nil {
			fns[i](ch)
		}
	}
}

func changeKind(hadLast, present bool) ChangeKind {
	switch {
	case !hadLast && present:
		return ChangeKindAdd
	case hadLast && !present:
		return ChangeKindDelete
	default:
		return ChangeKindModify
	}
}

// NotifyExecute delivers an Execute invocation at p to every
// ExecuteSubscription covering it.
func (e *Engine) NotifyExecute(p path.Path, args string) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.byPath[p]...)
	e.mu.Unlock()

	for _, sub := range subs {
		if sub.executeFn != nil {
			sub.executeFn(p, args)
		}
	}
}

// Count returns how many subscriptions currently cover p, for tests and
// diagnostics.
func (e *Engine) Count(p path.Path) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byPath[p])
}
