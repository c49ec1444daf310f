package daemon

import (
	"fmt"
	"sort"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/objectstore"
	"github.com/connectivityfoundry/lwm2m-runtime/optree"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/subscribe"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// PathResult is one target's outcome within a Response: a Value
// (Read/Observe), Attrs (Discover), or a nil Err meaning success with no
// payload (Write/Delete/Execute/WriteAttributes/Create/Define).
type PathResult struct {
	Path     path.Path
	Value    value.Value
	HasValue bool
	Err      *lwm2merr.Error
	// Attrs carries the WriteAttributes currently registered at Path, set
	// only by Discover (the other operations leave it unset).
	Attrs    Attributes
	HasAttrs bool
}

// Response is the outcome of one Handle call: per-target results in
// path-ascending order, plus (for Create) the assigned instance ID.
type Response struct {
	Kind            optree.OperationKind
	Results         []PathResult
	CreatedInstance path.ID
}

// Executor runs an Execute operation's argument payload against
// application logic. Handlers register one per (ObjectID, ResourceID).
type Executor func(args string) error

// NotifyFunc delivers a changed value at p to whatever transport an
// active Observe relation is riding on (a Notify envelope, typically).
type NotifyFunc func(p path.Path, v value.Value)

// Handler implements the daemon-side state machines of §4.7 against one
// client's object store.
type Handler struct {
	store      *objectstore.Store
	registry   *objectdef.Registry
	executors  map[path.Path]Executor
	attributes map[path.Path]Attributes
	engine     *subscribe.Engine
	notify     NotifyFunc
	observed   map[path.Path]subscribe.Handle
}

// Attributes are the WriteAttributes of §6.1/§4.7: pmin/pmax/gt/lt/st, any
// of which may be unset.
type Attributes = optree.Attributes

// NewHandler builds a Handler over store and registry.
func NewHandler(store *objectstore.Store, registry *objectdef.Registry) *Handler {
	return &Handler{
		store:      store,
		registry:   registry,
		executors:  make(map[path.Path]Executor),
		attributes: make(map[path.Path]Attributes),
		engine:     subscribe.New(),
		observed:   make(map[path.Path]subscribe.Handle),
	}
}

// SetNotifier registers fn to be invoked whenever a value changes at a
// path carrying an active Observe relation. A Handler with no notifier
// still tracks Observe/CancelObserve state; it simply never delivers.
func (h *Handler) SetNotifier(fn NotifyFunc) {
	h.notify = fn
}

// RegisterExecutor binds fn to be invoked whenever p (a Resource-depth
// path) is the target of an Execute operation.
func (h *Handler) RegisterExecutor(p path.Path, fn Executor) {
	h.executors[p] = fn
}

// Handle dispatches op to the appropriate per-kind state machine.
func (h *Handler) Handle(op *optree.Operation) (*Response, error) {
	const errOp = "daemon.Handler.Handle"

	if leafCounted(op.Kind) && len(op.Targets) > MaxLeavesPerRequest {
		return nil, lwm2merr.New(errOp, lwm2merr.Unsupported, fmt.Errorf("%s request carries %d targets, limit is %d", op.Kind, len(op.Targets), MaxLeavesPerRequest))
	}

	switch op.Kind {
	case optree.OpRead:
		return h.handleRead(op)
	case optree.OpObserve:
		return h.handleObserve(op)
	case optree.OpWrite:
		return h.handleWrite(op)
	case optree.OpDelete:
		return h.handleDelete(op)
	case optree.OpCancelObserve:
		return h.handleCancelObserve(op)
	case optree.OpExecute:
		return h.handleExecute(op)
	case optree.OpWriteAttributes:
		return h.handleWriteAttributes(op)
	case optree.OpDiscover:
		return h.handleDiscover(op)
	case optree.OpCreate:
		return h.handleCreate(op)
	case optree.OpDefine:
		return h.handleDefine(op)
	default:
		return nil, lwm2merr.New(errOp, lwm2merr.OperationInvalid, fmt.Errorf("unknown operation kind %v", op.Kind))
	}
}

func leafCounted(k optree.OperationKind) bool {
	switch k {
	case optree.OpRead, optree.OpWrite, optree.OpDelete, optree.OpExecute:
		return true
	default:
		return false
	}
}

func (h *Handler) handleRead(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		results, err := h.expandRead(t.Path)
		if err != nil {
			resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
			continue
		}
		resp.Results = append(resp.Results, results...)
	}
	return resp, nil
}

// expandRead turns a target path of any depth into the leaf-level
// PathResults it names, descending through live instances and resources
// in path-ascending order.
func (h *Handler) expandRead(p path.Path) ([]PathResult, error) {
	switch p.Depth() {
	case path.DepthResource, path.DepthResourceInstance:
		v, err := h.store.Get(p)
		if err != nil {
			return nil, err
		}
		return []PathResult{{Path: p, Value: v, HasValue: true}}, nil
	case path.DepthObjectInstance:
		resIDs, err := h.store.ResourceIDs(p)
		if err != nil {
			return nil, err
		}
		var out []PathResult
		for _, resID := range resIDs {
			rp := path.Resource(p.ObjectID(), p.InstanceID(), resID)
			v, err := h.store.Get(rp)
			if err != nil {
				out = append(out, PathResult{Path: rp, Err: asDaemonErr(err)})
				continue
			}
			out = append(out, PathResult{Path: rp, Value: v, HasValue: true})
		}
		return out, nil
	case path.DepthObject:
		var out []PathResult
		for _, instID := range h.store.InstanceIDs(p.ObjectID()) {
			sub, err := h.expandRead(path.ObjectInstance(p.ObjectID(), instID))
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return nil, lwm2merr.New("daemon.expandRead", lwm2merr.OperationInvalid, fmt.Errorf("path %s has no depth", p))
	}
}

func (h *Handler) handleWrite(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		var err error
		if !t.HasValue {
			err = lwm2merr.New("daemon.handleWrite", lwm2merr.OperationInvalid, fmt.Errorf("write target %s carries no value", t.Path))
		} else {
			err = h.store.Set(t.Path, t.Value, objectstore.Replace)
			if err == nil {
				h.engine.NotifyChange(t.Path, t.Value, true)
			}
		}
		resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
	}
	return resp, nil
}

// handleObserve returns the current value at each target, the same as a
// Read, and registers a standing Observe relation so later writes are
// delivered through the Handler's NotifyFunc instead of requiring the
// application to poll.
func (h *Handler) handleObserve(op *optree.Operation) (*Response, error) {
	resp, err := h.handleRead(op)
	if err != nil {
		return nil, err
	}
	for _, t := range op.Targets {
		h.startObserve(t.Path)
	}
	return resp, nil
}

func (h *Handler) startObserve(p path.Path) {
	if _, already := h.observed[p]; already {
		return
	}
	handle, err := h.engine.SubscribeChange(p, func(c subscribe.Change) {
		if c.Kind == subscribe.ChangeKindDelete || h.notify == nil {
			return
		}
		h.notify(p, c.Value)
	}, subscribe.SubscribeOptions{})
	if err != nil {
		return
	}
	h.observed[p] = handle
}

func (h *Handler) handleCancelObserve(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		var err error
		if handle, ok := h.observed[t.Path]; ok {
			err = h.engine.Unsubscribe(handle)
			delete(h.observed, t.Path)
		} else {
			err = lwm2merr.New("daemon.handleCancelObserve", lwm2merr.ObservationInvalid, fmt.Errorf("no active observation at %s", t.Path))
		}
		resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
	}
	return resp, nil
}

func (h *Handler) handleDelete(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		var err error
		switch t.Path.Depth() {
		case path.DepthObjectInstance:
			err = h.store.DeleteInstance(t.Path)
		default:
			err = h.store.DeleteResourceInstance(t.Path)
			if err == nil {
				if v, getErr := h.store.Get(t.Path); getErr == nil {
					h.engine.NotifyChange(t.Path, v, true)
				} else {
					h.engine.NotifyChange(t.Path, value.Value{}, false)
				}
			}
		}
		resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
	}
	return resp, nil
}

func (h *Handler) handleExecute(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		fn, ok := h.executors[t.Path]
		var err error
		if !ok {
			err = lwm2merr.New("daemon.handleExecute", lwm2merr.Unsupported, fmt.Errorf("resource %s is not executable", t.Path))
		} else {
			err = fn(t.Args)
			if err == nil {
				h.engine.NotifyExecute(t.Path, t.Args)
			}
		}
		resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
	}
	return resp, nil
}

// handleDefine registers each target's object definition into the
// Definition Registry, the same idempotent-redefinition semantics
// objectdef.Registry.Define already implements.
func (h *Handler) handleDefine(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		var err error
		if t.Def == nil {
			err = lwm2merr.New("daemon.handleDefine", lwm2merr.OperationInvalid, fmt.Errorf("define target %s carries no object definition", t.Path))
		} else {
			err = h.registry.Define(*t.Def)
		}
		resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
	}
	return resp, nil
}

func (h *Handler) handleWriteAttributes(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		var err error
		if !t.HasAttrs {
			err = lwm2merr.New("daemon.handleWriteAttributes", lwm2merr.OperationInvalid, fmt.Errorf("write_attributes target %s carries no attributes", t.Path))
		} else {
			h.SetAttributes(t.Path, t.Attrs)
		}
		resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
	}
	return resp, nil
}

// SetAttributes records WriteAttributes for p, applied by a prior or
// concurrent handleWriteAttributes call.
func (h *Handler) SetAttributes(p path.Path, attrs Attributes) {
	h.attributes[p] = attrs
}

func (h *Handler) handleDiscover(op *optree.Operation) (*Response, error) {
	resp := &Response{Kind: op.Kind}
	for _, t := range op.Targets {
		var children []path.Path
		switch t.Path.Depth() {
		case path.DepthObject:
			for _, instID := range h.store.InstanceIDs(t.Path.ObjectID()) {
				children = append(children, path.ObjectInstance(t.Path.ObjectID(), instID))
			}
		case path.DepthObjectInstance:
			resIDs, err := h.store.ResourceIDs(t.Path)
			if err != nil {
				resp.Results = append(resp.Results, PathResult{Path: t.Path, Err: asDaemonErr(err)})
				continue
			}
			for _, resID := range resIDs {
				children = append(children, path.Resource(t.Path.ObjectID(), t.Path.InstanceID(), resID))
			}
		}
		sort.Slice(children, func(i, j int) bool { return path.Less(children[i], children[j]) })
		for _, c := range children {
			r := PathResult{Path: c}
			if attrs, ok := h.attributes[c]; ok {
				r.Attrs = attrs
				r.HasAttrs = true
			}
			resp.Results = append(resp.Results, r)
		}
	}
	return resp, nil
}

func (h *Handler) handleCreate(op *optree.Operation) (*Response, error) {
	t := op.Targets[0]
	id, err := h.store.CreateInstance(t.Path.ObjectID(), path.InvalidID, op.CreateInitial)
	if err != nil {
		return &Response{Kind: op.Kind, Results: []PathResult{{Path: t.Path, Err: asDaemonErr(err)}}}, nil
	}
	return &Response{Kind: op.Kind, CreatedInstance: id, Results: []PathResult{{Path: path.ObjectInstance(t.Path.ObjectID(), id)}}}, nil
}

func asDaemonErr(err error) *lwm2merr.Error {
	if err == nil {
		return nil
	}
	var e *lwm2merr.Error
	if lwm2merr.As(err, &e) {
		return e
	}
	return lwm2merr.New("daemon", lwm2merr.Internal, err)
}
