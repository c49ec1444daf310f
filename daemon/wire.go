package daemon

import (
	"fmt"
	"strconv"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/optree"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// WireTarget is the JSON-over-IPC rendering of an optree.Target: the
// envelope payload format this daemon's StreamTransport/WebSocketTransport
// connections actually carry, chosen (per spec.md's explicit non-mandate
// on wire encoding) as JSON over the original implementation's tag/value
// framing, matching the rest of the ipc package's Envelope encoding.
type WireTarget struct {
	Path     string                      `json:"path"`
	Value    *value.Value                `json:"value,omitempty"`
	HasValue bool                        `json:"hasValue,omitempty"`
	Args     string                      `json:"args,omitempty"`
	Attrs    *optree.Attributes          `json:"attrs,omitempty"`
	Def      *objectdef.ObjectDefinition `json:"def,omitempty"`
}

// WireOperation is the JSON rendering of an optree.Operation.
type WireOperation struct {
	Kind          string                 `json:"kind"`
	Targets       []WireTarget           `json:"targets"`
	CreateInitial map[string]value.Value `json:"createInitial,omitempty"`
}

var operationKindNames = map[string]optree.OperationKind{
	"read":             optree.OpRead,
	"write":            optree.OpWrite,
	"execute":          optree.OpExecute,
	"delete":           optree.OpDelete,
	"write_attributes": optree.OpWriteAttributes,
	"observe":          optree.OpObserve,
	"cancel_observe":   optree.OpCancelObserve,
	"discover":         optree.OpDiscover,
	"create":           optree.OpCreate,
	"define":           optree.OpDefine,
}

// ParseOperationKind resolves a wire-form kind string to its
// optree.OperationKind, the same lookup ToOperation uses, exported so
// callers that only need the kind (not a full built Operation) don't
// have to re-derive the table.
func ParseOperationKind(kind string) (optree.OperationKind, bool) {
	k, ok := operationKindNames[kind]
	return k, ok
}

// ToOperation parses w into a built, validated optree.Operation.
func (w WireOperation) ToOperation() (*optree.Operation, error) {
	const op = "daemon.WireOperation.ToOperation"
	kind, ok := operationKindNames[w.Kind]
	if !ok {
		return nil, lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("unknown operation kind %q", w.Kind))
	}

	b := optree.NewBuilder(kind)
	for _, t := range w.Targets {
		if kind == optree.OpDefine {
			if t.Def == nil {
				return nil, lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("define target carries no object definition"))
			}
			if err := b.AddDefine(*t.Def); err != nil {
				return nil, err
			}
			continue
		}
		p, err := path.Parse(t.Path)
		if err != nil {
			return nil, err
		}
		switch {
		case kind == optree.OpExecute:
			if err := b.AddExecute(p, t.Args); err != nil {
				return nil, err
			}
		case kind == optree.OpWriteAttributes && t.Attrs != nil:
			if err := b.AddAttributes(p, *t.Attrs); err != nil {
				return nil, err
			}
		case t.HasValue && t.Value != nil:
			if err := b.AddValue(p, *t.Value); err != nil {
				return nil, err
			}
		default:
			if err := b.Add(p); err != nil {
				return nil, err
			}
		}
	}

	if len(w.CreateInitial) > 0 {
		initial := make(map[path.ID]value.Value, len(w.CreateInitial))
		for k, v := range w.CreateInitial {
			id, err := strconv.ParseUint(k, 10, 16)
			if err != nil {
				return nil, lwm2merr.New(op, lwm2merr.PathInvalid,fmt.Errorf("create initial key %q: %w", k, err))
			}
			initial[path.ID(id)] = v
		}
		if err := b.SetCreateInitial(initial); err != nil {
			return nil, err
		}
	}

	return b.Build()
}

// WireResult is the JSON rendering of a PathResult.
type WireResult struct {
	Path     string             `json:"path"`
	Value    *value.Value       `json:"value,omitempty"`
	HasValue bool               `json:"hasValue,omitempty"`
	Err      string             `json:"error,omitempty"`
	Attrs    *optree.Attributes `json:"attrs,omitempty"`
}

// WireResponse is the JSON rendering of a Response.
type WireResponse struct {
	Kind            string       `json:"kind"`
	Results         []WireResult `json:"results"`
	CreatedInstance *uint16      `json:"createdInstance,omitempty"`
}

// WireNotify is the JSON rendering of a value change delivered to an
// Observe relation, carried as a TypeNotify envelope's payload.
type WireNotify struct {
	Path  string      `json:"path"`
	Value value.Value `json:"value"`
}

// EncodeNotify renders a change at p to v as its wire form.
func EncodeNotify(p path.Path, v value.Value) WireNotify {
	return WireNotify{Path: p.String(), Value: v}
}

// EncodeResponse renders resp as its wire form.
func EncodeResponse(resp *Response) WireResponse {
	out := WireResponse{Kind: resp.Kind.String(), Results: make([]WireResult, 0, len(resp.Results))}
	for _, r := range resp.Results {
		wr := WireResult{Path: r.Path.String(), HasValue: r.HasValue}
		if r.HasValue {
			v := r.Value
			wr.Value = &v
		}
		if r.HasAttrs {
			a := r.Attrs
			wr.Attrs = &a
		}
		if r.Err != nil {
			wr.Err = r.Err.Error()
		}
		out.Results = append(out.Results, wr)
	}
	if resp.Kind == optree.OpCreate {
		id := uint16(resp.CreatedInstance)
		out.CreatedInstance = &id
	}
	return out
}
