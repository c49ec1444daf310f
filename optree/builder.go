package optree

import (
	"fmt"
	"sort"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// OperationKind names one of the operations an application can build a
// request for (§4.5, §4.7).
type OperationKind int

const (
	OpRead OperationKind = iota
	OpWrite
	OpExecute
	OpDelete
	OpWriteAttributes
	OpObserve
	OpCancelObserve
	OpDiscover
	OpCreate
	OpDefine
)

func (k OperationKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpExecute:
		return "execute"
	case OpDelete:
		return "delete"
	case OpWriteAttributes:
		return "write_attributes"
	case OpObserve:
		return "observe"
	case OpCancelObserve:
		return "cancel_observe"
	case OpDiscover:
		return "discover"
	case OpCreate:
		return "create"
	case OpDefine:
		return "define"
	default:
		return "unknown"
	}
}

// allowedDepths is the target validation table of §4.5: which Path depths
// each operation kind may address.
var allowedDepths = map[OperationKind]map[path.Depth]bool{
	OpRead:            {path.DepthObject: true, path.DepthObjectInstance: true, path.DepthResource: true, path.DepthResourceInstance: true},
	OpWrite:           {path.DepthObjectInstance: true, path.DepthResource: true, path.DepthResourceInstance: true},
	OpExecute:         {path.DepthResource: true},
	OpDelete:          {path.DepthObjectInstance: true, path.DepthResource: true, path.DepthResourceInstance: true},
	OpWriteAttributes: {path.DepthObject: true, path.DepthObjectInstance: true, path.DepthResource: true},
	OpObserve:         {path.DepthObjectInstance: true, path.DepthResource: true, path.DepthResourceInstance: true},
	OpCancelObserve:   {path.DepthObjectInstance: true, path.DepthResource: true, path.DepthResourceInstance: true},
	OpDiscover:        {path.DepthObject: true, path.DepthObjectInstance: true},
	OpCreate:          {path.DepthObject: true},
	OpDefine:          {path.DepthObject: true},
}

// Attributes are the Notification Attributes of §4.7: pmin/pmax/gt/lt/st,
// any of which may be unset, carried by a WriteAttributes target.
type Attributes struct {
	PMin *int
	PMax *int
	GT   *float64
	LT   *float64
	ST   *float64
}

// Target is one (Path, optional Value) pair added to a Builder. Value is
// only meaningful for Write and Create targets; Attrs is only meaningful
// for WriteAttributes targets.
type Target struct {
	Path     path.Path
	Value    value.Value
	HasValue bool
	Args     string // Execute argument payload, opaque to optree
	Attrs    Attributes
	HasAttrs bool
	Def      *objectdef.ObjectDefinition // only meaningful for Define targets
}

// Operation is the built, immutable request an application hands to the
// request/response pipeline.
type Operation struct {
	Kind    OperationKind
	Targets []Target
	// CreateInitial carries the initial resource values for an OpCreate
	// operation's single Object target, keyed by ResourceID. It exists
	// because a new instance has no InstanceID to address its resources
	// by until the daemon assigns one.
	CreateInitial map[path.ID]value.Value
}

// Builder accumulates targets for one operation kind, validating each
// against the target validation table before it is accepted — the app-side
// contract of §4.5: validate shape locally, fail fast with OperationInvalid
// rather than waiting for a daemon round trip.
type Builder struct {
	kind          OperationKind
	targets       []Target
	createInitial map[path.ID]value.Value
}

// NewBuilder starts building an operation of kind.
func NewBuilder(kind OperationKind) *Builder {
	return &Builder{kind: kind}
}

// Add adds a target path with no associated value (Read, Delete, Execute
// without arguments, Observe, CancelObserve, Discover, Create-of-default).
func (b *Builder) Add(p path.Path) error {
	if err := validateTarget(b.kind, p); err != nil {
		return err
	}
	b.targets = append(b.targets, Target{Path: p})
	return nil
}

// AddExecute adds an Execute target carrying an opaque argument payload.
func (b *Builder) AddExecute(p path.Path, args string) error {
	if err := validateTarget(b.kind, p); err != nil {
		return err
	}
	if b.kind != OpExecute {
		return lwm2merr.New("optree.Builder.AddExecute", lwm2merr.OperationInvalid, fmt.Errorf("builder is not building an execute operation"))
	}
	b.targets = append(b.targets, Target{Path: p, Args: args})
	return nil
}

// AddValue adds a target path carrying a value (Write, or Create with
// initial resource values).
func (b *Builder) AddValue(p path.Path, v value.Value) error {
	if err := validateTarget(b.kind, p); err != nil {
		return err
	}
	if b.kind != OpWrite && b.kind != OpCreate {
		return lwm2merr.New("optree.Builder.AddValue", lwm2merr.OperationInvalid, fmt.Errorf("%s targets do not carry values", b.kind))
	}
	b.targets = append(b.targets, Target{Path: p, Value: v, HasValue: true})
	return nil
}

// AddAttributes adds a WriteAttributes target carrying the notification
// attributes to apply at p.
func (b *Builder) AddAttributes(p path.Path, attrs Attributes) error {
	if err := validateTarget(b.kind, p); err != nil {
		return err
	}
	if b.kind != OpWriteAttributes {
		return lwm2merr.New("optree.Builder.AddAttributes", lwm2merr.OperationInvalid, fmt.Errorf("%s targets do not carry attributes", b.kind))
	}
	b.targets = append(b.targets, Target{Path: p, Attrs: attrs, HasAttrs: true})
	return nil
}

// AddDefine adds a Define target registering def into the Definition
// Registry (component C3). The target path addresses def's own Object,
// so a single Define operation carries exactly one object definition.
func (b *Builder) AddDefine(def objectdef.ObjectDefinition) error {
	p := path.Object(def.ID)
	if err := validateTarget(b.kind, p); err != nil {
		return err
	}
	if b.kind != OpDefine {
		return lwm2merr.New("optree.Builder.AddDefine", lwm2merr.OperationInvalid, fmt.Errorf("%s targets do not carry object definitions", b.kind))
	}
	b.targets = append(b.targets, Target{Path: p, Def: &def})
	return nil
}

// SetCreateInitial attaches the initial resource values an OpCreate
// operation's new instance should be populated with.
func (b *Builder) SetCreateInitial(values map[path.ID]value.Value) error {
	if b.kind != OpCreate {
		return lwm2merr.New("optree.Builder.SetCreateInitial", lwm2merr.OperationInvalid, fmt.Errorf("only create operations carry initial resource values"))
	}
	b.createInitial = values
	return nil
}

// Build finalizes the operation. At least one target is required.
func (b *Builder) Build() (*Operation, error) {
	const op = "optree.Builder.Build"
	if len(b.targets) == 0 {
		return nil, lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("operation has no targets"))
	}
	if b.kind == OpCreate && len(b.targets) != 1 {
		return nil, lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("create operations target exactly one object"))
	}
	targets := append([]Target(nil), b.targets...)
	sort.Slice(targets, func(i, j int) bool { return path.Less(targets[i].Path, targets[j].Path) })
	return &Operation{Kind: b.kind, Targets: targets, CreateInitial: b.createInitial}, nil
}

func validateTarget(kind OperationKind, p path.Path) error {
	const op = "optree.validateTarget"
	allowed, ok := allowedDepths[kind]
	if !ok || !allowed[p.Depth()] {
		return lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("%s does not permit a target at path %s", kind, p))
	}
	return nil
}
