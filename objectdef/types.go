// Package objectdef implements the Definition Registry (component C3): the
// catalogue of Object and Resource definitions an application must supply
// before the object store will accept instances of them.
package objectdef

import (
	"fmt"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// Operations is a bitmask of the operations a resource permits.
type Operations uint8

const (
	OpRead Operations = 1 << iota
	OpWrite
	OpExecute
)

func (o Operations) Has(op Operations) bool { return o&op != 0 }

// ResourceDefinition describes one Resource within an Object: its wire
// type, cardinality, and the operations it permits. MinInstances/
// MaxInstances are §3.1's numeric cardinality bounds: MaxInstances=1
// means a scalar resource, MaxInstances>1 means an array resource capped
// at that many ResourceInstances, and MinInstances>0 on a mandatory
// resource means at least that many elements (or the singleton, for
// MaxInstances=1) must exist on every live instance.
type ResourceDefinition struct {
	ID           path.ID
	Name         string
	Kind         value.Kind
	MinInstances uint16
	MaxInstances uint16
	Operations   Operations
	// Default is used when an instance is created without this resource
	// being supplied explicitly, and when a mandatory resource is
	// Deleted (reset-to-default rather than removed).
	Default    value.Value
	HasDefault bool
}

// Mandatory reports whether every live Object Instance must carry this
// resource, i.e. MinInstances is at least 1.
func (r ResourceDefinition) Mandatory() bool { return r.MinInstances >= 1 }

// Multiple reports whether this resource is array-valued (more than one
// ResourceInstance may exist).
func (r ResourceDefinition) Multiple() bool { return r.MaxInstances > 1 }

// ObjectDefinition describes one LwM2M Object: its identity, instance
// cardinality bounds, and its resource schema. MinInstances/MaxInstances
// are §3.1's numeric bounds: MaxInstances=1 means a single-instance
// object, MinInstances>0 means the object is mandatory (at least that
// many instances must exist at all times).
type ObjectDefinition struct {
	ID           path.ID
	Name         string
	MinInstances uint16
	MaxInstances uint16
	Resources    map[path.ID]ResourceDefinition
}

// Mandatory reports whether at least one instance of this object must
// always exist, i.e. MinInstances is at least 1.
func (o ObjectDefinition) Mandatory() bool { return o.MinInstances >= 1 }

// Multiple reports whether more than one instance of this object may
// exist at once.
func (o ObjectDefinition) Multiple() bool { return o.MaxInstances > 1 }

// Resource looks up a resource definition by ID within o.
func (o ObjectDefinition) Resource(id path.ID) (ResourceDefinition, bool) {
	r, ok := o.Resources[id]
	return r, ok
}

// validateCardinality enforces spec.md §3.1's `min ≤ max`, `max ≥ 1` rule
// on an ObjectDefinition and every ResourceDefinition it carries, so an
// invalid bound is rejected at Define time rather than silently ignored
// later by the store.
func validateCardinality(op string, def ObjectDefinition) error {
	if def.MaxInstances < 1 {
		return lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("object %d: max_instances must be at least 1", def.ID))
	}
	if def.MinInstances > def.MaxInstances {
		return lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("object %d: min_instances %d exceeds max_instances %d", def.ID, def.MinInstances, def.MaxInstances))
	}
	for id, res := range def.Resources {
		if res.MaxInstances < 1 {
			return lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("object %d resource %d: max_instances must be at least 1", def.ID, id))
		}
		if res.MinInstances > res.MaxInstances {
			return lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("object %d resource %d: min_instances %d exceeds max_instances %d", def.ID, id, res.MinInstances, res.MaxInstances))
		}
	}
	return nil
}

// equalDefinition reports whether two ObjectDefinitions are identical in
// the sense spec.md §4.3 requires to silently accept a repeated Define
// rather than return AlreadyDefined: same fields, same resource set.
func equalDefinition(a, b ObjectDefinition) bool {
	if a.ID != b.ID || a.Name != b.Name || a.MinInstances != b.MinInstances || a.MaxInstances != b.MaxInstances {
		return false
	}
	if len(a.Resources) != len(b.Resources) {
		return false
	}
	for id, ar := range a.Resources {
		br, ok := b.Resources[id]
		if !ok || !equalResource(ar, br) {
			return false
		}
	}
	return true
}

func equalResource(a, b ResourceDefinition) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Kind != b.Kind ||
		a.MinInstances != b.MinInstances || a.MaxInstances != b.MaxInstances ||
		a.Operations != b.Operations || a.HasDefault != b.HasDefault {
		return false
	}
	if a.HasDefault && !value.Equal(a.Default, b.Default) {
		return false
	}
	return true
}
