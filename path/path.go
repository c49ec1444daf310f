// Package path implements the LwM2M path and identifier algebra (component
// C1): parsing and rendering of canonical path strings, and the numeric
// identifiers addressed by them.
package path

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
)

// ID is the numeric identifier type shared by every addressing level.
type ID = uint16

// InvalidID is the sentinel value meaning "no identifier at this level".
const InvalidID ID = 0xFFFF

// Depth identifies how many levels of the hierarchy a Path addresses.
type Depth int

const (
	DepthObject Depth = iota + 1
	DepthObjectInstance
	DepthResource
	DepthResourceInstance
)

// Path is an immutable, canonical four-level LwM2M address:
// /ObjectID[/ObjectInstanceID[/ResourceID[/ResourceInstanceID]]].
// A Path is a value type; once constructed it never mutates.
type Path struct {
	object           ID
	instance         ID
	resource         ID
	resourceInstance ID
	depth            Depth
}

// Object constructs a Path naming only an Object.
func Object(objectID ID) Path {
	return Path{object: objectID, instance: InvalidID, resource: InvalidID, resourceInstance: InvalidID, depth: DepthObject}
}

// ObjectInstance constructs a Path naming an Object Instance.
func ObjectInstance(objectID, instanceID ID) Path {
	return Path{object: objectID, instance: instanceID, resource: InvalidID, resourceInstance: InvalidID, depth: DepthObjectInstance}
}

// Resource constructs a Path naming a Resource.
func Resource(objectID, instanceID, resourceID ID) Path {
	return Path{object: objectID, instance: instanceID, resource: resourceID, resourceInstance: InvalidID, depth: DepthResource}
}

// ResourceInstance constructs a Path naming a Resource Instance.
func ResourceInstance(objectID, instanceID, resourceID, resourceInstanceID ID) Path {
	return Path{object: objectID, instance: instanceID, resource: resourceID, resourceInstance: resourceInstanceID, depth: DepthResourceInstance}
}

// Depth reports how many levels of the hierarchy p addresses.
func (p Path) Depth() Depth { return p.depth }

// ObjectID returns the Object identifier. Valid at every depth.
func (p Path) ObjectID() ID { return p.object }

// InstanceID returns the Object Instance identifier, or InvalidID if p does
// not address an instance or deeper.
func (p Path) InstanceID() ID { return p.instance }

// ResourceID returns the Resource identifier, or InvalidID if p does not
// address a resource or deeper.
func (p Path) ResourceID() ID { return p.resource }

// ResourceInstanceID returns the Resource Instance identifier, or
// InvalidID if p does not address a resource instance.
func (p Path) ResourceInstanceID() ID { return p.resourceInstance }

// IsValidFor reports whether p's depth matches the expected depth exactly —
// the is_valid_for check of spec.md §4.1, used by operation validation to
// reject e.g. an Object-only path targeting a Write.
func (p Path) IsValidFor(want Depth) bool { return p.depth == want }

// String renders p in canonical form, e.g. "/3/0/1".
func (p Path) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "/%d", p.object)
	if p.depth >= DepthObjectInstance {
		fmt.Fprintf(&b, "/%d", p.instance)
	}
	if p.depth >= DepthResource {
		fmt.Fprintf(&b, "/%d", p.resource)
	}
	if p.depth >= DepthResourceInstance {
		fmt.Fprintf(&b, "/%d", p.resourceInstance)
	}
	return b.String()
}

// Parent returns the Path one level shallower than p, and false if p is
// already an Object-only path.
func (p Path) Parent() (Path, bool) {
	switch p.depth {
	case DepthObject:
		return Path{}, false
	case DepthObjectInstance:
		return Object(p.object), true
	case DepthResource:
		return ObjectInstance(p.object, p.instance), true
	case DepthResourceInstance:
		return Resource(p.object, p.instance, p.resource), true
	default:
		return Path{}, false
	}
}

// Parse parses a canonical path string ("/3", "/3/0", "/3/0/1", "/3/0/1/2")
// into a Path. Leading/trailing slashes beyond the canonical single leading
// slash, empty segments, non-numeric segments, and more than four segments
// all yield PathInvalid.
func Parse(s string) (Path, error) {
	const op = "path.Parse"
	if s == "" || s[0] != '/' {
		return Path{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("path %q must start with '/'", s))
	}
	trimmed := s[1:]
	if trimmed == "" {
		return Path{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("path %q has no segments", s))
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) > 4 {
		return Path{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("path %q has more than 4 segments", s))
	}

	ids := make([]ID, len(segments))
	for i, seg := range segments {
		if seg == "" {
			return Path{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("path %q has an empty segment", s))
		}
		n, err := strconv.ParseUint(seg, 10, 16)
		if err != nil {
			return Path{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("segment %q is not a valid identifier", seg))
		}
		if ID(n) == InvalidID {
			return Path{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("segment %q is the reserved invalid id", seg))
		}
		ids[i] = ID(n)
	}

	switch len(ids) {
	case 1:
		return Object(ids[0]), nil
	case 2:
		return ObjectInstance(ids[0], ids[1]), nil
	case 3:
		return Resource(ids[0], ids[1], ids[2]), nil
	default:
		return ResourceInstance(ids[0], ids[1], ids[2], ids[3]), nil
	}
}

// MustParse parses s and panics on error. Intended for tests and literal
// paths known at compile time, not for untrusted input.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Compare orders two paths by lexicographic comparison of their numeric
// identifiers level by level (P1: "/3/0/10" sorts after "/3/0/2", not
// before it, since ties break on the numeric ID rather than the string
// form). Shallower paths sort before deeper paths that share a common
// prefix. Returns -1, 0, or 1.
func Compare(a, b Path) int {
	al := a.levels()
	bl := b.levels()
	n := len(al)
	if len(bl) < n {
		n = len(bl)
	}
	for i := 0; i < n; i++ {
		if al[i] != bl[i] {
			if al[i] < bl[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(al) < len(bl):
		return -1
	case len(al) > len(bl):
		return 1
	default:
		return 0
	}
}

func (p Path) levels() []ID {
	switch p.depth {
	case DepthObject:
		return []ID{p.object}
	case DepthObjectInstance:
		return []ID{p.object, p.instance}
	case DepthResource:
		return []ID{p.object, p.instance, p.resource}
	default:
		return []ID{p.object, p.instance, p.resource, p.resourceInstance}
	}
}

// Less reports whether a sorts before b under Compare; convenient for
// sort.Slice call sites.
func Less(a, b Path) bool { return Compare(a, b) < 0 }
