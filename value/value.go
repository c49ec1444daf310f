// Package value implements the typed value codec (component C2): the
// polymorphic Value union addressed by a Resource or Resource Instance, and
// its PlainText/Opaque/TLV wire encodings.
package value

import (
	"fmt"
	"math"
	"sort"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
)

// Kind identifies which alternative of the Value union is populated.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindBoolean
	KindString
	KindOpaque
	KindTime
	KindObjectLink
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindOpaque:
		return "opaque"
	case KindTime:
		return "time"
	case KindObjectLink:
		return "object_link"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// ObjectLink is the value of an ObjectLink-typed resource: a reference to
// another Object Instance, or to no instance (both fields InvalidID).
type ObjectLink struct {
	ObjectID   path.ID
	InstanceID path.ID
}

// Value is the tagged union of every LwM2M resource value type. The zero
// Value is an Integer 0; use the constructors below rather than composite
// literals.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    []byte // String or Opaque payload
	link ObjectLink
	arr  map[path.ID]Value // ResourceInstanceID -> Value, for KindArray
}

func Integer(i int64) Value    { return Value{kind: KindInteger, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func Boolean(b bool) Value     { return Value{kind: KindBoolean, b: b} }
func String(s string) Value    { return Value{kind: KindString, s: []byte(s)} }
func Opaque(b []byte) Value    { cp := append([]byte(nil), b...); return Value{kind: KindOpaque, s: cp} }
func Time(t int64) Value       { return Value{kind: KindTime, i: t} }
func Link(l ObjectLink) Value  { return Value{kind: KindObjectLink, link: l} }

// Array constructs a multi-instance value from a ResourceInstanceID->Value
// map. The map is copied; Array values may not nest (an element that is
// itself KindArray is rejected).
func Array(items map[path.ID]Value) (Value, error) {
	cp := make(map[path.ID]Value, len(items))
	for id, v := range items {
		if v.kind == KindArray {
			return Value{}, lwm2merr.New("value.Array", lwm2merr.TypeMismatch, fmt.Errorf("array values may not nest"))
		}
		cp[id] = v
	}
	return Value{kind: KindArray, arr: cp}, nil
}

// Kind reports which alternative of the union v holds.
func (v Value) Kind() Kind { return v.kind }

func typeMismatch(op string, want Kind, got Kind) error {
	return lwm2merr.New(op, lwm2merr.TypeMismatch, fmt.Errorf("want %s, got %s", want, got))
}

func (v Value) AsInteger() (int64, error) {
	if v.kind != KindInteger {
		return 0, typeMismatch("value.AsInteger", KindInteger, v.kind)
	}
	return v.i, nil
}

func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, typeMismatch("value.AsFloat", KindFloat, v.kind)
	}
	return v.f, nil
}

func (v Value) AsBoolean() (bool, error) {
	if v.kind != KindBoolean {
		return false, typeMismatch("value.AsBoolean", KindBoolean, v.kind)
	}
	return v.b, nil
}

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", typeMismatch("value.AsString", KindString, v.kind)
	}
	return string(v.s), nil
}

func (v Value) AsOpaque() ([]byte, error) {
	if v.kind != KindOpaque {
		return nil, typeMismatch("value.AsOpaque", KindOpaque, v.kind)
	}
	return append([]byte(nil), v.s...), nil
}

func (v Value) AsTime() (int64, error) {
	if v.kind != KindTime {
		return 0, typeMismatch("value.AsTime", KindTime, v.kind)
	}
	return v.i, nil
}

func (v Value) AsLink() (ObjectLink, error) {
	if v.kind != KindObjectLink {
		return ObjectLink{}, typeMismatch("value.AsLink", KindObjectLink, v.kind)
	}
	return v.link, nil
}

// AsArray returns a copy of the ResourceInstanceID->Value map. Mutating the
// returned map does not affect v.
func (v Value) AsArray() (map[path.ID]Value, error) {
	if v.kind != KindArray {
		return nil, typeMismatch("value.AsArray", KindArray, v.kind)
	}
	cp := make(map[path.ID]Value, len(v.arr))
	for id, item := range v.arr {
		cp[id] = item
	}
	return cp, nil
}

// Equal reports deep equality between two values of the same kind.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInteger, KindTime:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case KindBoolean:
		return a.b == b.b
	case KindString, KindOpaque:
		if len(a.s) != len(b.s) {
			return false
		}
		for i := range a.s {
			if a.s[i] != b.s[i] {
				return false
			}
		}
		return true
	case KindObjectLink:
		return a.link == b.link
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for id, av := range a.arr {
			bv, ok := b.arr[id]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// sortedArrayIDs returns the array's resource instance IDs in ascending
// numeric order, matching the leaf-ordering guarantee the object store
// gives for Array resources.
func sortedArrayIDs(arr map[path.ID]Value) []path.ID {
	ids := make([]path.ID, 0, len(arr))
	for id := range arr {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
