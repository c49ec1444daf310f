package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/connectivityfoundry/lwm2m-runtime/path"
)

// jsonValue is the wire shape used to persist and transmit a Value,
// since Value itself carries unexported fields by design (callers must
// go through the constructors and accessors above).
type jsonValue struct {
	Kind  string               `json:"kind"`
	Int   int64                `json:"int,omitempty"`
	Float float64              `json:"float,omitempty"`
	Bool  bool                 `json:"bool,omitempty"`
	Str   string               `json:"str,omitempty"`
	Bytes string               `json:"bytes,omitempty"` // base64, for Opaque
	Link  *ObjectLink          `json:"link,omitempty"`
	Array map[string]jsonValue `json:"array,omitempty"`
}

// MarshalJSON implements json.Marshaler so Value can be persisted (e.g. by
// the Definition Registry's bbolt-backed store) and carried over the
// application/daemon IPC wire format.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Kind: v.kind.String()}
	switch v.kind {
	case KindInteger, KindTime:
		jv.Int = v.i
	case KindFloat:
		jv.Float = v.f
	case KindBoolean:
		jv.Bool = v.b
	case KindString:
		jv.Str = string(v.s)
	case KindOpaque:
		jv.Bytes = base64.StdEncoding.EncodeToString(v.s)
	case KindObjectLink:
		l := v.link
		jv.Link = &l
	case KindArray:
		jv.Array = make(map[string]jsonValue, len(v.arr))
		for id, item := range v.arr {
			encoded, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			var inner jsonValue
			if err := json.Unmarshal(encoded, &inner); err != nil {
				return nil, err
			}
			jv.Array[fmt.Sprintf("%d", id)] = inner
		}
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Kind {
	case "integer":
		*v = Integer(jv.Int)
	case "float":
		*v = Float(jv.Float)
	case "boolean":
		*v = Boolean(jv.Bool)
	case "string":
		*v = String(jv.Str)
	case "opaque":
		raw, err := base64.StdEncoding.DecodeString(jv.Bytes)
		if err != nil {
			return fmt.Errorf("value: decode opaque base64: %w", err)
		}
		*v = Opaque(raw)
	case "time":
		*v = Time(jv.Int)
	case "object_link":
		if jv.Link == nil {
			return fmt.Errorf("value: object_link missing link payload")
		}
		*v = Link(*jv.Link)
	case "array":
		items := make(map[path.ID]Value, len(jv.Array))
		for key, inner := range jv.Array {
			var id uint64
			if _, err := fmt.Sscanf(key, "%d", &id); err != nil {
				return fmt.Errorf("value: invalid array key %q: %w", key, err)
			}
			encoded, err := json.Marshal(inner)
			if err != nil {
				return err
			}
			var elem Value
			if err := json.Unmarshal(encoded, &elem); err != nil {
				return err
			}
			items[path.ID(id)] = elem
		}
		arr, err := Array(items)
		if err != nil {
			return err
		}
		*v = arr
	default:
		return fmt.Errorf("value: unknown kind %q", jv.Kind)
	}
	return nil
}
