package value

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
)

// EncodePlainText renders a single scalar Value as LwM2M plain text
// (application/vnd.oma.lwm2m+text-ish), per §4.2's encoding rules. Opaque
// and Array values have no plain-text form and return Unsupported.
func EncodePlainText(v Value) ([]byte, error) {
	const op = "value.EncodePlainText"
	switch v.kind {
	case KindInteger:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		return []byte(strconv.FormatFloat(v.f, 'g', -1, 64)), nil
	case KindBoolean:
		if v.b {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case KindString:
		return append([]byte(nil), v.s...), nil
	case KindTime:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindObjectLink:
		return []byte(fmt.Sprintf("%d:%d", v.link.ObjectID, v.link.InstanceID)), nil
	default:
		return nil, lwm2merr.New(op, lwm2merr.Unsupported, fmt.Errorf("%s has no plain-text form", v.kind))
	}
}

// DecodePlainText parses plain text into a Value of the given target kind.
// Array and Opaque are not valid targets.
func DecodePlainText(data []byte, kind Kind) (Value, error) {
	const op = "value.DecodePlainText"
	switch kind {
	case KindInteger:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return Value{}, lwm2merr.New(op, lwm2merr.RangeInvalid, err)
		}
		return Integer(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return Value{}, lwm2merr.New(op, lwm2merr.RangeInvalid, err)
		}
		return Float(f), nil
	case KindBoolean:
		switch string(data) {
		case "1", "true":
			return Boolean(true), nil
		case "0", "false":
			return Boolean(false), nil
		default:
			return Value{}, lwm2merr.New(op, lwm2merr.RangeInvalid, fmt.Errorf("invalid boolean literal %q", data))
		}
	case KindString:
		return String(string(data)), nil
	case KindTime:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return Value{}, lwm2merr.New(op, lwm2merr.RangeInvalid, err)
		}
		return Time(n), nil
	case KindObjectLink:
		var o, i uint64
		if _, err := fmt.Sscanf(string(data), "%d:%d", &o, &i); err != nil {
			return Value{}, lwm2merr.New(op, lwm2merr.RangeInvalid, err)
		}
		return Link(ObjectLink{ObjectID: path.ID(o), InstanceID: path.ID(i)}), nil
	default:
		return Value{}, lwm2merr.New(op, lwm2merr.Unsupported, fmt.Errorf("%s has no plain-text form", kind))
	}
}

// EncodeOpaque returns the raw bytes of an Opaque value. Any other kind is
// a TypeMismatch.
func EncodeOpaque(v Value) ([]byte, error) {
	if v.kind != KindOpaque {
		return nil, typeMismatch("value.EncodeOpaque", KindOpaque, v.kind)
	}
	return append([]byte(nil), v.s...), nil
}

// DecodeOpaque wraps raw bytes as an Opaque value.
func DecodeOpaque(data []byte) Value {
	return Opaque(data)
}

// --- TLV ---
//
// TLV types per the OMA TS, used for Resource, Multiple Resource, and
// Resource Instance entries (Object Instance TLV framing is the object
// store's concern, not the value codec's).

type tlvType byte

const (
	tlvMultipleResource tlvType = 0b10
	tlvResource         tlvType = 0b11
	tlvResourceInstance tlvType = 0b00
)

// EncodeTLV encodes v (addressed by id) as one TLV entry. Scalars encode
// as a Resource entry; KindArray encodes as a Multiple Resource entry
// containing one Resource Instance entry per element, in ascending
// ResourceInstanceID order.
func EncodeTLV(id path.ID, v Value) ([]byte, error) {
	const op = "value.EncodeTLV"
	if v.kind == KindArray {
		var inner []byte
		for _, rid := range sortedArrayIDs(v.arr) {
			entry, err := encodeTLVScalar(tlvResourceInstance, rid, v.arr[rid])
			if err != nil {
				return nil, err
			}
			inner = append(inner, entry...)
		}
		return tlvHeader(tlvMultipleResource, id, len(inner), inner), nil
	}
	entry, err := encodeTLVScalar(tlvResource, id, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

func encodeTLVScalar(t tlvType, id path.ID, v Value) ([]byte, error) {
	var payload []byte
	switch v.kind {
	case KindInteger, KindTime:
		payload = encodeTLVInt(v.i)
	case KindFloat:
		payload = make([]byte, 8)
		binary.BigEndian.PutUint64(payload, mathFloatBits(v.f))
	case KindBoolean:
		if v.b {
			payload = []byte{1}
		} else {
			payload = []byte{0}
		}
	case KindString:
		payload = v.s
	case KindOpaque:
		payload = v.s
	case KindObjectLink:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint16(payload[0:2], v.link.ObjectID)
		binary.BigEndian.PutUint16(payload[2:4], v.link.InstanceID)
	default:
		return nil, lwm2merr.New("value.encodeTLVScalar", lwm2merr.TypeMismatch, fmt.Errorf("cannot TLV-encode %s", v.kind))
	}
	return tlvHeader(t, id, len(payload), payload), nil
}

func tlvHeader(t tlvType, id path.ID, length int, payload []byte) []byte {
	var b []byte
	typeBits := byte(t) << 6

	idLenBit := byte(0)
	var idBytes []byte
	if id > 0xFF {
		idLenBit = 1 << 5
		idBytes = []byte{byte(id >> 8), byte(id)}
	} else {
		idBytes = []byte{byte(id)}
	}

	var lengthTypeBits byte
	var lenBytes []byte
	switch {
	case length <= 7:
		lengthTypeBits = 0b00 << 3
		b = append(b, typeBits|idLenBit|lengthTypeBits|byte(length))
		b = append(b, idBytes...)
		return append(b, payload...)
	case length <= 0xFF:
		lengthTypeBits = 0b01 << 3
		lenBytes = []byte{byte(length)}
	case length <= 0xFFFF:
		lengthTypeBits = 0b10 << 3
		lenBytes = []byte{byte(length >> 8), byte(length)}
	default:
		lengthTypeBits = 0b11 << 3
		lenBytes = []byte{byte(length >> 16), byte(length >> 8), byte(length)}
	}
	b = append(b, typeBits|idLenBit|lengthTypeBits)
	b = append(b, idBytes...)
	b = append(b, lenBytes...)
	return append(b, payload...)
}

func encodeTLVInt(i int64) []byte {
	switch {
	case i >= -128 && i <= 127:
		return []byte{byte(i)}
	case i >= -32768 && i <= 32767:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(int16(i)))
		return b
	case i >= -2147483648 && i <= 2147483647:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(int32(i)))
		return b
	default:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(i))
		return b
	}
}

func decodeTLVInt(b []byte) (int64, error) {
	switch len(b) {
	case 1:
		return int64(int8(b[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, lwm2merr.New("value.decodeTLVInt", lwm2merr.Overrun, fmt.Errorf("invalid integer length %d", len(b)))
	}
}

// TLVEntry is one decoded top-level TLV record.
type TLVEntry struct {
	Type path.ID
	ID   path.ID
	// For tlvResource and tlvResourceInstance this is the decoded scalar
	// Value; for tlvMultipleResource, Array is populated instead.
	Value Value
	Array map[path.ID]Value
}

// DecodeTLV parses a TLV byte stream into entries, decoding each scalar
// payload as kind. Multiple Resource entries recurse into Resource
// Instance children using the same kind.
func DecodeTLV(data []byte, kind Kind) ([]TLVEntry, error) {
	const op = "value.DecodeTLV"
	var entries []TLVEntry
	rest := data
	for len(rest) > 0 {
		entry, tail, err := decodeOneTLV(rest, kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, entry)
		rest = tail
	}
	return entries, nil
}

func decodeOneTLV(data []byte, kind Kind) (TLVEntry, []byte, error) {
	const op = "value.decodeOneTLV"
	if len(data) < 1 {
		return TLVEntry{}, nil, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("empty TLV buffer"))
	}
	header := data[0]
	t := tlvType((header >> 6) & 0b11)
	idLen := 1
	if header&(1<<5) != 0 {
		idLen = 2
	}
	lengthType := (header >> 3) & 0b11

	pos := 1
	if len(data) < pos+idLen {
		return TLVEntry{}, nil, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("truncated identifier"))
	}
	var id path.ID
	if idLen == 1 {
		id = path.ID(data[pos])
	} else {
		id = path.ID(binary.BigEndian.Uint16(data[pos : pos+2]))
	}
	pos += idLen

	var length int
	switch lengthType {
	case 0b00:
		length = int(header & 0b111)
	case 0b01:
		if len(data) < pos+1 {
			return TLVEntry{}, nil, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("truncated length"))
		}
		length = int(data[pos])
		pos++
	case 0b10:
		if len(data) < pos+2 {
			return TLVEntry{}, nil, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("truncated length"))
		}
		length = int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
	default:
		if len(data) < pos+3 {
			return TLVEntry{}, nil, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("truncated length"))
		}
		length = int(data[pos])<<16 | int(data[pos+1])<<8 | int(data[pos+2])
		pos += 3
	}

	if len(data) < pos+length {
		return TLVEntry{}, nil, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("truncated value, want %d bytes", length))
	}
	payload := data[pos : pos+length]
	rest := data[pos+length:]

	if t == tlvMultipleResource {
		children, err := DecodeTLV(payload, kind)
		if err != nil {
			return TLVEntry{}, nil, err
		}
		arr := make(map[path.ID]Value, len(children))
		for _, c := range children {
			arr[c.ID] = c.Value
		}
		return TLVEntry{Type: path.ID(t), ID: id, Array: arr}, rest, nil
	}

	v, err := decodeTLVScalar(payload, kind)
	if err != nil {
		return TLVEntry{}, nil, err
	}
	return TLVEntry{Type: path.ID(t), ID: id, Value: v}, rest, nil
}

func decodeTLVScalar(payload []byte, kind Kind) (Value, error) {
	const op = "value.decodeTLVScalar"
	switch kind {
	case KindInteger:
		n, err := decodeTLVInt(payload)
		if err != nil {
			return Value{}, err
		}
		return Integer(n), nil
	case KindTime:
		n, err := decodeTLVInt(payload)
		if err != nil {
			return Value{}, err
		}
		return Time(n), nil
	case KindFloat:
		if len(payload) == 4 {
			return Float(float64(mathFloat32FromBits(binary.BigEndian.Uint32(payload)))), nil
		}
		if len(payload) == 8 {
			return Float(mathFloatFromBits(binary.BigEndian.Uint64(payload))), nil
		}
		return Value{}, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("invalid float length %d", len(payload)))
	case KindBoolean:
		if len(payload) != 1 {
			return Value{}, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("invalid boolean length %d", len(payload)))
		}
		return Boolean(payload[0] != 0), nil
	case KindString:
		return String(string(payload)), nil
	case KindOpaque:
		return Opaque(payload), nil
	case KindObjectLink:
		if len(payload) != 4 {
			return Value{}, lwm2merr.New(op, lwm2merr.Overrun, fmt.Errorf("invalid object link length %d", len(payload)))
		}
		return Link(ObjectLink{
			ObjectID:   path.ID(binary.BigEndian.Uint16(payload[0:2])),
			InstanceID: path.ID(binary.BigEndian.Uint16(payload[2:4])),
		}), nil
	default:
		return Value{}, lwm2merr.New(op, lwm2merr.TypeMismatch, fmt.Errorf("cannot TLV-decode %s", kind))
	}
}
