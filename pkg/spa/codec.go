package spa

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTruncated is returned when a POD is shorter than its header claims.
	ErrTruncated = errors.New("spa: truncated pod")
	// ErrUnexpectedType is returned when a POD has a different type than required.
	ErrUnexpectedType = errors.New("spa: unexpected pod type")
	// ErrNotPacked is returned when a value cannot be an Array or Choice element.
	ErrNotPacked = errors.New("spa: value cannot be packed")
)

const headerSize = 8

var le = binary.LittleEndian

func pad8(n int) int {
	return (n + 7) &^ 7
}

// Marshal encodes v as a POD.
func Marshal(v Value) (Pod, error) {
	b, err := appendPod(nil, v)
	if err != nil {
		return nil, err
	}
	return Pod(b), nil
}

// MustMarshal is Marshal for values known to be encodable. It panics on error.
func MustMarshal(v Value) Pod {
	p, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return p
}

func appendHeader(b []byte, size int, t Type) []byte {
	b = le.AppendUint32(b, uint32(size))
	return le.AppendUint32(b, uint32(t))
}

func appendPod(b []byte, v Value) ([]byte, error) {
	if v == nil {
		v = None{}
	}
	start := len(b)
	b = appendHeader(b, 0, v.Type())
	var err error
	b, err = appendBody(b, v)
	if err != nil {
		return nil, err
	}
	size := len(b) - start - headerSize
	le.PutUint32(b[start:], uint32(size))
	for len(b)-start < headerSize+pad8(size) {
		b = append(b, 0)
	}
	return b, nil
}

func appendBody(b []byte, v Value) ([]byte, error) {
	switch v := v.(type) {
	case None:
		return b, nil
	case Bool:
		if v {
			return le.AppendUint32(b, 1), nil
		}
		return le.AppendUint32(b, 0), nil
	case Id:
		return le.AppendUint32(b, uint32(v)), nil
	case Int:
		return le.AppendUint32(b, uint32(v)), nil
	case Long:
		return le.AppendUint64(b, uint64(v)), nil
	case Float:
		return le.AppendUint32(b, math.Float32bits(float32(v))), nil
	case Double:
		return le.AppendUint64(b, math.Float64bits(float64(v))), nil
	case Fd:
		return le.AppendUint64(b, uint64(v)), nil
	case String:
		b = append(b, v...)
		return append(b, 0), nil
	case Bytes:
		return append(b, v...), nil
	case Rectangle:
		b = le.AppendUint32(b, v.Width)
		return le.AppendUint32(b, v.Height), nil
	case Fraction:
		b = le.AppendUint32(b, v.Num)
		return le.AppendUint32(b, v.Denom), nil
	case Struct:
		var err error
		for _, f := range v {
			if b, err = appendPod(b, f); err != nil {
				return nil, err
			}
		}
		return b, nil
	case Object:
		b = le.AppendUint32(b, v.ObjectType)
		b = le.AppendUint32(b, v.ID)
		var err error
		for _, p := range v.Props {
			b = le.AppendUint32(b, p.Key)
			b = le.AppendUint32(b, p.Flags)
			if b, err = appendPod(b, p.Value); err != nil {
				return nil, fmt.Errorf("prop 0x%x: %w", p.Key, err)
			}
		}
		return b, nil
	case Choice:
		b = le.AppendUint32(b, uint32(v.Kind))
		b = le.AppendUint32(b, v.Flags)
		return appendPacked(b, v.Values)
	case Array:
		return appendPacked(b, v.Values)
	case Raw:
		return append(b, v.Body...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedType, v)
	}
}

// packedSize reports the fixed body size of types that may appear inside
// an Array or Choice.
func packedSize(t Type) (int, bool) {
	switch t {
	case TypeNone:
		return 0, true
	case TypeBool, TypeId, TypeInt, TypeFloat:
		return 4, true
	case TypeLong, TypeDouble, TypeFd, TypeRectangle, TypeFraction:
		return 8, true
	default:
		return 0, false
	}
}

func appendPacked(b []byte, values []Value) ([]byte, error) {
	if len(values) == 0 {
		// an empty container still names a child type
		return appendHeader(b, 0, TypeNone), nil
	}
	t := values[0].Type()
	size, ok := packedSize(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPacked, t)
	}
	b = appendHeader(b, size, t)
	var err error
	for _, v := range values {
		if v.Type() != t {
			return nil, fmt.Errorf("%w: mixed %s and %s", ErrNotPacked, t, v.Type())
		}
		if b, err = appendBody(b, v); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Unmarshal decodes the first POD in b and reports how many bytes it
// occupied including padding. Bytes after it are left untouched.
func Unmarshal(b []byte) (Value, int, error) {
	if len(b) < headerSize {
		return nil, 0, ErrTruncated
	}
	size := int(le.Uint32(b))
	t := Type(le.Uint32(b[4:]))
	if size > len(b)-headerSize {
		return nil, 0, fmt.Errorf("%w: %s body of %d bytes, %d available", ErrTruncated, t, size, len(b)-headerSize)
	}
	v, err := decodeBody(t, b[headerSize:headerSize+size])
	if err != nil {
		return nil, 0, err
	}
	n := headerSize + pad8(size)
	if n > len(b) {
		n = len(b)
	}
	return v, n, nil
}

func decodeBody(t Type, body []byte) (Value, error) {
	need := func(n int) error {
		if len(body) < n {
			return fmt.Errorf("%w: %s needs %d bytes, has %d", ErrTruncated, t, n, len(body))
		}
		return nil
	}
	switch t {
	case TypeNone:
		return None{}, nil
	case TypeBool:
		if err := need(4); err != nil {
			return nil, err
		}
		return Bool(le.Uint32(body) != 0), nil
	case TypeId:
		if err := need(4); err != nil {
			return nil, err
		}
		return Id(le.Uint32(body)), nil
	case TypeInt:
		if err := need(4); err != nil {
			return nil, err
		}
		return Int(int32(le.Uint32(body))), nil
	case TypeLong:
		if err := need(8); err != nil {
			return nil, err
		}
		return Long(int64(le.Uint64(body))), nil
	case TypeFloat:
		if err := need(4); err != nil {
			return nil, err
		}
		return Float(math.Float32frombits(le.Uint32(body))), nil
	case TypeDouble:
		if err := need(8); err != nil {
			return nil, err
		}
		return Double(math.Float64frombits(le.Uint64(body))), nil
	case TypeFd:
		if err := need(8); err != nil {
			return nil, err
		}
		return Fd(int64(le.Uint64(body))), nil
	case TypeString:
		for i, c := range body {
			if c == 0 {
				return String(body[:i]), nil
			}
		}
		return String(body), nil
	case TypeBytes:
		return Bytes(append([]byte(nil), body...)), nil
	case TypeRectangle:
		if err := need(8); err != nil {
			return nil, err
		}
		return Rectangle{Width: le.Uint32(body), Height: le.Uint32(body[4:])}, nil
	case TypeFraction:
		if err := need(8); err != nil {
			return nil, err
		}
		return Fraction{Num: le.Uint32(body), Denom: le.Uint32(body[4:])}, nil
	case TypeStruct:
		return decodeStruct(body)
	case TypeObject:
		return decodeObject(body)
	case TypeChoice:
		if err := need(8); err != nil {
			return nil, err
		}
		values, err := decodePacked(body[8:])
		if err != nil {
			return nil, err
		}
		return Choice{Kind: ChoiceType(le.Uint32(body)), Flags: le.Uint32(body[4:]), Values: values}, nil
	case TypeArray:
		values, err := decodePacked(body)
		if err != nil {
			return nil, err
		}
		return Array{Values: values}, nil
	default:
		return Raw{RawType: t, Body: append([]byte(nil), body...)}, nil
	}
}

func decodeStruct(body []byte) (Struct, error) {
	fields := Struct{}
	for len(body) > 0 {
		v, n, err := Unmarshal(body)
		if err != nil {
			return nil, err
		}
		fields = append(fields, v)
		body = body[n:]
	}
	return fields, nil
}

func decodeObject(body []byte) (Object, error) {
	if len(body) < 8 {
		return Object{}, fmt.Errorf("%w: object header", ErrTruncated)
	}
	obj := Object{ObjectType: le.Uint32(body), ID: le.Uint32(body[4:])}
	body = body[8:]
	for len(body) > 0 {
		if len(body) < 8+headerSize {
			return Object{}, fmt.Errorf("%w: object property", ErrTruncated)
		}
		key, flags := le.Uint32(body), le.Uint32(body[4:])
		v, n, err := Unmarshal(body[8:])
		if err != nil {
			return Object{}, fmt.Errorf("prop 0x%x: %w", key, err)
		}
		obj.Props = append(obj.Props, Prop{Key: key, Flags: flags, Value: v})
		body = body[8+n:]
	}
	return obj, nil
}

func decodePacked(body []byte) ([]Value, error) {
	if len(body) < headerSize {
		return nil, fmt.Errorf("%w: child header", ErrTruncated)
	}
	size := int(le.Uint32(body))
	t := Type(le.Uint32(body[4:]))
	body = body[headerSize:]
	if size == 0 {
		return nil, nil
	}
	var values []Value
	for len(body) >= size {
		v, err := decodeBody(t, body[:size])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		body = body[size:]
	}
	return values, nil
}
