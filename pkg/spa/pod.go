// Package spa implements the SPA POD ("plain old data") binary object format used by
// PipeWire for format negotiation and for the payload of native protocol messages.
//
// A POD is a self-describing value: a 32-bit body size, a 32-bit type and a body padded
// to 8 bytes. Container PODs (Struct, Object, Choice, Array) nest further values.
// Values are encoded in host byte order; this package assumes little-endian hosts,
// which covers every platform PipeWire ships on.
//
// Decoded values are represented by the Value interface and its concrete types:
//
//	obj := spa.Object{
//		ObjectType: spa.ObjectFormat,
//		ID:         spa.ParamEnumFormat,
//		Props: []spa.Prop{
//			{Key: spa.FormatMediaType, Value: spa.Id(spa.MediaTypeVideo)},
//		},
//	}
//	pod, err := spa.Marshal(obj)
//
// Encoded PODs travel as the Pod byte type; Pod.Value decodes them again.
package spa

import "fmt"

// Type identifies a basic POD type.
type Type uint32

// Basic POD types.
const (
	TypeNone      Type = 1
	TypeBool      Type = 2
	TypeId        Type = 3
	TypeInt       Type = 4
	TypeLong      Type = 5
	TypeFloat     Type = 6
	TypeDouble    Type = 7
	TypeString    Type = 8
	TypeBytes     Type = 9
	TypeRectangle Type = 10
	TypeFraction  Type = 11
	TypeBitmap    Type = 12
	TypeArray     Type = 13
	TypeStruct    Type = 14
	TypeObject    Type = 15
	TypeSequence  Type = 16
	TypePointer   Type = 17
	TypeFd        Type = 18
	TypeChoice    Type = 19
	TypePod       Type = 20
)

var typeNames = map[Type]string{
	TypeNone:      "None",
	TypeBool:      "Bool",
	TypeId:        "Id",
	TypeInt:       "Int",
	TypeLong:      "Long",
	TypeFloat:     "Float",
	TypeDouble:    "Double",
	TypeString:    "String",
	TypeBytes:     "Bytes",
	TypeRectangle: "Rectangle",
	TypeFraction:  "Fraction",
	TypeBitmap:    "Bitmap",
	TypeArray:     "Array",
	TypeStruct:    "Struct",
	TypeObject:    "Object",
	TypeSequence:  "Sequence",
	TypePointer:   "Pointer",
	TypeFd:        "Fd",
	TypeChoice:    "Choice",
	TypePod:       "Pod",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

// ChoiceType selects how the values of a Choice are interpreted.
type ChoiceType uint32

// Choice kinds. For every kind the first value is the default.
const (
	ChoiceNone  ChoiceType = 0 // single value
	ChoiceRange ChoiceType = 1 // default, min, max
	ChoiceStep  ChoiceType = 2 // default, min, max, step
	ChoiceEnum  ChoiceType = 3 // default, alternatives...
	ChoiceFlags ChoiceType = 4 // default, possible flags...
)

func (c ChoiceType) String() string {
	switch c {
	case ChoiceNone:
		return "None"
	case ChoiceRange:
		return "Range"
	case ChoiceStep:
		return "Step"
	case ChoiceEnum:
		return "Enum"
	case ChoiceFlags:
		return "Flags"
	default:
		return fmt.Sprintf("ChoiceType(%d)", uint32(c))
	}
}

// Value is a decoded POD value.
type Value interface {
	Type() Type
}

// None is the empty POD.
type None struct{}

// Bool is a boolean POD.
type Bool bool

// Id is an enumerated identifier POD.
type Id uint32

// Int is a 32-bit signed integer POD.
type Int int32

// Long is a 64-bit signed integer POD.
type Long int64

// Float is a 32-bit float POD.
type Float float32

// Double is a 64-bit float POD.
type Double float64

// String is a NUL-terminated string POD.
type String string

// Bytes is an opaque byte POD.
type Bytes []byte

// Fd is a file descriptor index POD.
type Fd int64

// Rectangle is a width/height pair.
type Rectangle struct {
	Width  uint32
	Height uint32
}

// Fraction is a rational number, typically a frame rate.
type Fraction struct {
	Num   uint32
	Denom uint32
}

// Struct is an ordered sequence of values.
type Struct []Value

// Array is a sequence of values that all share one basic type.
type Array struct {
	Values []Value
}

// Prop is one key/value member of an Object.
type Prop struct {
	Key   uint32
	Flags uint32
	Value Value
}

// Object is a typed collection of properties.
type Object struct {
	ObjectType uint32 // e.g. ObjectFormat
	ID         uint32 // param id, e.g. ParamEnumFormat
	Props      []Prop
}

// Choice is a constrained set of values of one basic type.
type Choice struct {
	Kind   ChoiceType
	Flags  uint32
	Values []Value
}

// Raw carries a POD whose type this package does not interpret.
type Raw struct {
	RawType Type
	Body    []byte
}

func (None) Type() Type      { return TypeNone }
func (Bool) Type() Type      { return TypeBool }
func (Id) Type() Type        { return TypeId }
func (Int) Type() Type       { return TypeInt }
func (Long) Type() Type      { return TypeLong }
func (Float) Type() Type     { return TypeFloat }
func (Double) Type() Type    { return TypeDouble }
func (String) Type() Type    { return TypeString }
func (Bytes) Type() Type     { return TypeBytes }
func (Fd) Type() Type        { return TypeFd }
func (Rectangle) Type() Type { return TypeRectangle }
func (Fraction) Type() Type  { return TypeFraction }
func (Struct) Type() Type    { return TypeStruct }
func (Array) Type() Type     { return TypeArray }
func (Object) Type() Type    { return TypeObject }
func (Choice) Type() Type    { return TypeChoice }
func (r Raw) Type() Type     { return r.RawType }

// Prop returns the property with the given key.
func (o Object) Prop(key uint32) (Prop, bool) {
	for _, p := range o.Props {
		if p.Key == key {
			return p, true
		}
	}
	return Prop{}, false
}

// Default returns the default value of a Choice.
func (c Choice) Default() (Value, bool) {
	if len(c.Values) == 0 {
		return nil, false
	}
	return c.Values[0], true
}

// Fixated returns v itself, or the default of a Choice of kind None.
// Any other Choice is not a concrete value and yields false.
func Fixated(v Value) (Value, bool) {
	c, ok := v.(Choice)
	if !ok {
		return v, v != nil
	}
	if c.Kind != ChoiceNone {
		return nil, false
	}
	return c.Default()
}

// Pod is an encoded POD.
type Pod []byte

// Value decodes the POD.
func (p Pod) Value() (Value, error) {
	v, _, err := Unmarshal(p)
	return v, err
}

// Object decodes the POD and requires it to be an Object.
func (p Pod) Object() (Object, error) {
	v, err := p.Value()
	if err != nil {
		return Object{}, err
	}
	obj, ok := v.(Object)
	if !ok {
		return Object{}, fmt.Errorf("%w: want Object, got %s", ErrUnexpectedType, v.Type())
	}
	return obj, nil
}
