package vm

import (
	"fmt"
	"math"
)

// Tag identifies which member of the Value union is present.
type Tag uint8

const (
	// TagVoid is the zero Value: an unset slot or the result of a void
	// method.
	TagVoid Tag = iota
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagNull
	TagRef
	// TagTop fills the second frame slot of a long or double.
	TagTop
)

var tagNames = [...]string{
	TagVoid:   "void",
	TagInt:    "int",
	TagLong:   "long",
	TagFloat:  "float",
	TagDouble: "double",
	TagNull:   "null",
	TagRef:    "reference",
	TagTop:    "top",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Value is a frame slot value. Booleans, bytes, chars and shorts travel as
// ints, as they do on a class-file operand stack.
//
// Reading a Value as a kind other than its tag is a Fault.
type Value struct {
	tag  Tag
	bits uint64
	ref  *Object
}

var (
	// Null is the null reference.
	Null = Value{tag: TagNull}
	// Void is the result of a void method.
	Void = Value{}

	top = Value{tag: TagTop}
)

// Int returns an int Value.
func Int(v int32) Value { return Value{tag: TagInt, bits: uint64(uint32(v))} }

// Long returns a long Value.
func Long(v int64) Value { return Value{tag: TagLong, bits: uint64(v)} }

// Float returns a float Value.
func Float(v float32) Value { return Value{tag: TagFloat, bits: uint64(math.Float32bits(v))} }

// Double returns a double Value.
func Double(v float64) Value { return Value{tag: TagDouble, bits: math.Float64bits(v)} }

// Bool returns an int Value of 1 or 0.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Ref returns a reference Value, or Null for a nil object.
func Ref(o *Object) Value {
	if o == nil {
		return Null
	}
	return Value{tag: TagRef, ref: o}
}

// Tag returns the value's tag.
func (v Value) Tag() Tag { return v.tag }

// IsWide reports whether the value occupies two frame slots.
func (v Value) IsWide() bool { return v.tag == TagLong || v.tag == TagDouble }

// IsNull reports whether the value is the null reference.
func (v Value) IsNull() bool { return v.tag == TagNull }

// IsReference reports whether the value is a reference, null included.
func (v Value) IsReference() bool { return v.tag == TagRef || v.tag == TagNull }

func (v Value) expect(t Tag) {
	if v.tag != t {
		faultf("read %s slot as %s", v.tag, t)
	}
}

// AsInt returns the int payload.
func (v Value) AsInt() int32 {
	v.expect(TagInt)
	return int32(uint32(v.bits))
}

// AsLong returns the long payload.
func (v Value) AsLong() int64 {
	v.expect(TagLong)
	return int64(v.bits)
}

// AsFloat returns the float payload.
func (v Value) AsFloat() float32 {
	v.expect(TagFloat)
	return math.Float32frombits(uint32(v.bits))
}

// AsDouble returns the double payload.
func (v Value) AsDouble() float64 {
	v.expect(TagDouble)
	return math.Float64frombits(v.bits)
}

// AsRef returns the referenced object, or nil for Null.
func (v Value) AsRef() *Object {
	switch v.tag {
	case TagRef:
		return v.ref
	case TagNull:
		return nil
	}
	faultf("read %s slot as reference", v.tag)
	return nil
}

// Bits returns the raw payload of a primitive value.
func (v Value) Bits() uint64 { return v.bits }

func (v Value) String() string {
	switch v.tag {
	case TagInt:
		return fmt.Sprintf("%d", v.AsInt())
	case TagLong:
		return fmt.Sprintf("%dL", v.AsLong())
	case TagFloat:
		return fmt.Sprintf("%gf", v.AsFloat())
	case TagDouble:
		return fmt.Sprintf("%gd", v.AsDouble())
	case TagRef:
		return v.ref.String()
	}
	return v.tag.String()
}

// Equal reports whether two values carry the same tag and payload.
// References compare by address.
func (v Value) Equal(w Value) bool {
	if v.tag != w.tag {
		return false
	}
	if v.tag == TagRef {
		return v.ref.Address() == w.ref.Address()
	}
	return v.bits == w.bits
}
