package classfile

import (
	"fmt"
	"strings"
)

// Sort classifies a field descriptor by its leading character.
type Sort uint8

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

// SortOf returns the sort of a field (or return) descriptor.
func SortOf(desc string) Sort {
	if desc == "" {
		return SortVoid
	}
	switch desc[0] {
	case 'V':
		return SortVoid
	case 'Z':
		return SortBoolean
	case 'C':
		return SortChar
	case 'B':
		return SortByte
	case 'S':
		return SortShort
	case 'I':
		return SortInt
	case 'F':
		return SortFloat
	case 'J':
		return SortLong
	case 'D':
		return SortDouble
	case '[':
		return SortArray
	default:
		return SortObject
	}
}

// IsReference reports whether values of this sort are heap references.
func (s Sort) IsReference() bool { return s == SortArray || s == SortObject }

// IsWide reports whether values of this sort take two frame slots.
func (s Sort) IsWide() bool { return s == SortLong || s == SortDouble }

// Slots returns the number of frame slots a value of this sort occupies.
func (s Sort) Slots() int {
	switch s {
	case SortVoid:
		return 0
	case SortLong, SortDouble:
		return 2
	default:
		return 1
	}
}

// MethodType is a parsed method descriptor.
type MethodType struct {
	Args   []string
	Return string
}

// ArgSlots returns the number of frame slots taken by the arguments,
// excluding any receiver.
func (mt MethodType) ArgSlots() int {
	n := 0
	for _, a := range mt.Args {
		n += SortOf(a).Slots()
	}
	return n
}

// ReturnSort returns the sort of the return type.
func (mt MethodType) ReturnSort() Sort { return SortOf(mt.Return) }

// ParseMethodDescriptor splits a method descriptor such as
// "(IJLjava/lang/String;)V" into its argument and return descriptors.
func ParseMethodDescriptor(desc string) (MethodType, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return MethodType{}, fmt.Errorf("classfile: malformed method descriptor %q", desc)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 || end == len(desc)-1 {
		return MethodType{}, fmt.Errorf("classfile: malformed method descriptor %q", desc)
	}
	var mt MethodType
	params := desc[1:end]
	for len(params) > 0 {
		n, err := fieldDescriptorLength(params)
		if err != nil {
			return MethodType{}, fmt.Errorf("classfile: %q: %w", desc, err)
		}
		mt.Args = append(mt.Args, params[:n])
		params = params[n:]
	}
	ret := desc[end+1:]
	if ret != "V" {
		n, err := fieldDescriptorLength(ret)
		if err != nil || n != len(ret) {
			return MethodType{}, fmt.Errorf("classfile: malformed return type in %q", desc)
		}
	}
	mt.Return = ret
	return mt, nil
}

// MustParseMethodDescriptor is like ParseMethodDescriptor but panics on a
// malformed descriptor.
func MustParseMethodDescriptor(desc string) MethodType {
	mt, err := ParseMethodDescriptor(desc)
	if err != nil {
		panic(err)
	}
	return mt
}

// ValidFieldDescriptor reports whether desc is exactly one field descriptor.
func ValidFieldDescriptor(desc string) bool {
	n, err := fieldDescriptorLength(desc)
	return err == nil && n == len(desc)
}

func fieldDescriptorLength(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated descriptor")
	}
	switch s[i] {
	case 'Z', 'C', 'B', 'S', 'I', 'F', 'J', 'D':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi < 2 {
			return 0, fmt.Errorf("unterminated class descriptor")
		}
		return i + semi + 1, nil
	default:
		return 0, fmt.Errorf("unexpected %q in descriptor", s[i])
	}
}

// ClassName turns an object descriptor ("Ljava/lang/String;") into an
// internal name. Array descriptors are returned unchanged, matching how
// class references name array types.
func ClassName(desc string) string {
	if len(desc) > 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// Descriptor returns the field descriptor naming an internal class name.
func Descriptor(internalName string) string {
	if strings.HasPrefix(internalName, "[") {
		return internalName
	}
	return "L" + internalName + ";"
}
