package vm

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/chazu/mocha/classfile"
)

// Guest strings hold their characters as a big-endian UTF-16 char array,
// which is exactly the layout of a [C block.
var utf16 = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// NewString creates a java/lang/String holding s.
func (vm *VM) NewString(t *Thread, s string) *Object {
	units, err := utf16.NewEncoder().Bytes([]byte(s))
	if err != nil {
		faultf("encode string %q: %v", s, err)
	}
	chars := vm.mm.NewArray(vm.Primitive(classfile.SortChar).ArrayClass(), int32(len(units)/2))
	copy(chars.block.data[ArrayHeaderSize:], units)

	c := vm.boot.loadInstance(t, StringClass)
	c.Initialize(t)
	str := vm.mm.NewInstance(c)
	vm.mm.WriteReference(str, vm.stringValue(c).Offset, chars)
	return str
}

// GoString returns the contents of a java/lang/String, or "" for nil.
func (vm *VM) GoString(str *Object) string {
	if str == nil {
		return ""
	}
	c, ok := vm.mm.ClassOf(str).(*InstanceClass)
	if !ok || c.name != StringClass {
		faultf("%v is not a string", str)
	}
	chars := vm.mm.ReadReference(str, vm.stringValue(c).Offset)
	if chars == nil {
		return ""
	}
	n := int64(vm.mm.ArrayLength(chars)) * 2
	s, err := utf16.NewDecoder().Bytes(vm.mm.slice(chars, 0, n))
	if err != nil {
		faultf("decode string %v: %v", str, err)
	}
	return string(s)
}

func (vm *VM) stringValue(c *InstanceClass) *JavaField {
	f := c.DeclaredField(stringValueField, "[C")
	if f == nil {
		faultf("%s has no %s field", StringClass, stringValueField)
	}
	return f
}

// intern returns the canonical string object for s.
func (vm *VM) intern(t *Thread, s string) *Object {
	if str, ok := vm.strings.Get(s); ok {
		return str
	}
	str := vm.NewString(t, s)
	if vm.strings.SetIfAbsent(s, str) {
		return str
	}
	str, _ = vm.strings.Get(s)
	return str
}

// Intern returns the canonical string object for s.
func (vm *VM) Intern(t *Thread, s string) (str *Object, err error) {
	err = vm.guard(func() { str = vm.intern(t, s) })
	return str, err
}
