package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/mocha/classfile"
)

// ---------------------------------------------------------------------------
// JavaField
// ---------------------------------------------------------------------------

// JavaField is a linked field. Offset is relative to the end of the object
// header; for static fields the object is the owner's class oop.
type JavaField struct {
	owner    *InstanceClass
	Name     string
	Desc     string
	Access   int
	Slot     int
	Offset   int64
	sort     classfile.Sort
	constant *classfile.Constant
}

// Owner returns the declaring class.
func (f *JavaField) Owner() *InstanceClass { return f.owner }

// IsStatic reports whether the field is static.
func (f *JavaField) IsStatic() bool { return f.Access&classfile.AccStatic != 0 }

// Sort returns the sort of the field's type.
func (f *JavaField) Sort() classfile.Sort { return f.sort }

// Size returns the number of bytes the field occupies.
func (f *JavaField) Size() int64 { return fieldSize(f.sort) }

func (f *JavaField) String() string {
	return fmt.Sprintf("%s.%s:%s", f.owner.name, f.Name, f.Desc)
}

func fieldSize(sort classfile.Sort) int64 {
	switch sort {
	case classfile.SortLong, classfile.SortDouble:
		return 8
	case classfile.SortInt, classfile.SortFloat:
		return 4
	case classfile.SortShort, classfile.SortChar:
		return 2
	case classfile.SortByte, classfile.SortBoolean:
		return 1
	}
	return AddressSize
}

// ---------------------------------------------------------------------------
// JavaMethod
// ---------------------------------------------------------------------------

// JavaMethod is a linked method. Its body lives behind an atomic pointer so
// redefinition can swap it while call sites keep their resolved method.
type JavaMethod struct {
	owner  *InstanceClass
	Name   string
	Desc   string
	Access int
	Slot   int
	Type   classfile.MethodType
	// MaxArgs is the number of frame slots taken by the arguments,
	// receiver included.
	MaxArgs int

	code atomic.Pointer[methodCode]

	// base is the declared signature-polymorphic method a view was derived
	// from.
	base *JavaMethod
}

// methodCode is a compiled method body.
type methodCode struct {
	nodes     []Node
	handlers  []classfile.TryCatch
	maxStack  int
	maxLocals int
}

func newJavaMethod(owner *InstanceClass, slot int, m *classfile.Method) *JavaMethod {
	mt, err := classfile.ParseMethodDescriptor(m.Desc)
	if err != nil {
		faultf("%s.%s: %v", owner.name, m.Name, err)
	}
	jm := &JavaMethod{
		owner:  owner,
		Name:   m.Name,
		Desc:   m.Desc,
		Access: m.Access,
		Slot:   slot,
		Type:   mt,
	}
	jm.MaxArgs = mt.ArgSlots()
	if !jm.IsStatic() {
		jm.MaxArgs++
	}
	jm.code.Store(compile(m))
	return jm
}

// Owner returns the declaring class.
func (m *JavaMethod) Owner() *InstanceClass { return m.owner }

func (m *JavaMethod) IsStatic() bool   { return m.Access&classfile.AccStatic != 0 }
func (m *JavaMethod) IsNative() bool   { return m.Access&classfile.AccNative != 0 }
func (m *JavaMethod) IsAbstract() bool { return m.Access&classfile.AccAbstract != 0 }
func (m *JavaMethod) IsVarargs() bool  { return m.Access&classfile.AccVarargs != 0 }

// IsPolymorphic reports whether the method is signature polymorphic: a
// native varargs method of MethodHandle or VarHandle taking and returning
// Object.
func (m *JavaMethod) IsPolymorphic() bool {
	if m.Desc != polymorphicDesc || !m.IsNative() || !m.IsVarargs() {
		return false
	}
	return m.owner.name == MethodHandleClass || m.owner.name == VarHandleClass
}

// Base returns the declared method behind a signature-polymorphic view, or
// the method itself.
func (m *JavaMethod) Base() *JavaMethod {
	if m.base != nil {
		return m.base
	}
	return m
}

// MaxStack returns the operand stack limit of the current body.
func (m *JavaMethod) MaxStack() int { return m.code.Load().maxStack }

// MaxLocals returns the locals limit of the current body.
func (m *JavaMethod) MaxLocals() int { return m.code.Load().maxLocals }

// Nodes returns the compiled instructions of the current body.
func (m *JavaMethod) Nodes() []Node { return m.code.Load().nodes }

func (m *JavaMethod) String() string {
	return m.owner.name + "." + m.Name + m.Desc
}

// polymorphicView returns a copy of m shaped for a call-site descriptor.
func (m *JavaMethod) polymorphicView(desc string) *JavaMethod {
	mt, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil
	}
	view := &JavaMethod{
		owner:  m.owner,
		Name:   m.Name,
		Desc:   desc,
		Access: m.Access,
		Slot:   m.Slot,
		Type:   mt,
		base:   m,
	}
	view.MaxArgs = mt.ArgSlots()
	if !view.IsStatic() {
		view.MaxArgs++
	}
	view.code.Store(&methodCode{maxLocals: view.MaxArgs})
	return view
}

// compile turns a decoded body into engine nodes, one per instruction.
func compile(m *classfile.Method) *methodCode {
	code := &methodCode{
		nodes:     make([]Node, len(m.Code)),
		handlers:  m.TryCatch,
		maxStack:  m.MaxStack,
		maxLocals: m.MaxLocals,
	}
	for i := range m.Code {
		code.nodes[i] = newNode(m.Code[i])
	}
	return code
}
