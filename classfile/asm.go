package classfile

import "fmt"

// ---------------------------------------------------------------------------
// MethodBuilder: assemble method bodies with symbolic labels
// ---------------------------------------------------------------------------

// MethodBuilder assembles a Method. Branch targets and exception ranges are
// given as label names and resolved by Build.
type MethodBuilder struct {
	m              Method
	labels         map[string]int
	fixups         map[int]string
	tries          []pendingTry
	maxVar         int
	explicitLimits bool
}

type pendingTry struct {
	start, end, handler string
	typ                 string
}

// NewMethod starts a method with the given access flags, name and
// descriptor.
func NewMethod(access int, name, desc string) *MethodBuilder {
	return &MethodBuilder{
		m:      Method{Name: name, Desc: desc, Access: access},
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

// Limits sets max stack and max locals explicitly. Without it Build
// derives conservative limits from the body.
func (b *MethodBuilder) Limits(maxStack, maxLocals int) *MethodBuilder {
	b.m.MaxStack = maxStack
	b.m.MaxLocals = maxLocals
	b.explicitLimits = true
	return b
}

// Label binds name to the next instruction.
func (b *MethodBuilder) Label(name string) *MethodBuilder {
	b.labels[name] = len(b.m.Code)
	return b
}

// Op appends an instruction without operands.
func (b *MethodBuilder) Op(ops ...Opcode) *MethodBuilder {
	for _, op := range ops {
		b.m.Code = append(b.m.Code, Insn{Op: op})
	}
	return b
}

// Var appends a load or store of a local variable.
func (b *MethodBuilder) Var(op Opcode, index int) *MethodBuilder {
	width := 1
	if op == LLOAD || op == DLOAD || op == LSTORE || op == DSTORE {
		width = 2
	}
	if index+width > b.maxVar {
		b.maxVar = index + width
	}
	b.m.Code = append(b.m.Code, Insn{Op: op, Var: index})
	return b
}

// Int appends bipush, sipush or newarray with its immediate operand.
func (b *MethodBuilder) Int(op Opcode, v int) *MethodBuilder {
	b.m.Code = append(b.m.Code, Insn{Op: op, Operand: v})
	return b
}

// Iinc appends an increment of local index by delta.
func (b *MethodBuilder) Iinc(index, delta int) *MethodBuilder {
	if index+1 > b.maxVar {
		b.maxVar = index + 1
	}
	b.m.Code = append(b.m.Code, Insn{Op: IINC, Var: index, Operand: delta})
	return b
}

// Ldc appends a constant load.
func (b *MethodBuilder) Ldc(c *Constant) *MethodBuilder {
	b.m.Code = append(b.m.Code, Insn{Op: LDC, Const: c})
	return b
}

// Jump appends a branch to label.
func (b *MethodBuilder) Jump(op Opcode, label string) *MethodBuilder {
	b.fixups[len(b.m.Code)] = label
	b.m.Code = append(b.m.Code, Insn{Op: op})
	return b
}

// Field appends a field instruction.
func (b *MethodBuilder) Field(op Opcode, owner, name, desc string) *MethodBuilder {
	b.m.Code = append(b.m.Code, Insn{Op: op, Owner: owner, Name: name, Desc: desc})
	return b
}

// Invoke appends a method invocation.
func (b *MethodBuilder) Invoke(op Opcode, owner, name, desc string) *MethodBuilder {
	b.m.Code = append(b.m.Code, Insn{Op: op, Owner: owner, Name: name, Desc: desc})
	return b
}

// Type appends new, anewarray, checkcast or instanceof.
func (b *MethodBuilder) Type(op Opcode, internalName string) *MethodBuilder {
	b.m.Code = append(b.m.Code, Insn{Op: op, Owner: internalName})
	return b
}

// Try registers an exception table entry. An empty typ catches anything.
func (b *MethodBuilder) Try(start, end, handler, typ string) *MethodBuilder {
	b.tries = append(b.tries, pendingTry{start: start, end: end, handler: handler, typ: typ})
	return b
}

// Build resolves labels and returns the method. It panics on an undefined
// label, which is a bug in the code assembling the method.
func (b *MethodBuilder) Build() Method {
	m := b.m
	m.Code = append([]Insn(nil), b.m.Code...)
	for pc, name := range b.fixups {
		target, ok := b.labels[name]
		if !ok {
			panic(fmt.Sprintf("classfile: %s%s: undefined label %q", m.Name, m.Desc, name))
		}
		m.Code[pc].Target = target
	}
	for _, t := range b.tries {
		m.TryCatch = append(m.TryCatch, TryCatch{
			Start:   b.mustLabel(t.start),
			End:     b.mustLabel(t.end),
			Handler: b.mustLabel(t.handler),
			Type:    t.typ,
		})
	}
	if !b.explicitLimits {
		args := MustParseMethodDescriptor(m.Desc).ArgSlots()
		if !m.IsStatic() {
			args++
		}
		m.MaxLocals = max(args, b.maxVar)
		// Each instruction pushes at most two slots.
		m.MaxStack = 2*len(m.Code) + 2
	}
	return m
}

func (b *MethodBuilder) mustLabel(name string) int {
	pc, ok := b.labels[name]
	if !ok {
		panic(fmt.Sprintf("classfile: %s%s: undefined label %q", b.m.Name, b.m.Desc, name))
	}
	return pc
}

// ---------------------------------------------------------------------------
// ClassBuilder
// ---------------------------------------------------------------------------

// ClassBuilder assembles a Class.
type ClassBuilder struct {
	c Class
}

// NewClass starts a public class with the given internal name and
// superclass. An empty super is only valid for java/lang/Object.
func NewClass(name, super string) *ClassBuilder {
	return &ClassBuilder{c: Class{Name: name, SuperName: super, Access: AccPublic | AccSuper}}
}

// Access replaces the class access flags.
func (b *ClassBuilder) Access(access int) *ClassBuilder {
	b.c.Access = access
	return b
}

// Implements appends interface names.
func (b *ClassBuilder) Implements(names ...string) *ClassBuilder {
	b.c.Interfaces = append(b.c.Interfaces, names...)
	return b
}

// Field declares a field.
func (b *ClassBuilder) Field(access int, name, desc string) *ClassBuilder {
	b.c.Fields = append(b.c.Fields, Field{Name: name, Desc: desc, Access: access})
	return b
}

// ConstField declares a static field with a ConstantValue.
func (b *ClassBuilder) ConstField(access int, name, desc string, value *Constant) *ClassBuilder {
	b.c.Fields = append(b.c.Fields, Field{Name: name, Desc: desc, Access: access | AccStatic, Value: value})
	return b
}

// Method adds a built method.
func (b *ClassBuilder) Method(m Method) *ClassBuilder {
	b.c.Methods = append(b.c.Methods, m)
	return b
}

// Native declares a native method.
func (b *ClassBuilder) Native(access int, name, desc string) *ClassBuilder {
	b.c.Methods = append(b.c.Methods, Method{Name: name, Desc: desc, Access: access | AccNative})
	return b
}

// Abstract declares an abstract method.
func (b *ClassBuilder) Abstract(access int, name, desc string) *ClassBuilder {
	b.c.Methods = append(b.c.Methods, Method{Name: name, Desc: desc, Access: access | AccAbstract})
	return b
}

// Build returns the class.
func (b *ClassBuilder) Build() *Class {
	c := b.c
	return &c
}
