package vm

import (
	cf "github.com/chazu/mocha/classfile"
)

// fieldAccessor reads and writes one field sort at an offset.
type fieldAccessor struct {
	read  func(mm *MemoryManager, o *Object, off int64) Value
	write func(mm *MemoryManager, o *Object, off int64, v Value)
}

// genericAccessor goes through ReadValue and WriteValue.
func genericAccessor(sort cf.Sort) fieldAccessor {
	return fieldAccessor{
		read:  func(mm *MemoryManager, o *Object, off int64) Value { return mm.ReadValue(o, off, sort) },
		write: func(mm *MemoryManager, o *Object, off int64, v Value) { mm.WriteValue(o, off, sort, v) },
	}
}

// Floats and doubles move as their raw IEEE bits between the slot and the
// block, without a round trip through the float type.
var accessors = map[cf.Sort]fieldAccessor{
	cf.SortInt: {
		read:  func(mm *MemoryManager, o *Object, off int64) Value { return Int(mm.ReadInt(o, off)) },
		write: func(mm *MemoryManager, o *Object, off int64, v Value) { mm.WriteInt(o, off, v.AsInt()) },
	},
	cf.SortLong: {
		read:  func(mm *MemoryManager, o *Object, off int64) Value { return Long(mm.ReadLong(o, off)) },
		write: func(mm *MemoryManager, o *Object, off int64, v Value) { mm.WriteLong(o, off, v.AsLong()) },
	},
	cf.SortFloat: {
		read: func(mm *MemoryManager, o *Object, off int64) Value {
			return Value{tag: TagFloat, bits: uint64(ByteOrder.Uint32(mm.slice(o, off, 4)))}
		},
		write: func(mm *MemoryManager, o *Object, off int64, v Value) {
			v.expect(TagFloat)
			ByteOrder.PutUint32(mm.slice(o, off, 4), uint32(v.bits))
		},
	},
	cf.SortDouble: {
		read: func(mm *MemoryManager, o *Object, off int64) Value {
			return Value{tag: TagDouble, bits: ByteOrder.Uint64(mm.slice(o, off, 8))}
		},
		write: func(mm *MemoryManager, o *Object, off int64, v Value) {
			v.expect(TagDouble)
			ByteOrder.PutUint64(mm.slice(o, off, 8), v.bits)
		},
	},
	cf.SortObject: {
		read:  func(mm *MemoryManager, o *Object, off int64) Value { return Ref(mm.ReadReference(o, off)) },
		write: func(mm *MemoryManager, o *Object, off int64, v Value) { mm.WriteReference(o, off, v.AsRef()) },
	},
}

func accessorFor(sort cf.Sort) fieldAccessor {
	if sort == cf.SortArray {
		sort = cf.SortObject
	}
	if a, ok := accessors[sort]; ok {
		return a
	}
	return genericAccessor(sort)
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// resolveField resolves a field reference through its symbolic owner.
func (vm *VM) resolveField(ctx *ExecutionContext, insn *cf.Insn, static bool) *JavaField {
	t := ctx.Thread
	jc := ctx.Method.owner.loader.LoadClass(t, insn.Owner)
	c, ok := jc.(*InstanceClass)
	if !ok {
		vm.throwf(t, NoSuchFieldError, "%s", insn.Name)
	}
	c.Link(t)
	f := c.Field(insn.Name, insn.Desc)
	if f == nil {
		vm.throwf(t, NoSuchFieldError, "%s.%s", externalName(c.name), insn.Name)
	}
	if f.IsStatic() != static {
		kind := "non-static"
		if static {
			kind = "static"
		}
		vm.throwf(t, IncompatibleClassChangeError, "Expected %s field %s.%s", kind, externalName(c.name), insn.Name)
	}
	return f
}

// fieldSite resolves a field node and publishes its cache.
func fieldSite(op int, static bool) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		fn := n.(*fieldNode)
		f := vm.resolveField(ctx, &fn.insn, static)
		fn.cache.CompareAndSwap(nil, &fieldCache{op: op, field: f, access: accessorFor(f.sort)})
		ctx.pos--
		return Continue
	}
}

// ---------------------------------------------------------------------------
// Resolved handlers
// ---------------------------------------------------------------------------

func getFieldResolved(vm *VM, ctx *ExecutionContext, n Node) Result {
	c := n.(*fieldNode).cache.Load()
	obj := ctx.Stack.PopRef()
	if obj == nil {
		vm.throwf(ctx.Thread, NullPointerException, "Cannot read field %q because value is null", c.field.Name)
	}
	ctx.Stack.Push(c.access.read(vm.mm, obj, c.field.Offset))
	return Continue
}

func putFieldResolved(vm *VM, ctx *ExecutionContext, n Node) Result {
	c := n.(*fieldNode).cache.Load()
	v := ctx.Stack.Pop()
	obj := ctx.Stack.PopRef()
	if obj == nil {
		vm.throwf(ctx.Thread, NullPointerException, "Cannot assign field %q because value is null", c.field.Name)
	}
	c.access.write(vm.mm, obj, c.field.Offset, v)
	return Continue
}

// Static accesses initialize the declaring class, whose oop holds the
// field.
func getStaticResolved(vm *VM, ctx *ExecutionContext, n Node) Result {
	c := n.(*fieldNode).cache.Load()
	owner := c.field.owner
	if owner.State() != Complete {
		owner.Initialize(ctx.Thread)
	}
	ctx.Stack.Push(c.access.read(vm.mm, owner.oop, c.field.Offset))
	return Continue
}

func putStaticResolved(vm *VM, ctx *ExecutionContext, n Node) Result {
	c := n.(*fieldNode).cache.Load()
	owner := c.field.owner
	if owner.State() != Complete {
		owner.Initialize(ctx.Thread)
	}
	c.access.write(vm.mm, owner.oop, c.field.Offset, ctx.Stack.Pop())
	return Continue
}

func registerFieldOps() {
	on(cf.GETFIELD, fieldSite(opGetFieldResolved, false))
	on(cf.PUTFIELD, fieldSite(opPutFieldResolved, false))
	on(cf.GETSTATIC, fieldSite(opGetStaticResolved, true))
	on(cf.PUTSTATIC, fieldSite(opPutStaticResolved, true))
	handlers[opGetFieldResolved] = getFieldResolved
	handlers[opPutFieldResolved] = putFieldResolved
	handlers[opGetStaticResolved] = getStaticResolved
	handlers[opPutStaticResolved] = putStaticResolved
}

// ---------------------------------------------------------------------------
// Host field access
// ---------------------------------------------------------------------------

// GetField reads an instance field of obj by name and descriptor.
func (vm *VM) GetField(t *Thread, obj *Object, name, desc string) (v Value, err error) {
	err = vm.guard(func() {
		f := vm.instanceField(t, obj, name, desc)
		v = accessorFor(f.sort).read(vm.mm, obj, f.Offset)
	})
	return v, err
}

// SetField writes an instance field of obj by name and descriptor.
func (vm *VM) SetField(t *Thread, obj *Object, name, desc string, v Value) error {
	return vm.guard(func() {
		f := vm.instanceField(t, obj, name, desc)
		accessorFor(f.sort).write(vm.mm, obj, f.Offset, v)
	})
}

// GetStatic initializes class and reads one of its static fields.
func (vm *VM) GetStatic(t *Thread, class, name, desc string) (v Value, err error) {
	err = vm.guard(func() {
		f := vm.staticField(t, class, name, desc)
		v = accessorFor(f.sort).read(vm.mm, f.owner.oop, f.Offset)
	})
	return v, err
}

// SetStatic initializes class and writes one of its static fields.
func (vm *VM) SetStatic(t *Thread, class, name, desc string, v Value) error {
	return vm.guard(func() {
		f := vm.staticField(t, class, name, desc)
		accessorFor(f.sort).write(vm.mm, f.owner.oop, f.Offset, v)
	})
}

func (vm *VM) instanceField(t *Thread, obj *Object, name, desc string) *JavaField {
	if obj == nil {
		vm.throwf(t, NullPointerException, "Cannot access field %q of null", name)
	}
	c, ok := vm.mm.ClassOf(obj).(*InstanceClass)
	if !ok {
		vm.throwf(t, NoSuchFieldError, "%s", name)
	}
	f := c.Field(name, desc)
	if f == nil || f.IsStatic() {
		vm.throwf(t, NoSuchFieldError, "%s.%s", externalName(c.name), name)
	}
	return f
}

func (vm *VM) staticField(t *Thread, class, name, desc string) *JavaField {
	c := vm.boot.loadInstance(t, class)
	c.Initialize(t)
	f := c.Field(name, desc)
	if f == nil || !f.IsStatic() {
		vm.throwf(t, NoSuchFieldError, "%s.%s", externalName(class), name)
	}
	f.owner.Initialize(t)
	return f
}
