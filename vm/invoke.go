package vm

import (
	cf "github.com/chazu/mocha/classfile"
)

// ---------------------------------------------------------------------------
// Invocation protocol
// ---------------------------------------------------------------------------

// invokeFrom calls m with its arguments taken from the top of the caller's
// operand stack and pushes a non-void result back onto it.
func (vm *VM) invokeFrom(t *Thread, m *JavaMethod, caller *Stack) {
	locals := NewLocals(max(m.MaxLocals(), m.MaxArgs))
	caller.SinkInto(locals, m.MaxArgs)
	result := vm.call(t, m, locals)
	if m.Type.ReturnSort() != cf.SortVoid {
		caller.Push(result)
	}
}

// call runs m on prepared locals. A registered native invoker takes
// priority over everything else, so hosts can also replace bytecode
// methods.
func (vm *VM) call(t *Thread, m *JavaMethod, locals *Locals) Value {
	t.enter()
	defer t.leave()

	if inv, ok := vm.natives.lookup(m.Base()); ok {
		return inv(&NativeCall{VM: vm, Thread: t, Method: m, Locals: locals})
	}
	switch {
	case m.IsNative():
		vm.throwf(t, UnsatisfiedLinkError, "%s.%s%s", externalName(m.owner.name), m.Name, m.Desc)
	case m.IsAbstract():
		vm.throwf(t, AbstractMethodError, "%s.%s%s", externalName(m.owner.name), m.Name, m.Desc)
	}

	code := m.code.Load()
	ctx := &ExecutionContext{
		Method: m,
		Thread: t,
		Stack:  NewStack(code.maxStack),
		Locals: locals,
		code:   code,
	}
	return vm.execute(ctx)
}

// selectVirtual picks the implementation of name+desc for a receiver of
// class jc. Arrays dispatch as java/lang/Object.
func (vm *VM) selectVirtual(t *Thread, jc JavaClass, name, desc string) *JavaMethod {
	var c *InstanceClass
	switch jc := jc.(type) {
	case *InstanceClass:
		c = jc
	case *ArrayClass:
		c = vm.boot.loadInstance(t, ObjectClass)
	default:
		return nil
	}
	c.Link(t)
	return c.selectMethod(name, desc)
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// resolveMethod resolves a method reference through its symbolic owner and
// checks it against the invoking instruction.
func (vm *VM) resolveMethod(ctx *ExecutionContext, insn *cf.Insn) *JavaMethod {
	t := ctx.Thread
	var c *InstanceClass
	switch jc := ctx.Method.owner.loader.LoadClass(t, insn.Owner).(type) {
	case *InstanceClass:
		c = jc
	case *ArrayClass:
		c = vm.boot.loadInstance(t, ObjectClass)
	}
	c.Link(t)

	if insn.Op == cf.INVOKEINTERFACE && !c.IsInterface() {
		vm.throwf(t, IncompatibleClassChangeError, "Found class %s, but interface was expected", externalName(c.name))
	}
	m := c.Method(insn.Name, insn.Desc)
	if m == nil {
		vm.throwf(t, NoSuchMethodError, "'%s %s.%s'", insn.Desc, externalName(c.name), insn.Name)
	}
	if static := insn.Op == cf.INVOKESTATIC; m.IsStatic() != static {
		kind := "non-static"
		if static {
			kind = "static"
		}
		vm.throwf(t, IncompatibleClassChangeError, "Expected %s method %s", kind, m)
	}
	return m
}

// callSite resolves a call node and publishes its cache.
func callSite(op int) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		cn := n.(*callNode)
		m := vm.resolveMethod(ctx, &cn.insn)
		c := &callCache{op: op, method: m}
		if op == opInvokeVirtualCached || op == opInvokeInterfaceCached {
			c.pic = NewInlineCache()
		}
		cn.resolve(c)
		ctx.pos--
		return Continue
	}
}

// receiver returns the receiver of a call to m waiting on the stack.
func (vm *VM) receiver(ctx *ExecutionContext, m *JavaMethod) *Object {
	recv := ctx.Stack.PeekAt(m.MaxArgs - 1).AsRef()
	if recv == nil {
		vm.throwf(ctx.Thread, NullPointerException, "Cannot invoke \"%s.%s()\" because value is null",
			externalName(m.owner.name), m.Name)
	}
	return recv
}

// ---------------------------------------------------------------------------
// Resolved handlers
// ---------------------------------------------------------------------------

func invokeStaticResolved(vm *VM, ctx *ExecutionContext, n Node) Result {
	m := n.(*callNode).cache.Load().method
	if m.owner.State() != Complete {
		m.owner.Initialize(ctx.Thread)
	}
	vm.invokeFrom(ctx.Thread, m, ctx.Stack)
	return Continue
}

func invokeSpecialResolved(vm *VM, ctx *ExecutionContext, n Node) Result {
	m := n.(*callNode).cache.Load().method
	vm.receiver(ctx, m)
	vm.invokeFrom(ctx.Thread, m, ctx.Stack)
	return Continue
}

// invokeCached dispatches on the receiver's class through the site's
// inline cache, selecting and recording the target on a miss.
func invokeCached(vm *VM, ctx *ExecutionContext, n Node) Result {
	c := n.(*callNode).cache.Load()
	m := c.method
	recv := vm.receiver(ctx, m)
	if m.base != nil {
		vm.invokeFrom(ctx.Thread, m, ctx.Stack)
		return Continue
	}

	class := vm.mm.ClassOf(recv)
	target := c.pic.Lookup(class)
	if target == nil {
		target = vm.selectVirtual(ctx.Thread, class, m.Name, m.Desc)
		if target == nil || target.IsAbstract() {
			vm.throwf(ctx.Thread, AbstractMethodError, "Receiver class %s does not define or inherit an implementation of %s%s",
				externalName(class.Name()), m.Name, m.Desc)
		}
		c.pic.Update(class, target)
	}
	vm.invokeFrom(ctx.Thread, target, ctx.Stack)
	return Continue
}

func registerInvokeOps() {
	on(cf.INVOKESTATIC, callSite(opInvokeStaticResolved))
	on(cf.INVOKESPECIAL, callSite(opInvokeSpecialResolved))
	on(cf.INVOKEVIRTUAL, callSite(opInvokeVirtualCached))
	on(cf.INVOKEINTERFACE, callSite(opInvokeInterfaceCached))
	handlers[opInvokeStaticResolved] = invokeStaticResolved
	handlers[opInvokeSpecialResolved] = invokeSpecialResolved
	handlers[opInvokeVirtualCached] = invokeCached
	handlers[opInvokeInterfaceCached] = invokeCached
}
