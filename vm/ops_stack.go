package vm

import (
	cf "github.com/chazu/mocha/classfile"
)

func on(op cf.Opcode, h handler) { handlers[op] = h }

// push returns a handler pushing a fixed value.
func push(v Value) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.Push(v)
		return Continue
	}
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func registerConstantOps() {
	on(cf.NOP, func(vm *VM, ctx *ExecutionContext, n Node) Result { return Continue })
	on(cf.ACONST_NULL, push(Null))
	on(cf.ICONST_M1, push(Int(-1)))
	on(cf.ICONST_0, push(Int(0)))
	on(cf.ICONST_1, push(Int(1)))
	on(cf.ICONST_2, push(Int(2)))
	on(cf.ICONST_3, push(Int(3)))
	on(cf.ICONST_4, push(Int(4)))
	on(cf.ICONST_5, push(Int(5)))
	on(cf.LCONST_0, push(Long(0)))
	on(cf.LCONST_1, push(Long(1)))
	on(cf.FCONST_0, push(Float(0)))
	on(cf.FCONST_1, push(Float(1)))
	on(cf.FCONST_2, push(Float(2)))
	on(cf.DCONST_0, push(Double(0)))
	on(cf.DCONST_1, push(Double(1)))

	immediate := func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PushInt(int32(n.Insn().Operand))
		return Continue
	}
	on(cf.BIPUSH, immediate)
	on(cf.SIPUSH, immediate)

	on(cf.LDC, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		c := n.Insn().Const
		if c == nil {
			faultf("%s: ldc without constant at %d", ctx.Method, ctx.pos-1)
		}
		ctx.Stack.Push(vm.constantValue(ctx.Thread, c))
		return Continue
	})
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

// loadAs returns a load handler checking the slot's tag.
func loadAs(tag Tag) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		v := ctx.Locals.Get(n.Insn().Var)
		if v.tag != tag && !(tag == TagRef && v.tag == TagNull) {
			faultf("%s: %s of %s local %d", ctx.Method, n.Insn().Op, v.tag, n.Insn().Var)
		}
		ctx.Stack.Push(v)
		return Continue
	}
}

func store(vm *VM, ctx *ExecutionContext, n Node) Result {
	ctx.Locals.Set(n.Insn().Var, ctx.Stack.Pop())
	return Continue
}

func registerLocalOps() {
	on(cf.ILOAD, loadAs(TagInt))
	on(cf.LLOAD, loadAs(TagLong))
	on(cf.FLOAD, loadAs(TagFloat))
	on(cf.DLOAD, loadAs(TagDouble))
	on(cf.ALOAD, loadAs(TagRef))
	for _, op := range []cf.Opcode{cf.ISTORE, cf.LSTORE, cf.FSTORE, cf.DSTORE, cf.ASTORE} {
		on(op, store)
	}
	on(cf.IINC, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		insn := n.Insn()
		ctx.Locals.Set(insn.Var, Int(ctx.Locals.Int(insn.Var)+int32(insn.Operand)))
		return Continue
	})
}

// ---------------------------------------------------------------------------
// Stack manipulation
// ---------------------------------------------------------------------------

// Stack instructions move raw slots, so a wide value is handled as its two
// slots exactly as the class-file forms expect.
func registerStackOps() {
	on(cf.POP, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PopRaw()
		return Continue
	})
	on(cf.POP2, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PopRaw()
		ctx.Stack.PopRaw()
		return Continue
	})
	on(cf.DUP, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PushRaw(ctx.Stack.PeekAt(0))
		return Continue
	})
	on(cf.DUP_X1, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		v1 := ctx.Stack.PopRaw()
		v2 := ctx.Stack.PopRaw()
		ctx.Stack.PushRaw(v1)
		ctx.Stack.PushRaw(v2)
		ctx.Stack.PushRaw(v1)
		return Continue
	})
	on(cf.DUP2, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		v2, v1 := ctx.Stack.PeekAt(1), ctx.Stack.PeekAt(0)
		ctx.Stack.PushRaw(v2)
		ctx.Stack.PushRaw(v1)
		return Continue
	})
	on(cf.SWAP, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		v1 := ctx.Stack.PopRaw()
		v2 := ctx.Stack.PopRaw()
		ctx.Stack.PushRaw(v1)
		ctx.Stack.PushRaw(v2)
		return Continue
	})
}
