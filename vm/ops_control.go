package vm

import (
	cf "github.com/chazu/mocha/classfile"
)

// branchIf returns a handler that pops an int and jumps when cond holds.
func branchIf(cond func(v int32) bool) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		if cond(ctx.Stack.PopInt()) {
			return ctx.jump(n.Insn().Target)
		}
		return Continue
	}
}

// branchIfCmp returns a handler that pops two ints and jumps when cond
// holds.
func branchIfCmp(cond func(a, b int32) bool) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopInt()
		a := ctx.Stack.PopInt()
		if cond(a, b) {
			return ctx.jump(n.Insn().Target)
		}
		return Continue
	}
}

func branchIfRef(cond func(a, b *Object) bool) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopRef()
		a := ctx.Stack.PopRef()
		if cond(a, b) {
			return ctx.jump(n.Insn().Target)
		}
		return Continue
	}
}

func branchIfNull(null bool) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		if (ctx.Stack.PopRef() == nil) == null {
			return ctx.jump(n.Insn().Target)
		}
		return Continue
	}
}

// compareFloat orders a and b, answering nan when either is NaN.
func compareFloat(a, b float64, nan int32) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	return nan
}

func registerControlOps() {
	on(cf.LCMP, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopLong()
		a := ctx.Stack.PopLong()
		var r int32
		switch {
		case a < b:
			r = -1
		case a > b:
			r = 1
		}
		ctx.Stack.PushInt(r)
		return Continue
	})
	fcmp := func(nan int32) handler {
		return func(vm *VM, ctx *ExecutionContext, n Node) Result {
			b := ctx.Stack.PopFloat()
			a := ctx.Stack.PopFloat()
			ctx.Stack.PushInt(compareFloat(float64(a), float64(b), nan))
			return Continue
		}
	}
	dcmp := func(nan int32) handler {
		return func(vm *VM, ctx *ExecutionContext, n Node) Result {
			b := ctx.Stack.PopDouble()
			a := ctx.Stack.PopDouble()
			ctx.Stack.PushInt(compareFloat(a, b, nan))
			return Continue
		}
	}
	on(cf.FCMPL, fcmp(-1))
	on(cf.FCMPG, fcmp(1))
	on(cf.DCMPL, dcmp(-1))
	on(cf.DCMPG, dcmp(1))

	on(cf.IFEQ, branchIf(func(v int32) bool { return v == 0 }))
	on(cf.IFNE, branchIf(func(v int32) bool { return v != 0 }))
	on(cf.IFLT, branchIf(func(v int32) bool { return v < 0 }))
	on(cf.IFGE, branchIf(func(v int32) bool { return v >= 0 }))
	on(cf.IFGT, branchIf(func(v int32) bool { return v > 0 }))
	on(cf.IFLE, branchIf(func(v int32) bool { return v <= 0 }))
	on(cf.IF_ICMPEQ, branchIfCmp(func(a, b int32) bool { return a == b }))
	on(cf.IF_ICMPNE, branchIfCmp(func(a, b int32) bool { return a != b }))
	on(cf.IF_ICMPLT, branchIfCmp(func(a, b int32) bool { return a < b }))
	on(cf.IF_ICMPGE, branchIfCmp(func(a, b int32) bool { return a >= b }))
	on(cf.IF_ICMPGT, branchIfCmp(func(a, b int32) bool { return a > b }))
	on(cf.IF_ICMPLE, branchIfCmp(func(a, b int32) bool { return a <= b }))
	on(cf.IF_ACMPEQ, branchIfRef(SameObject))
	on(cf.IF_ACMPNE, branchIfRef(func(a, b *Object) bool { return !SameObject(a, b) }))
	on(cf.IFNULL, branchIfNull(true))
	on(cf.IFNONNULL, branchIfNull(false))
	on(cf.GOTO, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		return ctx.jump(n.Insn().Target)
	})

	ret := func(vm *VM, ctx *ExecutionContext, n Node) Result {
		return ctx.finish(ctx.Stack.Pop())
	}
	for _, op := range []cf.Opcode{cf.IRETURN, cf.LRETURN, cf.FRETURN, cf.DRETURN, cf.ARETURN} {
		on(op, ret)
	}
	on(cf.RETURN, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		return ctx.finish(Void)
	})
}
