package vm

import "github.com/chazu/mocha/classfile"

// handler executes one node. Handlers advance by returning Continue,
// transfer control with ctx.jump, and leave the method with ctx.finish.
type handler func(vm *VM, ctx *ExecutionContext, n Node) Result

var handlers [opCount]handler

func init() {
	registerConstantOps()
	registerLocalOps()
	registerStackOps()
	registerMathOps()
	registerConversionOps()
	registerControlOps()
	registerObjectOps()
	registerArrayOps()
	registerFieldOps()
	registerInvokeOps()
	for op, h := range handlers {
		if h == nil && (op >= 256 || classfile.Opcode(op).Known()) {
			panic("vm: no handler for " + OpcodeName(op))
		}
	}
}

func unknownOpcode(vm *VM, ctx *ExecutionContext, n Node) Result {
	faultf("%s: unknown opcode %s at %d", ctx.Method, OpcodeName(n.Opcode()), ctx.pos-1)
	return Abort
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// execute runs a method activation to completion and returns its result.
// A throwable raised inside the method is matched against the method's
// exception table; one that no entry covers propagates to the caller.
func (vm *VM) execute(ctx *ExecutionContext) Value {
	for !vm.dispatch(ctx) {
	}
	return ctx.result
}

// dispatch runs nodes until the method returns, which reports true, or
// until a throwable was routed to a handler in this method, which reports
// false so execute resumes there.
func (vm *VM) dispatch(ctx *ExecutionContext) (done bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		exc, ok := r.(*VMException)
		if !ok {
			panic(r)
		}
		target, ok := vm.findHandler(ctx, ctx.pos-1, exc.Throwable)
		if !ok {
			panic(r)
		}
		ctx.Stack.Clear()
		ctx.Stack.PushRef(exc.Throwable)
		ctx.pos = target
		done = false
	}()

	nodes := ctx.code.nodes
	for {
		if ctx.pos < 0 || ctx.pos >= len(nodes) {
			faultf("%s: execution left the code at %d", ctx.Method, ctx.pos)
		}
		n := nodes[ctx.pos]
		ctx.pos++
		h := unknownOpcode
		if op := n.Opcode(); op < len(handlers) && handlers[op] != nil {
			h = handlers[op]
		}
		if h(vm, ctx, n) == Abort {
			return true
		}
	}
}

// findHandler returns the first exception table entry covering pc whose
// catch type accepts throwable. Catch types are loaded through the
// method's loader.
func (vm *VM) findHandler(ctx *ExecutionContext, pc int, throwable *Object) (int, bool) {
	for _, tc := range ctx.code.handlers {
		if pc < tc.Start || pc >= tc.End {
			continue
		}
		if tc.Type == "" {
			return tc.Handler, true
		}
		catch := ctx.Method.owner.loader.loadInstance(ctx.Thread, tc.Type)
		if catch.IsAssignableFrom(vm.mm.ClassOf(throwable)) {
			return tc.Handler, true
		}
	}
	return 0, false
}
