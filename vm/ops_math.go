package vm

import (
	"math"

	cf "github.com/chazu/mocha/classfile"
)

func intOp(f func(a, b int32) int32) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopInt()
		a := ctx.Stack.PopInt()
		ctx.Stack.PushInt(f(a, b))
		return Continue
	}
}

func longOp(f func(a, b int64) int64) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopLong()
		a := ctx.Stack.PopLong()
		ctx.Stack.PushLong(f(a, b))
		return Continue
	}
}

func floatOp(f func(a, b float32) float32) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopFloat()
		a := ctx.Stack.PopFloat()
		ctx.Stack.PushFloat(f(a, b))
		return Continue
	}
}

func doubleOp(f func(a, b float64) float64) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopDouble()
		a := ctx.Stack.PopDouble()
		ctx.Stack.PushDouble(f(a, b))
		return Continue
	}
}

// longShift pops an int shift count above a long.
func longShift(f func(a int64, s uint) int64) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		s := ctx.Stack.PopInt()
		a := ctx.Stack.PopLong()
		ctx.Stack.PushLong(f(a, uint(s&63)))
		return Continue
	}
}

func divideByZero(vm *VM, ctx *ExecutionContext) {
	vm.throwf(ctx.Thread, ArithmeticException, "/ by zero")
}

// Integer division and remainder by -1 of the most negative value wrap
// rather than trap, in Go as in the class-file semantics.
func registerMathOps() {
	on(cf.IADD, intOp(func(a, b int32) int32 { return a + b }))
	on(cf.ISUB, intOp(func(a, b int32) int32 { return a - b }))
	on(cf.IMUL, intOp(func(a, b int32) int32 { return a * b }))
	on(cf.IAND, intOp(func(a, b int32) int32 { return a & b }))
	on(cf.IOR, intOp(func(a, b int32) int32 { return a | b }))
	on(cf.IXOR, intOp(func(a, b int32) int32 { return a ^ b }))
	on(cf.ISHL, intOp(func(a, b int32) int32 { return a << uint(b&31) }))
	on(cf.ISHR, intOp(func(a, b int32) int32 { return a >> uint(b&31) }))
	on(cf.IUSHR, intOp(func(a, b int32) int32 { return int32(uint32(a) >> uint(b&31)) }))
	on(cf.IDIV, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopInt()
		a := ctx.Stack.PopInt()
		if b == 0 {
			divideByZero(vm, ctx)
		}
		ctx.Stack.PushInt(a / b)
		return Continue
	})
	on(cf.IREM, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopInt()
		a := ctx.Stack.PopInt()
		if b == 0 {
			divideByZero(vm, ctx)
		}
		ctx.Stack.PushInt(a % b)
		return Continue
	})
	on(cf.INEG, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PushInt(-ctx.Stack.PopInt())
		return Continue
	})

	on(cf.LADD, longOp(func(a, b int64) int64 { return a + b }))
	on(cf.LSUB, longOp(func(a, b int64) int64 { return a - b }))
	on(cf.LMUL, longOp(func(a, b int64) int64 { return a * b }))
	on(cf.LAND, longOp(func(a, b int64) int64 { return a & b }))
	on(cf.LOR, longOp(func(a, b int64) int64 { return a | b }))
	on(cf.LXOR, longOp(func(a, b int64) int64 { return a ^ b }))
	on(cf.LSHL, longShift(func(a int64, s uint) int64 { return a << s }))
	on(cf.LSHR, longShift(func(a int64, s uint) int64 { return a >> s }))
	on(cf.LUSHR, longShift(func(a int64, s uint) int64 { return int64(uint64(a) >> s) }))
	on(cf.LDIV, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopLong()
		a := ctx.Stack.PopLong()
		if b == 0 {
			divideByZero(vm, ctx)
		}
		ctx.Stack.PushLong(a / b)
		return Continue
	})
	on(cf.LREM, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		b := ctx.Stack.PopLong()
		a := ctx.Stack.PopLong()
		if b == 0 {
			divideByZero(vm, ctx)
		}
		ctx.Stack.PushLong(a % b)
		return Continue
	})
	on(cf.LNEG, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PushLong(-ctx.Stack.PopLong())
		return Continue
	})

	on(cf.FADD, floatOp(func(a, b float32) float32 { return a + b }))
	on(cf.FSUB, floatOp(func(a, b float32) float32 { return a - b }))
	on(cf.FMUL, floatOp(func(a, b float32) float32 { return a * b }))
	on(cf.FDIV, floatOp(func(a, b float32) float32 { return a / b }))
	on(cf.FREM, floatOp(func(a, b float32) float32 { return float32(math.Mod(float64(a), float64(b))) }))
	on(cf.FNEG, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PushFloat(-ctx.Stack.PopFloat())
		return Continue
	})

	on(cf.DADD, doubleOp(func(a, b float64) float64 { return a + b }))
	on(cf.DSUB, doubleOp(func(a, b float64) float64 { return a - b }))
	on(cf.DMUL, doubleOp(func(a, b float64) float64 { return a * b }))
	on(cf.DDIV, doubleOp(func(a, b float64) float64 { return a / b }))
	on(cf.DREM, doubleOp(math.Mod))
	on(cf.DNEG, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.PushDouble(-ctx.Stack.PopDouble())
		return Continue
	})
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// floatToInt32 converts with saturation; NaN becomes 0.
func floatToInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

// floatToInt64 converts with saturation; NaN becomes 0.
func floatToInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func convert(f func(v Value) Value) handler {
	return func(vm *VM, ctx *ExecutionContext, n Node) Result {
		ctx.Stack.Push(f(ctx.Stack.Pop()))
		return Continue
	}
}

func registerConversionOps() {
	on(cf.I2L, convert(func(v Value) Value { return Long(int64(v.AsInt())) }))
	on(cf.I2F, convert(func(v Value) Value { return Float(float32(v.AsInt())) }))
	on(cf.I2D, convert(func(v Value) Value { return Double(float64(v.AsInt())) }))
	on(cf.L2I, convert(func(v Value) Value { return Int(int32(v.AsLong())) }))
	on(cf.L2F, convert(func(v Value) Value { return Float(float32(v.AsLong())) }))
	on(cf.L2D, convert(func(v Value) Value { return Double(float64(v.AsLong())) }))
	on(cf.F2I, convert(func(v Value) Value { return Int(floatToInt32(float64(v.AsFloat()))) }))
	on(cf.F2L, convert(func(v Value) Value { return Long(floatToInt64(float64(v.AsFloat()))) }))
	on(cf.F2D, convert(func(v Value) Value { return Double(float64(v.AsFloat())) }))
	on(cf.D2I, convert(func(v Value) Value { return Int(floatToInt32(v.AsDouble())) }))
	on(cf.D2L, convert(func(v Value) Value { return Long(floatToInt64(v.AsDouble())) }))
	on(cf.D2F, convert(func(v Value) Value { return Float(float32(v.AsDouble())) }))
	on(cf.I2B, convert(func(v Value) Value { return Int(int32(int8(v.AsInt()))) }))
	on(cf.I2C, convert(func(v Value) Value { return Int(int32(uint16(v.AsInt()))) }))
	on(cf.I2S, convert(func(v Value) Value { return Int(int32(int16(v.AsInt()))) }))
}
