package vm

// Result tells the dispatch loop what to do after a handler ran.
type Result uint8

const (
	// Continue proceeds with the instruction at the current position.
	Continue Result = iota
	// Jump proceeds at the position the handler stored.
	Jump
	// Abort leaves the method with the context's result.
	Abort
)

// ExecutionContext is one activation of a bytecode method.
type ExecutionContext struct {
	Method *JavaMethod
	Thread *Thread
	Stack  *Stack
	Locals *Locals

	code   *methodCode
	pos    int
	result Value
}

// Position returns the index of the next instruction.
func (ctx *ExecutionContext) Position() int { return ctx.pos }

// jump transfers control to target.
func (ctx *ExecutionContext) jump(target int) Result {
	ctx.pos = target
	return Jump
}

// finish leaves the method returning v.
func (ctx *ExecutionContext) finish(v Value) Result {
	ctx.result = v
	return Abort
}
