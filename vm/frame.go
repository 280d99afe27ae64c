package vm

// ---------------------------------------------------------------------------
// Stack: the operand stack of a frame
// ---------------------------------------------------------------------------

// Stack is a bounded operand stack. A long or double occupies two slots:
// the value followed by a top marker. Overflow and underflow are Faults.
type Stack struct {
	slots []Value
	sp    int
}

// NewStack creates a stack of max slots.
func NewStack(max int) *Stack {
	return &Stack{slots: make([]Value, max)}
}

// Len returns the number of occupied slots.
func (s *Stack) Len() int { return s.sp }

// Push pushes v, taking two slots if it is wide.
func (s *Stack) Push(v Value) {
	s.PushRaw(v)
	if v.IsWide() {
		s.PushRaw(top)
	}
}

// PushRaw pushes a single slot as is.
func (s *Stack) PushRaw(v Value) {
	if s.sp >= len(s.slots) {
		faultf("operand stack overflow (max %d)", len(s.slots))
	}
	s.slots[s.sp] = v
	s.sp++
}

// PopRaw pops a single slot as is.
func (s *Stack) PopRaw() Value {
	if s.sp == 0 {
		faultf("operand stack underflow")
	}
	s.sp--
	v := s.slots[s.sp]
	s.slots[s.sp] = Value{}
	return v
}

// Pop pops one value, both slots of a wide one.
func (s *Stack) Pop() Value {
	v := s.PopRaw()
	if v.tag == TagTop {
		v = s.PopRaw()
		if !v.IsWide() {
			faultf("top marker above %s slot", v.tag)
		}
	}
	return v
}

func (s *Stack) PopInt() int32      { return s.Pop().AsInt() }
func (s *Stack) PopLong() int64     { return s.Pop().AsLong() }
func (s *Stack) PopFloat() float32  { return s.Pop().AsFloat() }
func (s *Stack) PopDouble() float64 { return s.Pop().AsDouble() }
func (s *Stack) PopRef() *Object    { return s.Pop().AsRef() }

func (s *Stack) PushInt(v int32)      { s.PushRaw(Int(v)) }
func (s *Stack) PushLong(v int64)     { s.Push(Long(v)) }
func (s *Stack) PushFloat(v float32)  { s.PushRaw(Float(v)) }
func (s *Stack) PushDouble(v float64) { s.Push(Double(v)) }
func (s *Stack) PushRef(o *Object)    { s.PushRaw(Ref(o)) }

// PeekAt returns the slot depth positions below the top without popping.
func (s *Stack) PeekAt(depth int) Value {
	i := s.sp - 1 - depth
	if i < 0 || i >= s.sp {
		faultf("operand stack peek at depth %d of %d", depth, s.sp)
	}
	return s.slots[i]
}

// Clear empties the stack.
func (s *Stack) Clear() {
	clear(s.slots[:s.sp])
	s.sp = 0
}

// SinkInto moves the top n slots into locals 0..n-1, preserving their
// order. It is how a caller's arguments become a callee's locals.
func (s *Stack) SinkInto(l *Locals, n int) {
	if n > s.sp {
		faultf("operand stack underflow: need %d argument slots, have %d", n, s.sp)
	}
	if n > len(l.slots) {
		faultf("%d argument slots exceed %d locals", n, len(l.slots))
	}
	base := s.sp - n
	copy(l.slots, s.slots[base:s.sp])
	clear(s.slots[base:s.sp])
	s.sp = base
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

// Locals is the fixed-size local variable array of a frame.
type Locals struct {
	slots []Value
}

// NewLocals creates n local slots.
func NewLocals(n int) *Locals {
	return &Locals{slots: make([]Value, n)}
}

// Len returns the number of slots.
func (l *Locals) Len() int { return len(l.slots) }

// Get returns the value at index i.
func (l *Locals) Get(i int) Value {
	if i < 0 || i >= len(l.slots) {
		faultf("local %d out of range (%d locals)", i, len(l.slots))
	}
	return l.slots[i]
}

// Set stores v at index i; a wide value also claims slot i+1.
func (l *Locals) Set(i int, v Value) {
	n := 1
	if v.IsWide() {
		n = 2
	}
	if i < 0 || i+n > len(l.slots) {
		faultf("local %d out of range (%d locals)", i, len(l.slots))
	}
	l.slots[i] = v
	if n == 2 {
		l.slots[i+1] = top
	}
}

func (l *Locals) Int(i int) int32   { return l.Get(i).AsInt() }
func (l *Locals) Long(i int) int64  { return l.Get(i).AsLong() }
func (l *Locals) Ref(i int) *Object { return l.Get(i).AsRef() }
