package vm

import (
	"fmt"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Fault: unrecoverable engine invariant violations
// ---------------------------------------------------------------------------

// Fault reports a broken engine invariant: a missing or freed memory block,
// a double free, a negative or out-of-range offset, a slot read with the
// wrong tag, frame overflow, or a malformed redefinition.
//
// A Fault is raised by panicking with it after the process-wide fault
// handler has seen it. Guest exception handlers never catch a Fault and the
// public invoke API does not recover it.
type Fault struct {
	Message string
}

func (f *Fault) Error() string {
	return "vm fault: " + f.Message
}

var faultHandler atomic.Pointer[func(*Fault)]

// SetFaultHandler installs the process-wide fault channel. A nil handler
// restores the default, which logs the fault at critical level.
func SetFaultHandler(h func(*Fault)) {
	if h == nil {
		faultHandler.Store(nil)
		return
	}
	faultHandler.Store(&h)
}

func reportFault(f *Fault) {
	if h := faultHandler.Load(); h != nil {
		(*h)(f)
		return
	}
	log.Criticalf("%s", f.Message)
}

// faultf reports a Fault and panics with it.
func faultf(format string, args ...any) {
	f := &Fault{Message: fmt.Sprintf(format, args...)}
	reportFault(f)
	panic(f)
}

// ---------------------------------------------------------------------------
// Interrupt: cancelled or timed-out waits
// ---------------------------------------------------------------------------

// Interrupt is raised when a thread gives up waiting, either because its
// context was cancelled or because the initialization wait timed out. It is
// neither a guest throwable nor a Fault: guest handlers do not see it, and
// the public API returns it as an error.
type Interrupt struct {
	Thread string
	Reason string
	Cause  error
}

func (e *Interrupt) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("thread %s interrupted: %s: %v", e.Thread, e.Reason, e.Cause)
	}
	return fmt.Sprintf("thread %s interrupted: %s", e.Thread, e.Reason)
}

func (e *Interrupt) Unwrap() error { return e.Cause }
