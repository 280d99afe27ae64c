package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Thread is a guest thread. Each goroutine executing guest code uses its
// own Thread; a Thread is never shared between goroutines at the same time.
type Thread struct {
	ID   uuid.UUID
	Name string

	vm    *VM
	ctx   context.Context
	depth int
}

// NewThread creates a guest thread bound to ctx. Cancelling ctx interrupts
// the thread at its next call or blocking wait.
func (vm *VM) NewThread(ctx context.Context, name string) *Thread {
	if ctx == nil {
		ctx = context.Background()
	}
	t := &Thread{ID: uuid.New(), Name: name, vm: vm, ctx: ctx}
	log.Debugf("thread %s (%s) started", name, t.ID)
	return t
}

// Context returns the thread's context.
func (t *Thread) Context() context.Context { return t.ctx }

// Depth returns the number of guest frames the thread is executing.
func (t *Thread) Depth() int { return t.depth }

func (t *Thread) String() string {
	return fmt.Sprintf("%s[%s]", t.Name, t.ID.String()[:8])
}

// checkInterrupt raises an Interrupt if the thread's context is done.
func (t *Thread) checkInterrupt() {
	if err := t.ctx.Err(); err != nil {
		panic(&Interrupt{Thread: t.Name, Reason: "cancelled", Cause: err})
	}
}

// await blocks until done is closed, the thread's context ends, or timeout
// elapses. Giving up raises an Interrupt.
func (t *Thread) await(done <-chan struct{}, timeout time.Duration, what string) {
	select {
	case <-done:
		return
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
	case <-t.ctx.Done():
		panic(&Interrupt{Thread: t.Name, Reason: "cancelled waiting for " + what, Cause: t.ctx.Err()})
	case <-expired:
		panic(&Interrupt{Thread: t.Name, Reason: fmt.Sprintf("timed out after %s waiting for %s", timeout, what)})
	}
}

// enter pushes a guest frame, raising StackOverflowError past the VM's
// call depth limit.
func (t *Thread) enter() {
	t.checkInterrupt()
	if t.depth >= t.vm.opts.MaxCallDepth {
		t.vm.throwf(t, StackOverflowError, "call depth exceeds %d", t.vm.opts.MaxCallDepth)
	}
	t.depth++
}

func (t *Thread) leave() { t.depth-- }
