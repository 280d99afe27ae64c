package vm

import (
	"fmt"

	"github.com/chazu/mocha/classfile"
)

// VMException carries a guest throwable through the host stack. The engine
// raises it by panicking; the dispatch loop catches it against exception
// tables, and the public API returns it as an error.
type VMException struct {
	Throwable *Object
	vm        *VM
}

func (e *VMException) Error() string {
	return e.vm.describe(e.Throwable)
}

// ClassName returns the internal name of the throwable's class.
func (e *VMException) ClassName() string {
	return e.vm.mm.ClassOf(e.Throwable).Name()
}

// Message returns the throwable's detail message.
func (e *VMException) Message() string {
	return e.vm.ThrowableMessage(e.Throwable)
}

// Cause returns the throwable's cause, or nil.
func (e *VMException) Cause() *Object {
	return e.vm.ThrowableCause(e.Throwable)
}

// throwf raises a new throwable of class with a formatted message. A nil
// thread raises on the system thread.
func (vm *VM) throwf(t *Thread, class string, format string, args ...any) {
	vm.throwCause(t, class, nil, format, args...)
}

// throwCause is throwf with a cause.
func (vm *VM) throwCause(t *Thread, class string, cause *Object, format string, args ...any) {
	if t == nil {
		t = vm.system
	}
	msg := fmt.Sprintf(format, args...)
	log.Debugf("%s raises %s: %s", t, class, msg)
	panic(&VMException{Throwable: vm.newThrowable(t, class, msg, cause), vm: vm})
}

// throw raises an existing throwable. A null throwable raises
// NullPointerException instead.
func (vm *VM) throw(t *Thread, throwable *Object) {
	if throwable == nil {
		vm.throwf(t, NullPointerException, "Cannot throw null")
	}
	panic(&VMException{Throwable: throwable, vm: vm})
}

// outOfMemory raises OutOfMemoryError for a request of size bytes. Building
// the error allocates its message, which may itself not fit; an allocation
// failing while another is being reported raises the error preallocated at
// boot, which has no message.
func (vm *VM) outOfMemory(size, limit int64) {
	if vm.oom == nil {
		faultf("cannot allocate %d bytes (limit %d) before boot completes", size, limit)
	}
	if !vm.reportingOOM.CompareAndSwap(false, true) {
		panic(&VMException{Throwable: vm.oom, vm: vm})
	}
	thrown := func() *Object {
		defer vm.reportingOOM.Store(false)
		return vm.catch(func() {
			vm.throwf(nil, OutOfMemoryError, "cannot allocate %d bytes (limit %d)", size, limit)
		})
	}()
	panic(&VMException{Throwable: thrown, vm: vm})
}

// newThrowable instantiates class and sets its message and cause directly,
// without running a constructor, so raising works at any call depth.
func (vm *VM) newThrowable(t *Thread, class string, msg string, cause *Object) *Object {
	if t == nil {
		t = vm.system
	}
	c := vm.boot.loadInstance(t, class)
	c.Initialize(t)
	obj := vm.mm.NewInstance(c)
	if msg != "" {
		if f := c.Field(detailMessageField, classfile.Descriptor(StringClass)); f != nil {
			vm.mm.WriteReference(obj, f.Offset, vm.NewString(t, msg))
		}
	}
	if cause != nil {
		if f := c.Field(causeField, classfile.Descriptor(ThrowableClass)); f != nil {
			vm.mm.WriteReference(obj, f.Offset, cause)
		}
	}
	return obj
}

// isError reports whether obj is a java/lang/Error.
func (vm *VM) isError(obj *Object) bool {
	return vm.isInstanceOf(obj, ErrorClass)
}

func (vm *VM) isInstanceOf(obj *Object, class string) bool {
	if obj == nil {
		return false
	}
	c := vm.boot.FindLoaded(class)
	return c != nil && c.IsAssignableFrom(vm.mm.ClassOf(obj))
}

// ThrowableMessage returns the detail message of a throwable.
func (vm *VM) ThrowableMessage(obj *Object) string {
	c, ok := vm.mm.ClassOf(obj).(*InstanceClass)
	if !ok {
		return ""
	}
	f := c.Field(detailMessageField, classfile.Descriptor(StringClass))
	if f == nil {
		return ""
	}
	return vm.GoString(vm.mm.ReadReference(obj, f.Offset))
}

// ThrowableCause returns the cause of a throwable, or nil.
func (vm *VM) ThrowableCause(obj *Object) *Object {
	c, ok := vm.mm.ClassOf(obj).(*InstanceClass)
	if !ok {
		return nil
	}
	f := c.Field(causeField, classfile.Descriptor(ThrowableClass))
	if f == nil {
		return nil
	}
	return vm.mm.ReadReference(obj, f.Offset)
}

// describe renders a throwable as "java.lang.Foo: message".
func (vm *VM) describe(obj *Object) string {
	if obj == nil {
		return "null"
	}
	name := externalName(vm.mm.ClassOf(obj).Name())
	if msg := vm.ThrowableMessage(obj); msg != "" {
		return name + ": " + msg
	}
	return name
}
