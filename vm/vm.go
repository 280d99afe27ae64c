// Package vm implements the mocha virtual machine: a simulated heap with
// synthetic addresses, the class model that lays out and initializes
// classes, and an interpreter with inline-cached call sites and field
// accesses.
package vm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/chazu/mocha/classfile"
	"github.com/chazu/mocha/classpath"
)

// Options tune a VM.
type Options struct {
	// MaxBlockSize is the largest block an allocation may request; larger
	// requests raise OutOfMemoryError.
	MaxBlockSize int64
	// MaxCallDepth bounds guest frames per thread; deeper calls raise
	// StackOverflowError.
	MaxCallDepth int
	// InitWaitTimeout bounds how long a thread waits for another thread's
	// class loading or initialization. Zero waits until the thread's
	// context ends.
	InitWaitTimeout time.Duration
	// PolymorphicCacheSize bounds the memoized signature-polymorphic
	// method views.
	PolymorphicCacheSize int
}

// MinBlockSize is the smallest MaxBlockSize a VM accepts: the runtime
// class oops and the preallocated OutOfMemoryError must fit.
const MinBlockSize = 64

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		MaxBlockSize:         1<<31 - 1,
		MaxCallDepth:         1024,
		InitWaitTimeout:      30 * time.Second,
		PolymorphicCacheSize: 256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxBlockSize <= 0 {
		o.MaxBlockSize = d.MaxBlockSize
	}
	if o.MaxCallDepth <= 0 {
		o.MaxCallDepth = d.MaxCallDepth
	}
	if o.InitWaitTimeout < 0 {
		o.InitWaitTimeout = 0
	}
	if o.PolymorphicCacheSize <= 0 {
		o.PolymorphicCacheSize = d.PolymorphicCacheSize
	}
	return o
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is a virtual machine instance. All of its methods are safe for
// concurrent use by goroutines running distinct Threads.
type VM struct {
	ID uuid.UUID

	opts       Options
	mm         *MemoryManager
	boot       *Loader
	natives    *Natives
	metaclass  *InstanceClass
	primitives map[classfile.Sort]*PrimitiveClass
	polyViews  *lru.Cache[string, *JavaMethod]
	strings    cmap.ConcurrentMap[string, *Object]
	system     *Thread

	// oom is raised when reporting an allocation failure fails itself.
	oom          *Object
	reportingOOM atomic.Bool

	// booting is set while java/lang/Object and java/lang/Class are linked,
	// before any class oop can be allocated.
	booting bool
}

// New creates a VM loading classes from source. The runtime classes from
// classpath.Runtime are consulted after source; a nil source means the
// runtime classes alone.
func New(source classpath.Source, opts Options) (vm *VM, err error) {
	opts = opts.withDefaults()
	if opts.MaxBlockSize < MinBlockSize {
		return nil, fmt.Errorf("vm: max block size %d is below the minimum of %d bytes", opts.MaxBlockSize, MinBlockSize)
	}
	views, err := lru.New[string, *JavaMethod](opts.PolymorphicCacheSize)
	if err != nil {
		return nil, fmt.Errorf("vm: %w", err)
	}

	var src classpath.Source = classpath.Runtime()
	if source != nil {
		src = classpath.Chain{source, src}
	}

	vm = &VM{
		ID:         uuid.New(),
		opts:       opts,
		natives:    newNatives(),
		primitives: make(map[classfile.Sort]*PrimitiveClass),
		polyViews:  views,
		strings:    cmap.New[*Object](),
	}
	vm.mm = newMemoryManager(vm, opts.MaxBlockSize)
	vm.boot = newLoader(vm, "bootstrap", src, nil)
	vm.system = vm.NewThread(context.Background(), "system")
	registerBuiltinNatives(vm.natives)

	if err := vm.guard(vm.bootstrap); err != nil {
		return nil, fmt.Errorf("vm: bootstrap: %w", err)
	}
	log.Infof("vm %s started", vm.ID)
	return vm, nil
}

// bootstrap links java/lang/Object and java/lang/Class, then gives them and
// the primitive classes their oops. The metaclass oop is its own class.
func (vm *VM) bootstrap() {
	t := vm.system
	object := vm.boot.loadInstance(t, ObjectClass)
	vm.metaclass = vm.boot.loadInstance(t, ClassClass)

	vm.booting = true
	object.Link(t)
	vm.metaclass.Link(t)
	vm.booting = false

	vm.metaclass.oop = vm.mm.NewClassOop(vm.metaclass, vm.metaclass.ClassOopSize())
	object.oop = vm.mm.NewClassOop(object, object.ClassOopSize())

	for sort := range primitiveNames {
		vm.primitives[sort] = newPrimitiveClass(vm, sort)
	}

	// Preloading the error raised by failed allocations keeps that path
	// free of class loading.
	oom := vm.boot.loadInstance(t, OutOfMemoryError)
	oom.Initialize(t)
	vm.oom = vm.mm.NewInstance(oom)
}

// Options returns the VM's effective options.
func (vm *VM) Options() Options { return vm.opts }

// Memory returns the memory manager.
func (vm *VM) Memory() *MemoryManager { return vm.mm }

// Natives returns the native method registry.
func (vm *VM) Natives() *Natives { return vm.natives }

// BootLoader returns the loader for the VM's class source.
func (vm *VM) BootLoader() *Loader { return vm.boot }

// NewLoader creates an additional loader over source whose parent is the
// bootstrap loader.
func (vm *VM) NewLoader(name string, source classpath.Source) *Loader {
	return newLoader(vm, name, source, vm.boot)
}

// Metaclass returns java/lang/Class.
func (vm *VM) Metaclass() *InstanceClass { return vm.metaclass }

// Primitive returns the class of a primitive sort.
func (vm *VM) Primitive(sort classfile.Sort) *PrimitiveClass {
	pc, ok := vm.primitives[sort]
	if !ok {
		faultf("no primitive class for sort %d", sort)
	}
	return pc
}

// ClassOf returns the class of a heap object.
func (vm *VM) ClassOf(o *Object) JavaClass { return vm.mm.ClassOf(o) }

func (vm *VM) polymorphicView(base *JavaMethod, desc string) *JavaMethod {
	key := base.String() + "@" + desc
	if view, ok := vm.polyViews.Get(key); ok {
		return view
	}
	view := base.polymorphicView(desc)
	if view == nil {
		return nil
	}
	if prev, ok, _ := vm.polyViews.PeekOrAdd(key, view); ok {
		return prev
	}
	return view
}

// constantValue materializes a loadable constant.
func (vm *VM) constantValue(t *Thread, c *classfile.Constant) Value {
	switch c.Kind {
	case classfile.ConstInt:
		return Int(int32(c.Int))
	case classfile.ConstLong:
		return Long(c.Int)
	case classfile.ConstFloat:
		return Float(float32(c.Float))
	case classfile.ConstDouble:
		return Double(c.Float)
	case classfile.ConstString:
		return Ref(vm.intern(t, c.String))
	}
	faultf("unknown constant kind %d", c.Kind)
	return Void
}

// ---------------------------------------------------------------------------
// Guarded entry points
// ---------------------------------------------------------------------------

// guard runs fn, returning a guest throwable as a *VMException and an
// interrupt as an *Interrupt. Faults keep panicking.
func (vm *VM) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *VMException:
				err = e
			case *Interrupt:
				err = e
			default:
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

// catch runs fn and returns the guest throwable it raised, or nil.
func (vm *VM) catch(fn func()) (throwable *Object) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*VMException); ok {
				throwable = e.Throwable
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

// LoadClass loads and links a class or array class by name.
func (vm *VM) LoadClass(t *Thread, name string) (jc JavaClass, err error) {
	err = vm.guard(func() {
		jc = vm.boot.LoadClass(t, name)
		if ic, ok := jc.(*InstanceClass); ok {
			ic.Link(t)
		}
	})
	return jc, err
}

// InitializeClass loads, links and initializes a class.
func (vm *VM) InitializeClass(t *Thread, name string) (jc JavaClass, err error) {
	err = vm.guard(func() {
		jc = vm.boot.LoadClass(t, name)
		jc.Initialize(t)
	})
	return jc, err
}

// InvokeStatic initializes owner and calls one of its static methods.
func (vm *VM) InvokeStatic(t *Thread, owner, name, desc string, args ...Value) (result Value, err error) {
	err = vm.guard(func() {
		c := vm.boot.loadInstance(t, owner)
		c.Initialize(t)
		m := c.Method(name, desc)
		if m == nil || !m.IsStatic() {
			vm.throwf(t, NoSuchMethodError, "%s.%s%s", externalName(owner), name, desc)
		}
		m.owner.Initialize(t)
		result = vm.invokeArgs(t, m, args)
	})
	return result, err
}

// InvokeVirtual calls an instance method on receiver, selecting the
// implementation from the receiver's class.
func (vm *VM) InvokeVirtual(t *Thread, receiver *Object, name, desc string, args ...Value) (result Value, err error) {
	err = vm.guard(func() {
		if receiver == nil {
			vm.throwf(t, NullPointerException, "Cannot invoke %s%s on null", name, desc)
		}
		m := vm.selectVirtual(t, vm.mm.ClassOf(receiver), name, desc)
		if m == nil {
			vm.throwf(t, NoSuchMethodError, "%s.%s%s", externalName(vm.mm.ClassOf(receiver).Name()), name, desc)
		}
		result = vm.invokeArgs(t, m, append([]Value{Ref(receiver)}, args...))
	})
	return result, err
}

// NewObject instantiates className and runs the constructor ctorDesc.
func (vm *VM) NewObject(t *Thread, className, ctorDesc string, args ...Value) (obj *Object, err error) {
	err = vm.guard(func() {
		c := vm.boot.loadInstance(t, className)
		obj = vm.instantiate(t, c)
		ctor := c.DeclaredMethod(initName, ctorDesc)
		if ctor == nil {
			vm.throwf(t, NoSuchMethodError, "%s.<init>%s", externalName(className), ctorDesc)
		}
		vm.invokeArgs(t, ctor, append([]Value{Ref(obj)}, args...))
	})
	return obj, err
}

// instantiate allocates an instance for `new`.
func (vm *VM) instantiate(t *Thread, c *InstanceClass) *Object {
	c.Link(t)
	if !c.CanAllocateInstance() {
		vm.throwf(t, InstantiationError, "%s", externalName(c.name))
	}
	c.Initialize(t)
	return vm.mm.NewInstance(c)
}

// invokeArgs calls m with explicit argument values, receiver first.
func (vm *VM) invokeArgs(t *Thread, m *JavaMethod, args []Value) Value {
	slots := 0
	for _, a := range args {
		slots++
		if a.IsWide() {
			slots++
		}
	}
	if slots != m.MaxArgs {
		vm.throwf(t, IllegalArgumentException, "%s takes %d argument slots, got %d", m, m.MaxArgs, slots)
	}
	stack := NewStack(max(slots, 2))
	for _, a := range args {
		stack.Push(a)
	}
	vm.invokeFrom(t, m, stack)
	if m.Type.ReturnSort() == classfile.SortVoid {
		return Void
	}
	return stack.Pop()
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Classes returns every class the boot loader has defined.
func (vm *VM) Classes() []*InstanceClass { return vm.boot.Classes() }

// Stats summarizes a VM.
type Stats struct {
	Memory           MemoryStats
	Caches           CacheStats
	Classes          int
	PolymorphicViews int
	InternedStrings  int
	Natives          int
}

// Stats returns a snapshot of the VM's state.
func (vm *VM) Stats() Stats {
	return Stats{
		Memory:           vm.mm.Stats(),
		Caches:           vm.CacheStats(),
		Classes:          len(vm.boot.Classes()),
		PolymorphicViews: vm.polyViews.Len(),
		InternedStrings:  vm.strings.Count(),
		Natives:          vm.natives.Len(),
	}
}
