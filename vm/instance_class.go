package vm

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chazu/mocha/classfile"
)

// InstanceClass is the descriptor of a class or interface loaded from a
// parsed class. It is created Pending with no layout, gains its field and
// method layout when linked, and runs its static initializer once when
// initialized.
type InstanceClass struct {
	vm     *VM
	loader *Loader
	name   string
	access int
	source atomic.Pointer[classfile.Class]

	// mu serializes linking and initialization state transitions.
	mu        sync.Mutex
	linked    atomic.Bool
	linkOwner atomic.Pointer[Thread]
	state     atomic.Int32
	initOwner *Thread
	initDone  chan struct{}
	initError *Object

	super        *InstanceClass
	interfaces   []*InstanceClass
	fields       []*JavaField
	methods      []*JavaMethod
	virtualEnd   int64
	virtualSlots int
	staticSize   int64
	oop          *Object
	array        arrayCell
}

func newInstanceClass(vm *VM, loader *Loader, src *classfile.Class) *InstanceClass {
	c := &InstanceClass{
		vm:     vm,
		loader: loader,
		name:   src.Name,
		access: src.Access,
	}
	c.source.Store(src)
	return c
}

func (c *InstanceClass) Name() string            { return c.name }
func (c *InstanceClass) Descriptor() string      { return "L" + c.name + ";" }
func (c *InstanceClass) Modifiers() int          { return c.access }
func (c *InstanceClass) Oop() *Object            { return c.oop }
func (c *InstanceClass) ArrayClass() *ArrayClass { return c.array.get(c.vm, c) }

// Loader returns the defining loader.
func (c *InstanceClass) Loader() *Loader { return c.loader }

// Source returns the parsed class the descriptor was built from.
func (c *InstanceClass) Source() *classfile.Class { return c.source.Load() }

// Super returns the superclass, or nil for java/lang/Object and before
// linking.
func (c *InstanceClass) Super() *InstanceClass { return c.super }

// Interfaces returns the direct superinterfaces.
func (c *InstanceClass) Interfaces() []*InstanceClass { return c.interfaces }

func (c *InstanceClass) IsInterface() bool { return c.access&classfile.AccInterface != 0 }
func (c *InstanceClass) IsAbstract() bool  { return c.access&classfile.AccAbstract != 0 }

// Linked reports whether the class has its layout.
func (c *InstanceClass) Linked() bool { return c.linked.Load() }

// State returns the initialization state.
func (c *InstanceClass) State() InitState { return InitState(c.state.Load()) }

// InitFailure returns the throwable recorded when initialization failed.
func (c *InstanceClass) InitFailure() *Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initError
}

// VirtualSize returns the size of the instance field area, inherited
// fields included.
func (c *InstanceClass) VirtualSize() int64 { return c.virtualEnd }

// InstanceSize returns the block size of an instance.
func (c *InstanceClass) InstanceSize() int64 { return ObjectHeaderSize + c.virtualEnd }

// StaticSize returns the size of the static field area.
func (c *InstanceClass) StaticSize() int64 { return c.staticSize }

// ClassOopSize returns the block size of the class oop: the metaclass
// instance layout followed by this class's statics.
func (c *InstanceClass) ClassOopSize() int64 {
	return c.vm.metaclass.InstanceSize() + c.staticSize
}

// Fields returns the declared fields in declaration order.
func (c *InstanceClass) Fields() []*JavaField { return c.fields }

// Methods returns the declared methods; a method's slot is its index.
func (c *InstanceClass) Methods() []*JavaMethod { return c.methods }

// CanAllocateInstance reports whether `new` may instantiate the class.
func (c *InstanceClass) CanAllocateInstance() bool {
	return !c.IsAbstract() && !c.IsInterface() && c != c.vm.metaclass
}

func (c *InstanceClass) String() string { return c.name }

// externalName converts an internal name to the dotted form used in
// messages.
func externalName(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

// Link resolves the supertypes and computes the field and method layout.
// It is idempotent. Linking resolves but never initializes the
// superclass.
func (c *InstanceClass) Link(t *Thread) {
	if c.linked.Load() {
		return
	}
	if c.linkOwner.Load() == t {
		c.vm.throwf(t, ClassCircularityError, "%s", externalName(c.name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linked.Load() {
		return
	}
	if c.State() == Failed {
		c.vm.throwCause(t, NoClassDefFoundError, c.initError, "Could not initialize class %s", externalName(c.name))
	}
	c.linkOwner.Store(t)
	defer c.linkOwner.Store(nil)

	c.resolveSupertypes(t)
	c.layoutFields()

	src := c.source.Load()
	c.methods = make([]*JavaMethod, len(src.Methods))
	for i := range src.Methods {
		c.methods[i] = newJavaMethod(c, i, &src.Methods[i])
	}

	if !c.vm.booting {
		c.oop = c.vm.mm.NewClassOop(c, c.ClassOopSize())
	}
	c.linked.Store(true)
	log.Debugf("linked %s: instance size %d, static size %d", c.name, c.InstanceSize(), c.staticSize)
}

func (c *InstanceClass) resolveSupertypes(t *Thread) {
	defer func() {
		if r := recover(); r != nil {
			if exc, ok := r.(*VMException); ok {
				c.markFailed(exc.Throwable)
			}
			panic(r)
		}
	}()

	src := c.source.Load()
	if src.SuperName != "" {
		super := c.loader.loadInstance(t, src.SuperName)
		if super.IsInterface() {
			c.vm.throwf(t, IncompatibleClassChangeError, "class %s has interface %s as super class",
				externalName(c.name), externalName(super.name))
		}
		super.Link(t)
		c.super = super
	} else if c.name != ObjectClass {
		c.vm.throwf(t, NoClassDefFoundError, "%s has no superclass", externalName(c.name))
	}

	for _, name := range src.Interfaces {
		iface := c.loader.loadInstance(t, name)
		if !iface.IsInterface() {
			c.vm.throwf(t, IncompatibleClassChangeError, "class %s can not implement %s, because it is not an interface",
				externalName(c.name), externalName(iface.name))
		}
		iface.Link(t)
		c.interfaces = append(c.interfaces, iface)
	}
}

// layoutFields assigns virtual fields offsets past every field of every
// superclass, so an inherited field has the same offset in all subclasses.
// Statics are laid out after the metaclass's own instance fields, which is
// where they live in the class oop.
func (c *InstanceClass) layoutFields() {
	var start int64
	for s := c.super; s != nil; s = s.super {
		for _, f := range s.fields {
			if !f.IsStatic() && f.Offset+f.Size() > start {
				start = f.Offset + f.Size()
			}
		}
	}
	slots := 0
	if c.super != nil {
		slots = c.super.virtualSlots
	}

	src := c.source.Load()
	c.fields = make([]*JavaField, len(src.Fields))
	var statics []*JavaField
	offset := start
	for i := range src.Fields {
		sf := &src.Fields[i]
		f := &JavaField{
			owner:    c,
			Name:     sf.Name,
			Desc:     sf.Desc,
			Access:   sf.Access,
			sort:     classfile.SortOf(sf.Desc),
			constant: sf.Value,
		}
		c.fields[i] = f
		if f.IsStatic() {
			statics = append(statics, f)
			continue
		}
		f.Slot = slots
		slots++
		f.Offset = offset
		offset += f.Size()
	}
	c.virtualEnd = offset
	c.virtualSlots = slots

	if len(statics) == 0 {
		return
	}
	meta := c.vm.metaclass
	var base int64
	switch {
	case meta == c:
		base = c.virtualEnd
	case meta != nil && meta.linked.Load():
		base = meta.virtualEnd
	default:
		faultf("%s declares static fields before %s is linked", c.name, ClassClass)
	}
	var off int64
	for i, f := range statics {
		f.Slot = i
		f.Offset = base + off
		off += f.Size()
	}
	c.staticSize = off
}

// markFailed records a failure. Callers hold c.mu.
func (c *InstanceClass) markFailed(throwable *Object) {
	c.initError = throwable
	c.state.Store(int32(Failed))
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

// Initialize links the class if needed and runs its static initialization
// exactly once. The superclass is initialized first; superinterfaces are
// not.
//
// A thread re-entering the initialization it is running returns at once.
// Other threads block until the running thread finishes, bounded by their
// context and the VM's initialization wait timeout. A class whose
// initialization failed raises NoClassDefFoundError caused by the recorded
// failure.
func (c *InstanceClass) Initialize(t *Thread) {
	if c.State() == Complete {
		return
	}
	c.Link(t)
	c.mu.Lock()
	for {
		switch c.State() {
		case Complete:
			c.mu.Unlock()
			return
		case Failed:
			cause := c.initError
			c.mu.Unlock()
			c.vm.throwCause(t, NoClassDefFoundError, cause, "Could not initialize class %s", externalName(c.name))
		case InProgress:
			if c.initOwner == t {
				c.mu.Unlock()
				return
			}
			done := c.initDone
			c.mu.Unlock()
			t.await(done, c.vm.opts.InitWaitTimeout, "initialization of "+externalName(c.name))
			c.mu.Lock()
		case Pending:
			c.state.Store(int32(InProgress))
			c.initOwner = t
			c.initDone = make(chan struct{})
			c.mu.Unlock()
			c.runInitializer(t)
			return
		}
	}
}

func (c *InstanceClass) runInitializer(t *Thread) {
	var (
		started   bool
		completed bool
		failure   *Object
	)
	defer func() {
		r := recover()
		var abandoned *Object
		if intr, ok := r.(*Interrupt); ok && started && !completed && failure == nil {
			abandoned = c.abandon(t, intr)
		}
		c.mu.Lock()
		switch {
		case completed:
			c.state.Store(int32(Complete))
		case failure != nil:
			c.markFailed(failure)
		case abandoned != nil:
			c.markFailed(abandoned)
		default:
			// A fault, or an interrupt before any initializer code ran,
			// leaves the class untouched; the next caller starts over.
			c.state.Store(int32(Pending))
		}
		c.initOwner = nil
		close(c.initDone)
		c.mu.Unlock()
		if r != nil {
			panic(r)
		}
	}()

	failure = c.vm.catch(func() {
		if c.super != nil {
			c.super.Initialize(t)
		}
		t.checkInterrupt()
		started = true
		c.initConstants(t)
		if clinit := c.DeclaredMethod(clinitName, voidDesc); clinit != nil && clinit.IsStatic() {
			c.vm.call(t, clinit, NewLocals(clinit.MaxLocals()))
		}
	})
	if failure == nil {
		completed = true
		log.Debugf("initialized %s", c.name)
		return
	}

	if !c.vm.isError(failure) {
		failure = c.vm.newThrowable(t, ExceptionInInitializerError, "", failure)
	}
	log.Warningf("initialization of %s failed: %s", c.name, c.vm.describe(failure))
	panic(&VMException{Throwable: failure, vm: c.vm})
}

// abandon builds the failure recorded when an interrupt stops the
// initializer part way. Static state may be half written, so the class
// must never run its initializer again.
func (c *InstanceClass) abandon(t *Thread, intr *Interrupt) (failure *Object) {
	if thrown := c.vm.catch(func() {
		failure = c.vm.newThrowable(t, ErrorClass, "initialization of "+externalName(c.name)+" abandoned: "+intr.Error(), nil)
	}); thrown != nil {
		failure = thrown
	}
	log.Warningf("initialization of %s abandoned: %s", c.name, intr)
	return failure
}

// initConstants stores the ConstantValue of every static field that has
// one.
func (c *InstanceClass) initConstants(t *Thread) {
	for _, f := range c.fields {
		if f.IsStatic() && f.constant != nil {
			c.vm.mm.WriteValue(c.oop, f.Offset, f.sort, c.vm.constantValue(t, f.constant))
		}
	}
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// DeclaredField returns the field declared by this class, or nil.
func (c *InstanceClass) DeclaredField(name, desc string) *JavaField {
	for _, f := range c.fields {
		if f.Name == name && f.Desc == desc {
			return f
		}
	}
	return nil
}

// DeclaredMethod returns the method declared by this class, or nil.
func (c *InstanceClass) DeclaredMethod(name, desc string) *JavaMethod {
	for _, m := range c.methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// Field resolves a field by name and descriptor: declared fields first,
// then superinterfaces, then the superclass chain.
func (c *InstanceClass) Field(name, desc string) *JavaField {
	for k := c; k != nil; k = k.super {
		if f := k.DeclaredField(name, desc); f != nil {
			return f
		}
		for _, iface := range k.interfaces {
			if f := iface.Field(name, desc); f != nil {
				return f
			}
		}
	}
	return nil
}

// Method resolves a method by name and descriptor through the class chain
// and then the superinterfaces. When no exact match exists and a
// signature-polymorphic method of that name is found, a view shaped for
// desc is returned; views are memoized per call-site descriptor.
func (c *InstanceClass) Method(name, desc string) *JavaMethod {
	if m := c.findMethod(name, desc); m != nil {
		return m
	}
	base := c.findMethod(name, polymorphicDesc)
	if base == nil || !base.IsPolymorphic() {
		return nil
	}
	return c.vm.polymorphicView(base, desc)
}

func (c *InstanceClass) findMethod(name, desc string) *JavaMethod {
	for k := c; k != nil; k = k.super {
		if m := k.DeclaredMethod(name, desc); m != nil {
			return m
		}
	}
	var found *JavaMethod
	c.eachInterface(func(iface *InstanceClass) bool {
		if m := iface.DeclaredMethod(name, desc); m != nil && !m.IsStatic() {
			found = m
			return false
		}
		return true
	})
	return found
}

// selectMethod picks the implementation a virtual or interface call on a
// receiver of this class runs: the first match in the class chain, else
// the first non-abstract interface method.
func (c *InstanceClass) selectMethod(name, desc string) *JavaMethod {
	for k := c; k != nil; k = k.super {
		if m := k.DeclaredMethod(name, desc); m != nil && !m.IsStatic() {
			return m
		}
	}
	var found *JavaMethod
	c.eachInterface(func(iface *InstanceClass) bool {
		if m := iface.DeclaredMethod(name, desc); m != nil && !m.IsStatic() && !m.IsAbstract() {
			found = m
			return false
		}
		return true
	})
	return found
}

// eachInterface visits every superinterface of the class and its
// superclasses, breadth first, until fn returns false.
func (c *InstanceClass) eachInterface(fn func(*InstanceClass) bool) {
	seen := make(map[*InstanceClass]bool)
	var queue []*InstanceClass
	for k := c; k != nil; k = k.super {
		queue = append(queue, k.interfaces...)
	}
	for len(queue) > 0 {
		iface := queue[0]
		queue = queue[1:]
		if seen[iface] {
			continue
		}
		seen[iface] = true
		if !fn(iface) {
			return
		}
		queue = append(queue, iface.interfaces...)
	}
}

// MethodBySlot returns the declared method with the given slot.
func (c *InstanceClass) MethodBySlot(slot int) *JavaMethod {
	if slot < 0 || slot >= len(c.methods) {
		return nil
	}
	return c.methods[slot]
}

// FieldBySlot returns the instance field with the given slot, searching
// the superclass chain.
func (c *InstanceClass) FieldBySlot(slot int) *JavaField {
	for k := c; k != nil; k = k.super {
		for _, f := range k.fields {
			if !f.IsStatic() && f.Slot == slot {
				return f
			}
		}
	}
	return nil
}

func visible(access int, publicOnly bool) bool {
	if access&classfile.AccHidden != 0 {
		return false
	}
	return !publicOnly || access&classfile.AccPublic != 0
}

// DeclaredMethods lists declared methods other than constructors and
// static initializers.
func (c *InstanceClass) DeclaredMethods(publicOnly bool) []*JavaMethod {
	var out []*JavaMethod
	for _, m := range c.methods {
		if m.Name != initName && m.Name != clinitName && visible(m.Access, publicOnly) {
			out = append(out, m)
		}
	}
	return out
}

// DeclaredConstructors lists declared constructors.
func (c *InstanceClass) DeclaredConstructors(publicOnly bool) []*JavaMethod {
	var out []*JavaMethod
	for _, m := range c.methods {
		if m.Name == initName && visible(m.Access, publicOnly) {
			out = append(out, m)
		}
	}
	return out
}

// DeclaredFields lists declared fields.
func (c *InstanceClass) DeclaredFields(publicOnly bool) []*JavaField {
	var out []*JavaField
	for _, f := range c.fields {
		if visible(f.Access, publicOnly) {
			out = append(out, f)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Subtyping
// ---------------------------------------------------------------------------

func (c *InstanceClass) IsAssignableFrom(other JavaClass) bool {
	switch o := other.(type) {
	case *InstanceClass:
		if o == c {
			return true
		}
		if c.IsInterface() {
			return o.implements(c)
		}
		for s := o.super; s != nil; s = s.super {
			if s == c {
				return true
			}
		}
		return false
	case *ArrayClass:
		switch c.name {
		case ObjectClass, CloneableClass, SerializableClass:
			return true
		}
	}
	return false
}

// implements reports whether iface is a superinterface of c, or c itself.
func (c *InstanceClass) implements(iface *InstanceClass) bool {
	if c == iface {
		return true
	}
	found := false
	c.eachInterface(func(i *InstanceClass) bool {
		found = i == iface
		return !found
	})
	return found
}

// ---------------------------------------------------------------------------
// Redefinition
// ---------------------------------------------------------------------------

// Redefine replaces the method bodies of a linked class. The new class must
// declare the same fields and methods, in the same order, with the same
// names, descriptors and static bits; anything else is a Fault. Call sites
// already resolved to a method of this class run the new body.
func (c *InstanceClass) Redefine(src *classfile.Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.linked.Load() {
		faultf("redefinition of unlinked class %s", c.name)
	}
	if src.Name != c.name {
		faultf("redefinition of %s with class %s", c.name, src.Name)
	}
	old := c.source.Load()
	if len(src.Fields) != len(old.Fields) {
		faultf("redefinition of %s changes field count from %d to %d", c.name, len(old.Fields), len(src.Fields))
	}
	for i := range src.Fields {
		o, n := &old.Fields[i], &src.Fields[i]
		if o.Name != n.Name || o.Desc != n.Desc || o.IsStatic() != n.IsStatic() {
			faultf("redefinition of %s changes field %d from %s:%s to %s:%s", c.name, i, o.Name, o.Desc, n.Name, n.Desc)
		}
	}
	if len(src.Methods) != len(old.Methods) {
		faultf("redefinition of %s changes method count from %d to %d", c.name, len(old.Methods), len(src.Methods))
	}
	for i := range src.Methods {
		o, n := &old.Methods[i], &src.Methods[i]
		if o.Name != n.Name || o.Desc != n.Desc || o.IsStatic() != n.IsStatic() {
			faultf("redefinition of %s changes method %d from %s%s to %s%s", c.name, i, o.Name, o.Desc, n.Name, n.Desc)
		}
	}

	for i := range src.Methods {
		c.methods[i].code.Store(compile(&src.Methods[i]))
	}
	c.source.Store(src)
	log.Infof("redefined %s", c.name)
}
