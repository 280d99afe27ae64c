package vm

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Invoker implements a native method. It returns the method's result, or
// Void for a void method, and raises guest exceptions through
// NativeCall.Throw.
type Invoker func(call *NativeCall) Value

// NativeCall is the activation of a native method.
type NativeCall struct {
	VM     *VM
	Thread *Thread
	Method *JavaMethod
	Locals *Locals
}

// Arg returns the argument in local slot i; the receiver of an instance
// method is slot 0.
func (c *NativeCall) Arg(i int) Value { return c.Locals.Get(i) }

// This returns the receiver of an instance method.
func (c *NativeCall) This() *Object { return c.Locals.Ref(0) }

// Throw raises a new throwable of class. It does not return.
func (c *NativeCall) Throw(class, format string, args ...any) {
	c.VM.throwf(c.Thread, class, format, args...)
}

// Natives maps (owner, name, descriptor) to invokers.
type Natives struct {
	table cmap.ConcurrentMap[string, Invoker]
}

func newNatives() *Natives {
	return &Natives{table: cmap.New[Invoker]()}
}

func nativeKey(owner, name, desc string) string {
	return owner + "." + name + desc
}

// Register binds an invoker, replacing any earlier one.
func (n *Natives) Register(owner, name, desc string, inv Invoker) {
	n.table.Set(nativeKey(owner, name, desc), inv)
}

// Lookup returns the invoker bound to a method.
func (n *Natives) Lookup(owner, name, desc string) (Invoker, bool) {
	return n.table.Get(nativeKey(owner, name, desc))
}

func (n *Natives) lookup(m *JavaMethod) (Invoker, bool) {
	if n.table.Count() == 0 {
		return nil, false
	}
	return n.Lookup(m.owner.name, m.Name, m.Desc)
}

// Len returns the number of bound invokers.
func (n *Natives) Len() int { return n.table.Count() }

// ---------------------------------------------------------------------------
// Built-in natives
// ---------------------------------------------------------------------------

var epoch = time.Now()

func registerBuiltinNatives(n *Natives) {
	n.Register(ObjectClass, "hashCode", "()I", func(c *NativeCall) Value {
		return Int(int32(c.This().Address()))
	})
	n.Register(ObjectClass, "getClass", "()Ljava/lang/Class;", func(c *NativeCall) Value {
		return Ref(c.VM.mm.ClassOf(c.This()).Oop())
	})

	n.Register(ClassClass, "getName", "()Ljava/lang/String;", func(c *NativeCall) Value {
		return Ref(c.VM.intern(c.Thread, externalName(c.This().Mirror().Name())))
	})
	n.Register(ClassClass, "isInstance", "(Ljava/lang/Object;)Z", func(c *NativeCall) Value {
		obj := c.Locals.Ref(1)
		return Bool(obj != nil && c.This().Mirror().IsAssignableFrom(c.VM.mm.ClassOf(obj)))
	})

	n.Register(StringClass, "intern", "()Ljava/lang/String;", func(c *NativeCall) Value {
		return Ref(c.VM.intern(c.Thread, c.VM.GoString(c.This())))
	})

	n.Register(SystemClass, "identityHashCode", "(Ljava/lang/Object;)I", func(c *NativeCall) Value {
		obj := c.Locals.Ref(0)
		if obj == nil {
			return Int(0)
		}
		return Int(int32(obj.Address()))
	})
	n.Register(SystemClass, "nanoTime", "()J", func(c *NativeCall) Value {
		return Long(time.Since(epoch).Nanoseconds())
	})
	n.Register(SystemClass, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", arraycopy)
}

// arraycopy copies length elements between arrays, handling overlapping
// ranges of the same array.
func arraycopy(c *NativeCall) Value {
	mm := c.VM.mm
	src, srcPos := c.Locals.Ref(0), c.Locals.Int(1)
	dst, dstPos := c.Locals.Ref(2), c.Locals.Int(3)
	length := c.Locals.Int(4)
	if src == nil || dst == nil {
		c.Throw(NullPointerException, "arraycopy of null array")
	}
	sc, ok1 := mm.ClassOf(src).(*ArrayClass)
	dc, ok2 := mm.ClassOf(dst).(*ArrayClass)
	if !ok1 || !ok2 {
		c.Throw(ArrayStoreException, "arraycopy: argument type mismatch")
	}
	srcRef, dstRef := sc.ElementSort().IsReference(), dc.ElementSort().IsReference()
	if srcRef != dstRef || (!srcRef && sc != dc) {
		c.Throw(ArrayStoreException, "arraycopy: type mismatch: can not copy %s[] into %s[]",
			sc.Component().Name(), dc.Component().Name())
	}
	if srcPos < 0 || dstPos < 0 || length < 0 ||
		int64(srcPos)+int64(length) > int64(mm.ArrayLength(src)) ||
		int64(dstPos)+int64(length) > int64(mm.ArrayLength(dst)) {
		c.Throw(ArrayIndexOutOfBoundsException, "arraycopy: last source index %d out of bounds for length %d",
			int64(srcPos)+int64(length), mm.ArrayLength(src))
	}
	if length == 0 {
		return Void
	}
	scale := sc.Scale()
	if srcRef && !dc.Component().IsAssignableFrom(sc.Component()) {
		for i := int64(0); i < int64(length); i++ {
			obj := mm.ReadReference(src, (int64(srcPos)+i)*scale)
			if obj != nil && !dc.Component().IsAssignableFrom(mm.ClassOf(obj)) {
				c.Throw(ArrayStoreException, "arraycopy: element type mismatch")
			}
			mm.WriteReference(dst, (int64(dstPos)+i)*scale, obj)
		}
		return Void
	}
	n := int64(length) * scale
	copy(mm.slice(dst, int64(dstPos)*scale, n), mm.slice(src, int64(srcPos)*scale, n))
	return Void
}
