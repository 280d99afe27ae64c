package vm

import (
	cf "github.com/chazu/mocha/classfile"
)

var newarraySorts = map[int]cf.Sort{
	cf.T_BOOLEAN: cf.SortBoolean,
	cf.T_CHAR:    cf.SortChar,
	cf.T_FLOAT:   cf.SortFloat,
	cf.T_DOUBLE:  cf.SortDouble,
	cf.T_BYTE:    cf.SortByte,
	cf.T_SHORT:   cf.SortShort,
	cf.T_INT:     cf.SortInt,
	cf.T_LONG:    cf.SortLong,
}

func registerObjectOps() {
	on(cf.NEW, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		jc := n.(*typeNode).resolve(ctx)
		c, ok := jc.(*InstanceClass)
		if !ok {
			vm.throwf(ctx.Thread, InstantiationError, "%s", externalName(jc.Name()))
		}
		ctx.Stack.PushRef(vm.instantiate(ctx.Thread, c))
		return Continue
	})

	on(cf.CHECKCAST, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		obj := ctx.Stack.PeekAt(0).AsRef()
		if obj == nil {
			return Continue
		}
		target := n.(*typeNode).resolve(ctx)
		if ic, ok := target.(*InstanceClass); ok {
			ic.Link(ctx.Thread)
		}
		if actual := vm.mm.ClassOf(obj); !target.IsAssignableFrom(actual) {
			vm.throwf(ctx.Thread, ClassCastException, "class %s cannot be cast to class %s",
				externalName(actual.Name()), externalName(target.Name()))
		}
		return Continue
	})

	on(cf.INSTANCEOF, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		obj := ctx.Stack.PopRef()
		if obj == nil {
			ctx.Stack.PushInt(0)
			return Continue
		}
		target := n.(*typeNode).resolve(ctx)
		if ic, ok := target.(*InstanceClass); ok {
			ic.Link(ctx.Thread)
		}
		ctx.Stack.Push(Bool(target.IsAssignableFrom(vm.mm.ClassOf(obj))))
		return Continue
	})

	on(cf.ATHROW, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		vm.throw(ctx.Thread, ctx.Stack.PopRef())
		return Abort
	})
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// newArray allocates an array of ac, raising NegativeArraySizeException
// for a negative length.
func (vm *VM) newArray(t *Thread, ac *ArrayClass, length int32) *Object {
	if length < 0 {
		vm.throwf(t, NegativeArraySizeException, "%d", length)
	}
	return vm.mm.NewArray(ac, length)
}

// element checks an array access and returns the array class and the
// element's offset.
func (vm *VM) element(t *Thread, arr *Object, index int32) (*ArrayClass, int64) {
	if arr == nil {
		vm.throwf(t, NullPointerException, "Cannot access element of null array")
	}
	ac, ok := vm.mm.ClassOf(arr).(*ArrayClass)
	if !ok {
		faultf("%v is not an array", arr)
	}
	if length := vm.mm.ArrayLength(arr); index < 0 || index >= length {
		vm.throwf(t, ArrayIndexOutOfBoundsException, "Index %d out of bounds for length %d", index, length)
	}
	return ac, int64(index) * ac.Scale()
}

func arrayLoad(vm *VM, ctx *ExecutionContext, n Node) Result {
	index := ctx.Stack.PopInt()
	arr := ctx.Stack.PopRef()
	ac, off := vm.element(ctx.Thread, arr, index)
	ctx.Stack.Push(vm.mm.ReadValue(arr, off, ac.ElementSort()))
	return Continue
}

func arrayStore(vm *VM, ctx *ExecutionContext, n Node) Result {
	v := ctx.Stack.Pop()
	index := ctx.Stack.PopInt()
	arr := ctx.Stack.PopRef()
	ac, off := vm.element(ctx.Thread, arr, index)
	if ac.ElementSort().IsReference() {
		if obj := v.AsRef(); obj != nil && !ac.Component().IsAssignableFrom(vm.mm.ClassOf(obj)) {
			vm.throwf(ctx.Thread, ArrayStoreException, "%s", externalName(vm.mm.ClassOf(obj).Name()))
		}
	}
	vm.mm.WriteValue(arr, off, ac.ElementSort(), v)
	return Continue
}

func registerArrayOps() {
	on(cf.NEWARRAY, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		sort, ok := newarraySorts[n.Insn().Operand]
		if !ok {
			faultf("%s: newarray with type code %d", ctx.Method, n.Insn().Operand)
		}
		length := ctx.Stack.PopInt()
		ctx.Stack.PushRef(vm.newArray(ctx.Thread, vm.Primitive(sort).ArrayClass(), length))
		return Continue
	})
	on(cf.ANEWARRAY, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		component := n.(*typeNode).resolve(ctx)
		length := ctx.Stack.PopInt()
		ctx.Stack.PushRef(vm.newArray(ctx.Thread, component.ArrayClass(), length))
		return Continue
	})
	on(cf.ARRAYLENGTH, func(vm *VM, ctx *ExecutionContext, n Node) Result {
		arr := ctx.Stack.PopRef()
		if arr == nil {
			vm.throwf(ctx.Thread, NullPointerException, "Cannot read the array length of null")
		}
		ctx.Stack.PushInt(vm.mm.ArrayLength(arr))
		return Continue
	})
	for _, op := range []cf.Opcode{cf.IALOAD, cf.LALOAD, cf.FALOAD, cf.DALOAD, cf.AALOAD, cf.BALOAD, cf.CALOAD, cf.SALOAD} {
		on(op, arrayLoad)
	}
	for _, op := range []cf.Opcode{cf.IASTORE, cf.LASTORE, cf.FASTORE, cf.DASTORE, cf.AASTORE, cf.BASTORE, cf.CASTORE, cf.SASTORE} {
		on(op, arrayStore)
	}
}
