package vm

import (
	"sync"

	"github.com/chazu/mocha/classfile"
)

// JavaClass is the runtime descriptor of a type: a primitive, an instance
// class or interface, or an array class.
type JavaClass interface {
	// Name returns the internal name: "int", "java/lang/String", "[I".
	Name() string
	// Descriptor returns the field descriptor naming the type.
	Descriptor() string
	// Modifiers returns the access flags.
	Modifiers() int
	// Oop returns the class oop, the heap object standing for the class.
	Oop() *Object
	// ArrayClass returns the array class with this component type,
	// creating it on first use.
	ArrayClass() *ArrayClass
	// IsAssignableFrom reports whether a value of class other may be stored
	// where this class is expected.
	IsAssignableFrom(other JavaClass) bool
	// Initialize runs static initialization if it has not run yet.
	Initialize(t *Thread)
}

// InitState is the initialization state of an instance class.
type InitState int32

const (
	Pending InitState = iota
	InProgress
	Complete
	Failed
)

func (s InitState) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in-progress"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// arrayCell memoizes the array class of one component type.
type arrayCell struct {
	mu sync.Mutex
	ac *ArrayClass
}

func (c *arrayCell) get(vm *VM, component JavaClass) *ArrayClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ac == nil {
		c.ac = newArrayClass(vm, component)
	}
	return c.ac
}

// ---------------------------------------------------------------------------
// PrimitiveClass
// ---------------------------------------------------------------------------

// PrimitiveClass describes a primitive type.
type PrimitiveClass struct {
	vm    *VM
	name  string
	desc  string
	sort  classfile.Sort
	oop   *Object
	array arrayCell
}

var primitiveNames = map[classfile.Sort]string{
	classfile.SortBoolean: "boolean",
	classfile.SortChar:    "char",
	classfile.SortByte:    "byte",
	classfile.SortShort:   "short",
	classfile.SortInt:     "int",
	classfile.SortFloat:   "float",
	classfile.SortLong:    "long",
	classfile.SortDouble:  "double",
	classfile.SortVoid:    "void",
}

var primitiveDescs = map[classfile.Sort]string{
	classfile.SortBoolean: "Z",
	classfile.SortChar:    "C",
	classfile.SortByte:    "B",
	classfile.SortShort:   "S",
	classfile.SortInt:     "I",
	classfile.SortFloat:   "F",
	classfile.SortLong:    "J",
	classfile.SortDouble:  "D",
	classfile.SortVoid:    "V",
}

func newPrimitiveClass(vm *VM, sort classfile.Sort) *PrimitiveClass {
	pc := &PrimitiveClass{vm: vm, name: primitiveNames[sort], desc: primitiveDescs[sort], sort: sort}
	pc.oop = vm.mm.NewClassOop(pc, vm.metaclass.InstanceSize())
	return pc
}

func (pc *PrimitiveClass) Name() string            { return pc.name }
func (pc *PrimitiveClass) Descriptor() string      { return pc.desc }
func (pc *PrimitiveClass) Modifiers() int          { return classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract }
func (pc *PrimitiveClass) Oop() *Object            { return pc.oop }
func (pc *PrimitiveClass) Initialize(*Thread)      {}
func (pc *PrimitiveClass) Sort() classfile.Sort    { return pc.sort }
func (pc *PrimitiveClass) ArrayClass() *ArrayClass { return pc.array.get(pc.vm, pc) }

func (pc *PrimitiveClass) IsAssignableFrom(other JavaClass) bool {
	return other == JavaClass(pc)
}

// ---------------------------------------------------------------------------
// ArrayClass
// ---------------------------------------------------------------------------

// ArrayClass describes an array type. There is at most one per component
// type.
type ArrayClass struct {
	vm        *VM
	name      string
	component JavaClass
	scale     int64
	sort      classfile.Sort
	oop       *Object
	array     arrayCell
}

func newArrayClass(vm *VM, component JavaClass) *ArrayClass {
	desc := component.Descriptor()
	ac := &ArrayClass{
		vm:        vm,
		name:      "[" + desc,
		component: component,
		scale:     ArrayIndexScale(desc),
		sort:      classfile.SortOf(desc),
	}
	ac.oop = vm.mm.NewClassOop(ac, vm.metaclass.InstanceSize())
	log.Debugf("created array class %s", ac.name)
	return ac
}

func (ac *ArrayClass) Name() string            { return ac.name }
func (ac *ArrayClass) Descriptor() string      { return ac.name }
func (ac *ArrayClass) Oop() *Object            { return ac.oop }
func (ac *ArrayClass) Initialize(*Thread)      {}
func (ac *ArrayClass) ArrayClass() *ArrayClass { return ac.array.get(ac.vm, ac) }

// Component returns the element type.
func (ac *ArrayClass) Component() JavaClass { return ac.component }

// ElementSort returns the sort of the element type.
func (ac *ArrayClass) ElementSort() classfile.Sort { return ac.sort }

// Scale returns the element width in bytes.
func (ac *ArrayClass) Scale() int64 { return ac.scale }

func (ac *ArrayClass) Modifiers() int {
	return ac.component.Modifiers()&(classfile.AccPublic|classfile.AccPrivate|classfile.AccProtected) |
		classfile.AccFinal | classfile.AccAbstract
}

func (ac *ArrayClass) IsAssignableFrom(other JavaClass) bool {
	if other == JavaClass(ac) {
		return true
	}
	o, ok := other.(*ArrayClass)
	if !ok {
		return false
	}
	if _, prim := ac.component.(*PrimitiveClass); prim {
		return ac.component == o.component
	}
	if _, prim := o.component.(*PrimitiveClass); prim {
		return false
	}
	return ac.component.IsAssignableFrom(o.component)
}
