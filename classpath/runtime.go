package classpath

import (
	cf "github.com/chazu/mocha/classfile"
)

// Well-known runtime class names.
const (
	Object    = "java/lang/Object"
	Class     = "java/lang/Class"
	String    = "java/lang/String"
	Throwable = "java/lang/Throwable"
	System    = "java/lang/System"
)

const (
	throwableDesc = "Ljava/lang/Throwable;"
	stringDesc    = "Ljava/lang/String;"
)

// throwableHierarchy lists the runtime throwables as (name, superclass),
// parents before children.
var throwableHierarchy = [][2]string{
	{"java/lang/Error", Throwable},
	{"java/lang/Exception", Throwable},
	{"java/lang/LinkageError", "java/lang/Error"},
	{"java/lang/NoClassDefFoundError", "java/lang/LinkageError"},
	{"java/lang/ClassCircularityError", "java/lang/LinkageError"},
	{"java/lang/ExceptionInInitializerError", "java/lang/LinkageError"},
	{"java/lang/UnsatisfiedLinkError", "java/lang/LinkageError"},
	{"java/lang/IncompatibleClassChangeError", "java/lang/LinkageError"},
	{"java/lang/NoSuchFieldError", "java/lang/IncompatibleClassChangeError"},
	{"java/lang/NoSuchMethodError", "java/lang/IncompatibleClassChangeError"},
	{"java/lang/AbstractMethodError", "java/lang/IncompatibleClassChangeError"},
	{"java/lang/InstantiationError", "java/lang/IncompatibleClassChangeError"},
	{"java/lang/VirtualMachineError", "java/lang/Error"},
	{"java/lang/OutOfMemoryError", "java/lang/VirtualMachineError"},
	{"java/lang/StackOverflowError", "java/lang/VirtualMachineError"},
	{"java/lang/RuntimeException", "java/lang/Exception"},
	{"java/lang/NullPointerException", "java/lang/RuntimeException"},
	{"java/lang/ArithmeticException", "java/lang/RuntimeException"},
	{"java/lang/ClassCastException", "java/lang/RuntimeException"},
	{"java/lang/ArrayStoreException", "java/lang/RuntimeException"},
	{"java/lang/NegativeArraySizeException", "java/lang/RuntimeException"},
	{"java/lang/IllegalArgumentException", "java/lang/RuntimeException"},
	{"java/lang/IllegalStateException", "java/lang/RuntimeException"},
	{"java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"},
	{"java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"},
}

// Runtime returns a fresh Map holding the minimal java/lang runtime the VM
// bootstraps from: Object, Class, String, System, the throwable hierarchy
// the engine raises, the array supertypes, and the signature-polymorphic
// method handle classes.
func Runtime() *Map {
	m := NewMap(
		objectClass(),
		cf.NewClass(Class, Object).
			Access(cf.AccPublic|cf.AccFinal|cf.AccSuper).
			Field(cf.AccPrivate|cf.AccTransient, "name", stringDesc).
			Field(cf.AccPrivate|cf.AccFinal, "classLoader", "Ljava/lang/Object;").
			Field(cf.AccPrivate|cf.AccFinal, "componentType", "Ljava/lang/Class;").
			Native(cf.AccPublic, "getName", "()Ljava/lang/String;").
			Native(cf.AccPublic, "isInstance", "(Ljava/lang/Object;)Z").
			Build(),
		stringClass(),
		cf.NewClass(System, Object).
			Access(cf.AccPublic|cf.AccFinal|cf.AccSuper).
			Native(cf.AccPublic|cf.AccStatic, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V").
			Native(cf.AccPublic|cf.AccStatic, "identityHashCode", "(Ljava/lang/Object;)I").
			Native(cf.AccPublic|cf.AccStatic, "nanoTime", "()J").
			Build(),
		iface("java/lang/Cloneable"),
		iface("java/io/Serializable"),
		throwableClass(),
		methodHandleClass("java/lang/invoke/MethodHandle"),
		methodHandleClass("java/lang/invoke/VarHandle"),
	)
	for _, pair := range throwableHierarchy {
		m.Add(throwableSubclass(pair[0], pair[1]))
	}
	return m
}

func iface(name string) *cf.Class {
	return cf.NewClass(name, Object).Access(cf.AccPublic | cf.AccInterface | cf.AccAbstract).Build()
}

func objectClass() *cf.Class {
	return cf.NewClass(Object, "").
		Method(cf.NewMethod(cf.AccPublic, "<init>", "()V").Op(cf.RETURN).Build()).
		Method(cf.NewMethod(cf.AccPublic, "equals", "(Ljava/lang/Object;)Z").
			Var(cf.ALOAD, 0).
			Var(cf.ALOAD, 1).
			Jump(cf.IF_ACMPNE, "differ").
			Op(cf.ICONST_1, cf.IRETURN).
			Label("differ").
			Op(cf.ICONST_0, cf.IRETURN).
			Build()).
		Native(cf.AccPublic, "hashCode", "()I").
		Native(cf.AccPublic|cf.AccFinal, "getClass", "()Ljava/lang/Class;").
		Build()
}

func stringClass() *cf.Class {
	return cf.NewClass(String, Object).
		Access(cf.AccPublic|cf.AccFinal|cf.AccSuper).
		Field(cf.AccPrivate|cf.AccFinal, "value", "[C").
		Field(cf.AccPrivate, "hash", "I").
		Method(cf.NewMethod(cf.AccPublic, "length", "()I").
			Var(cf.ALOAD, 0).
			Field(cf.GETFIELD, String, "value", "[C").
			Op(cf.ARRAYLENGTH, cf.IRETURN).
			Build()).
		Method(cf.NewMethod(cf.AccPublic, "charAt", "(I)C").
			Var(cf.ALOAD, 0).
			Field(cf.GETFIELD, String, "value", "[C").
			Var(cf.ILOAD, 1).
			Op(cf.CALOAD, cf.IRETURN).
			Build()).
		Native(cf.AccPublic, "intern", "()Ljava/lang/String;").
		Build()
}

func throwableClass() *cf.Class {
	super := func(b *cf.MethodBuilder) *cf.MethodBuilder {
		return b.Var(cf.ALOAD, 0).Invoke(cf.INVOKESPECIAL, Object, "<init>", "()V")
	}
	return cf.NewClass(Throwable, Object).
		Implements("java/io/Serializable").
		Field(cf.AccPrivate, "detailMessage", stringDesc).
		Field(cf.AccPrivate, "cause", throwableDesc).
		Method(super(cf.NewMethod(cf.AccPublic, "<init>", "()V")).
			Op(cf.RETURN).
			Build()).
		Method(super(cf.NewMethod(cf.AccPublic, "<init>", "("+stringDesc+")V")).
			Var(cf.ALOAD, 0).
			Var(cf.ALOAD, 1).
			Field(cf.PUTFIELD, Throwable, "detailMessage", stringDesc).
			Op(cf.RETURN).
			Build()).
		Method(super(cf.NewMethod(cf.AccPublic, "<init>", "("+throwableDesc+")V")).
			Var(cf.ALOAD, 0).
			Var(cf.ALOAD, 1).
			Field(cf.PUTFIELD, Throwable, "cause", throwableDesc).
			Op(cf.RETURN).
			Build()).
		Method(super(cf.NewMethod(cf.AccPublic, "<init>", "("+stringDesc+throwableDesc+")V")).
			Var(cf.ALOAD, 0).
			Var(cf.ALOAD, 1).
			Field(cf.PUTFIELD, Throwable, "detailMessage", stringDesc).
			Var(cf.ALOAD, 0).
			Var(cf.ALOAD, 2).
			Field(cf.PUTFIELD, Throwable, "cause", throwableDesc).
			Op(cf.RETURN).
			Build()).
		Method(cf.NewMethod(cf.AccPublic, "getMessage", "()"+stringDesc).
			Var(cf.ALOAD, 0).
			Field(cf.GETFIELD, Throwable, "detailMessage", stringDesc).
			Op(cf.ARETURN).
			Build()).
		Method(cf.NewMethod(cf.AccPublic, "getCause", "()"+throwableDesc).
			Var(cf.ALOAD, 0).
			Field(cf.GETFIELD, Throwable, "cause", throwableDesc).
			Op(cf.ARETURN).
			Build()).
		Build()
}

// throwableSubclass declares name with the four Throwable constructors,
// each delegating to the superclass constructor of the same shape.
func throwableSubclass(name, super string) *cf.Class {
	b := cf.NewClass(name, super)
	for _, args := range []string{"", stringDesc, throwableDesc, stringDesc + throwableDesc} {
		desc := "(" + args + ")V"
		mb := cf.NewMethod(cf.AccPublic, "<init>", desc).Var(cf.ALOAD, 0)
		slot := 1
		for _, arg := range cf.MustParseMethodDescriptor(desc).Args {
			mb.Var(cf.ALOAD, slot)
			slot += cf.SortOf(arg).Slots()
		}
		b.Method(mb.Invoke(cf.INVOKESPECIAL, super, "<init>", desc).Op(cf.RETURN).Build())
	}
	return b.Build()
}

func methodHandleClass(name string) *cf.Class {
	return cf.NewClass(name, Object).
		Access(cf.AccPublic|cf.AccAbstract|cf.AccSuper).
		Native(cf.AccPublic|cf.AccFinal|cf.AccVarargs, "invoke", "([Ljava/lang/Object;)Ljava/lang/Object;").
		Native(cf.AccPublic|cf.AccFinal|cf.AccVarargs, "invokeExact", "([Ljava/lang/Object;)Ljava/lang/Object;").
		Build()
}
