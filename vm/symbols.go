package vm

// Well-known class names.
const (
	ObjectClass       = "java/lang/Object"
	ClassClass        = "java/lang/Class"
	StringClass       = "java/lang/String"
	ThrowableClass    = "java/lang/Throwable"
	ErrorClass        = "java/lang/Error"
	CloneableClass    = "java/lang/Cloneable"
	SerializableClass = "java/io/Serializable"
	SystemClass       = "java/lang/System"
	MethodHandleClass = "java/lang/invoke/MethodHandle"
	VarHandleClass    = "java/lang/invoke/VarHandle"

	NoClassDefFoundError           = "java/lang/NoClassDefFoundError"
	ClassCircularityError          = "java/lang/ClassCircularityError"
	ExceptionInInitializerError    = "java/lang/ExceptionInInitializerError"
	UnsatisfiedLinkError           = "java/lang/UnsatisfiedLinkError"
	IncompatibleClassChangeError   = "java/lang/IncompatibleClassChangeError"
	NoSuchFieldError               = "java/lang/NoSuchFieldError"
	NoSuchMethodError              = "java/lang/NoSuchMethodError"
	AbstractMethodError            = "java/lang/AbstractMethodError"
	InstantiationError             = "java/lang/InstantiationError"
	OutOfMemoryError               = "java/lang/OutOfMemoryError"
	StackOverflowError             = "java/lang/StackOverflowError"
	NullPointerException           = "java/lang/NullPointerException"
	ArithmeticException            = "java/lang/ArithmeticException"
	ClassCastException             = "java/lang/ClassCastException"
	ArrayStoreException            = "java/lang/ArrayStoreException"
	NegativeArraySizeException     = "java/lang/NegativeArraySizeException"
	ArrayIndexOutOfBoundsException = "java/lang/ArrayIndexOutOfBoundsException"
	IllegalArgumentException       = "java/lang/IllegalArgumentException"
)

// Well-known member names and descriptors.
const (
	initName           = "<init>"
	clinitName         = "<clinit>"
	voidDesc           = "()V"
	polymorphicDesc    = "([Ljava/lang/Object;)Ljava/lang/Object;"
	detailMessageField = "detailMessage"
	causeField         = "cause"
	stringValueField   = "value"
)
