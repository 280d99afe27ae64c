// Package classfile describes parsed classes: the structured form a class
// file takes after decoding, and the only form the VM consumes.
//
// A Class carries its name, modifiers, supertype names, and ordered field
// and method lists. Method bodies are already decoded into instruction
// lists whose branch targets are instruction indices, so the VM never sees
// raw bytes or constant-pool indices.
package classfile

// Access flags, as found in class files.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccSuper        = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccVarargs      = 0x0080
	AccTransient    = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000

	// AccHidden marks members injected by the VM itself. Hidden members
	// take part in layout and dispatch but are left out of declared
	// member listings.
	AccHidden = 0x40000
)

// Class is a parsed class.
type Class struct {
	Name       string   `cbor:"name"`
	Access     int      `cbor:"access"`
	SuperName  string   `cbor:"super,omitempty"`
	Interfaces []string `cbor:"interfaces,omitempty"`
	Fields     []Field  `cbor:"fields,omitempty"`
	Methods    []Method `cbor:"methods,omitempty"`
	SourceFile string   `cbor:"source,omitempty"`
}

// Field is a declared field. Value holds the ConstantValue attribute of a
// static field, if any.
type Field struct {
	Name   string    `cbor:"name"`
	Desc   string    `cbor:"desc"`
	Access int       `cbor:"access"`
	Value  *Constant `cbor:"value,omitempty"`
}

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool { return f.Access&AccStatic != 0 }

// Method is a declared method with its decoded body.
type Method struct {
	Name      string     `cbor:"name"`
	Desc      string     `cbor:"desc"`
	Access    int        `cbor:"access"`
	MaxStack  int        `cbor:"max_stack,omitempty"`
	MaxLocals int        `cbor:"max_locals,omitempty"`
	Code      []Insn     `cbor:"code,omitempty"`
	TryCatch  []TryCatch `cbor:"try_catch,omitempty"`
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.Access&AccStatic != 0 }

// TryCatch is an exception table entry. Start and End delimit the covered
// instruction range [Start, End); Type is the internal name of the caught
// class, or empty for a catch-all.
type TryCatch struct {
	Start   int    `cbor:"start"`
	End     int    `cbor:"end"`
	Handler int    `cbor:"handler"`
	Type    string `cbor:"type,omitempty"`
}

// Insn is a single decoded instruction. Which operand fields are meaningful
// depends on Op:
//
//   - loads, stores, iinc: Var
//   - bipush, sipush, iinc, newarray: Operand
//   - ldc: Const
//   - branches: Target (instruction index)
//   - field and method instructions: Owner, Name, Desc
//   - new, anewarray, checkcast, instanceof: Owner
type Insn struct {
	Op      Opcode    `cbor:"op"`
	Var     int       `cbor:"var,omitempty"`
	Operand int       `cbor:"operand,omitempty"`
	Target  int       `cbor:"target,omitempty"`
	Const   *Constant `cbor:"const,omitempty"`
	Owner   string    `cbor:"owner,omitempty"`
	Name    string    `cbor:"name,omitempty"`
	Desc    string    `cbor:"desc,omitempty"`
}

// ConstKind tags a Constant.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
)

// Constant is a loadable constant: an ldc operand or a field's
// ConstantValue.
type Constant struct {
	Kind   ConstKind `cbor:"kind"`
	Int    int64     `cbor:"int,omitempty"`
	Float  float64   `cbor:"float,omitempty"`
	String string    `cbor:"string,omitempty"`
}

// IntConst returns an int constant.
func IntConst(v int32) *Constant { return &Constant{Kind: ConstInt, Int: int64(v)} }

// LongConst returns a long constant.
func LongConst(v int64) *Constant { return &Constant{Kind: ConstLong, Int: v} }

// FloatConst returns a float constant.
func FloatConst(v float32) *Constant { return &Constant{Kind: ConstFloat, Float: float64(v)} }

// DoubleConst returns a double constant.
func DoubleConst(v float64) *Constant { return &Constant{Kind: ConstDouble, Float: v} }

// StringConst returns a string constant.
func StringConst(v string) *Constant { return &Constant{Kind: ConstString, String: v} }
