package vm

import (
	"sync/atomic"

	"github.com/chazu/mocha/classfile"
)

// Node is a compiled instruction. Opcode reports the class-file opcode
// until a site resolves; call and field sites then report one of the
// specialized VM opcodes below, and the dispatch loop runs the fast handler
// for it.
type Node interface {
	Opcode() int
	Insn() *classfile.Insn
}

// VM-internal opcodes for resolved sites. They start past the class-file
// opcode range so a single table serves both.
const (
	opInvokeStaticResolved = 256 + iota
	opInvokeSpecialResolved
	opInvokeVirtualCached
	opInvokeInterfaceCached
	opGetFieldResolved
	opPutFieldResolved
	opGetStaticResolved
	opPutStaticResolved

	opCount
)

var opNames = map[int]string{
	opInvokeStaticResolved:  "invokestatic_resolved",
	opInvokeSpecialResolved: "invokespecial_resolved",
	opInvokeVirtualCached:   "invokevirtual_cached",
	opInvokeInterfaceCached: "invokeinterface_cached",
	opGetFieldResolved:      "getfield_resolved",
	opPutFieldResolved:      "putfield_resolved",
	opGetStaticResolved:     "getstatic_resolved",
	opPutStaticResolved:     "putstatic_resolved",
}

// OpcodeName returns the mnemonic of a class-file or VM opcode.
func OpcodeName(op int) string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return classfile.Opcode(op).String()
}

func newNode(insn classfile.Insn) Node {
	switch insn.Op {
	case classfile.INVOKESTATIC, classfile.INVOKESPECIAL, classfile.INVOKEVIRTUAL, classfile.INVOKEINTERFACE:
		return &callNode{insn: insn}
	case classfile.GETFIELD, classfile.PUTFIELD, classfile.GETSTATIC, classfile.PUTSTATIC:
		return &fieldNode{insn: insn}
	case classfile.NEW, classfile.ANEWARRAY, classfile.CHECKCAST, classfile.INSTANCEOF:
		return &typeNode{insn: insn}
	}
	return &plainNode{insn: insn}
}

// plainNode is an instruction with nothing to resolve.
type plainNode struct {
	insn classfile.Insn
}

func (n *plainNode) Opcode() int           { return int(n.insn.Op) }
func (n *plainNode) Insn() *classfile.Insn { return &n.insn }

// ---------------------------------------------------------------------------
// Call sites
// ---------------------------------------------------------------------------

// callCache is the resolved state of a call site. It is immutable once
// published; virtual and interface sites keep their receiver-class cache
// in pic.
type callCache struct {
	op     int
	method *JavaMethod
	pic    *InlineCache
}

type callNode struct {
	insn  classfile.Insn
	cache atomic.Pointer[callCache]
}

func (n *callNode) Opcode() int {
	if c := n.cache.Load(); c != nil {
		return c.op
	}
	return int(n.insn.Op)
}

func (n *callNode) Insn() *classfile.Insn { return &n.insn }

// resolve publishes c unless another thread resolved the site first, and
// returns the winning cache.
func (n *callNode) resolve(c *callCache) *callCache {
	if n.cache.CompareAndSwap(nil, c) {
		return c
	}
	return n.cache.Load()
}

// ---------------------------------------------------------------------------
// Field sites
// ---------------------------------------------------------------------------

// fieldCache is the resolved state of a field site: the field and the
// accessor for its sort.
type fieldCache struct {
	op     int
	field  *JavaField
	access fieldAccessor
}

type fieldNode struct {
	insn  classfile.Insn
	cache atomic.Pointer[fieldCache]
}

func (n *fieldNode) Opcode() int {
	if c := n.cache.Load(); c != nil {
		return c.op
	}
	return int(n.insn.Op)
}

func (n *fieldNode) Insn() *classfile.Insn { return &n.insn }

// ---------------------------------------------------------------------------
// Type sites
// ---------------------------------------------------------------------------

type resolvedClass struct {
	class JavaClass
}

// typeNode names a class: new, anewarray, checkcast, instanceof. The class
// is resolved through the method's loader on first execution.
type typeNode struct {
	insn  classfile.Insn
	class atomic.Pointer[resolvedClass]
}

func (n *typeNode) Opcode() int           { return int(n.insn.Op) }
func (n *typeNode) Insn() *classfile.Insn { return &n.insn }

func (n *typeNode) resolve(ctx *ExecutionContext) JavaClass {
	if r := n.class.Load(); r != nil {
		return r.class
	}
	jc := ctx.Method.owner.loader.LoadClass(ctx.Thread, n.insn.Owner)
	n.class.Store(&resolvedClass{class: jc})
	return jc
}
