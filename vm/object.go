package vm

import (
	"fmt"
	"sync/atomic"
)

// Layout constants. Every object block starts with an AddressSize header
// holding the address of its class oop; array blocks follow it with a
// 4-byte element count.
const (
	AddressSize      = 8
	ObjectHeaderSize = AddressSize
	ArrayLengthSize  = 4
	ArrayHeaderSize  = ObjectHeaderSize + ArrayLengthSize
)

type blockKind uint8

const (
	kindRaw blockKind = iota
	kindInstance
	kindArray
	kindClass
)

var kindNames = [...]string{
	kindRaw:      "raw",
	kindInstance: "instance",
	kindArray:    "array",
	kindClass:    "class",
}

func (k blockKind) String() string { return kindNames[k] }

// Block is a memory block: an owned byte buffer at a synthetic address.
// A block lives from its allocation until an explicit Free; nothing else
// reclaims it.
type Block struct {
	address uint32
	data    []byte
	direct  bool
	kind    blockKind
	freed   atomic.Bool

	// mirror is the described class when the block is a class oop.
	mirror JavaClass
}

// Address returns the block's synthetic address.
func (b *Block) Address() uint32 { return b.address }

// Size returns the block's capacity in bytes.
func (b *Block) Size() int { return len(b.data) }

// IsDirect reports whether the block was allocated with AllocateDirect.
func (b *Block) IsDirect() bool { return b.direct }

// Kind names what the block holds: raw, instance, array or class.
func (b *Block) Kind() string { return b.kind.String() }

// Bytes returns the block's contents. The slice aliases the block.
func (b *Block) Bytes() []byte { return b.data }

// Object is the host wrapper of a heap value: an instance, an array, or a
// class oop. Wrappers are looked up by address through the memory manager
// and may be rebuilt from their block, so compare objects by Address.
type Object struct {
	block *Block
}

// Address returns the object's address.
func (o *Object) Address() uint32 { return o.block.address }

// Block returns the backing block.
func (o *Object) Block() *Block { return o.block }

// IsArray reports whether the object is an array.
func (o *Object) IsArray() bool { return o.block.kind == kindArray }

// Mirror returns the class an oop describes, or nil for other objects.
func (o *Object) Mirror() JavaClass { return o.block.mirror }

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	switch o.block.kind {
	case kindClass:
		return fmt.Sprintf("class %s@%08x", o.block.mirror.Name(), o.block.address)
	case kindArray:
		return fmt.Sprintf("array@%08x", o.block.address)
	}
	return fmt.Sprintf("object@%08x", o.block.address)
}

// SameObject reports whether a and b refer to the same heap object.
func SameObject(a, b *Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.block.address == b.block.address
}
