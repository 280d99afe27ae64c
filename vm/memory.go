package vm

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"weak"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/chazu/mocha/classfile"
)

// ByteOrder is the byte order of all multi-byte memory accesses.
var ByteOrder = binary.BigEndian

// ---------------------------------------------------------------------------
// MemoryManager: the synthetic address space
// ---------------------------------------------------------------------------

// MemoryManager owns the VM's address space. It keeps two tables keyed by
// address:
//
//   - the block arena, which owns every live block until Free;
//   - the value table, which maps an address to its Object wrapper through a
//     weak pointer, so a wrapper nobody references can be collected while
//     its block stays allocated.
//
// Both tables are sharded concurrent maps, so allocating and dereferencing
// threads contend only within a shard. Blocks are never reclaimed without
// an explicit Free: a long-running VM leaks address space for objects it no
// longer references.
type MemoryManager struct {
	vm           *VM
	blocks       cmap.ConcurrentMap[uint32, *Block]
	values       cmap.ConcurrentMap[uint32, weak.Pointer[Object]]
	maxBlockSize int64

	// nextAddress draws candidate addresses. Tests replace it to force
	// collisions.
	nextAddress func() uint32

	allocations atomic.Uint64
	frees       atomic.Uint64
	collisions  atomic.Uint64
}

func shardAddress(addr uint32) uint32 {
	// Fibonacci hashing spreads sequential test addresses across shards.
	return addr * 2654435769
}

func newMemoryManager(vm *VM, maxBlockSize int64) *MemoryManager {
	return &MemoryManager{
		vm:           vm,
		blocks:       cmap.NewWithCustomShardingFunction[uint32, *Block](shardAddress),
		values:       cmap.NewWithCustomShardingFunction[uint32, weak.Pointer[Object]](shardAddress),
		maxBlockSize: maxBlockSize,
		nextAddress:  rand.Uint32,
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func (mm *MemoryManager) allocate(size int64, direct bool, kind blockKind) *Block {
	if size < 0 {
		faultf("negative allocation size %d", size)
	}
	if size > mm.maxBlockSize {
		mm.vm.outOfMemory(size, mm.maxBlockSize)
	}
	b := &Block{data: make([]byte, size), direct: direct, kind: kind}
	for {
		addr := mm.nextAddress()
		if addr == 0 {
			continue
		}
		b.address = addr
		if mm.blocks.SetIfAbsent(addr, b) {
			break
		}
		mm.collisions.Add(1)
	}
	mm.allocations.Add(1)
	return b
}

// AllocateDirect allocates a direct block: raw memory with an explicit
// lifetime that may be reallocated.
func (mm *MemoryManager) AllocateDirect(size int64) *Block {
	return mm.allocate(size, true, kindRaw)
}

// AllocateHeap allocates a raw heap block.
func (mm *MemoryManager) AllocateHeap(size int64) *Block {
	return mm.allocate(size, false, kindRaw)
}

// Free releases the block at address. Freeing an address that is not live
// is a Fault.
func (mm *MemoryManager) Free(address uint32) {
	b, ok := mm.blocks.Pop(address)
	if !ok {
		faultf("free of unallocated address %#08x", address)
	}
	b.freed.Store(true)
	mm.values.Remove(address)
	mm.frees.Add(1)
}

// ReallocateDirect grows a direct block. The contents are copied into a new
// block at a new address and the old address is retired. Shrinking is not
// supported; a new size of zero frees the block and returns nil.
func (mm *MemoryManager) ReallocateDirect(address uint32, newSize int64) *Block {
	b, ok := mm.blocks.Get(address)
	if !ok {
		faultf("realloc of unallocated address %#08x", address)
	}
	if !b.direct {
		faultf("realloc of heap block %#08x", address)
	}
	if newSize == 0 {
		mm.Free(address)
		return nil
	}
	if newSize < int64(len(b.data)) {
		faultf("realloc of %#08x would shrink %d to %d bytes", address, len(b.data), newSize)
	}
	nb := mm.AllocateDirect(newSize)
	copy(nb.data, b.data)
	mm.Free(address)
	return nb
}

// Block returns the live block at address, or nil.
func (mm *MemoryManager) Block(address uint32) *Block {
	b, _ := mm.blocks.Get(address)
	return b
}

// Raw wraps a raw block for typed access. Offsets into a raw block start
// at its first byte.
func (mm *MemoryManager) Raw(b *Block) *Object {
	if b.kind != kindRaw {
		faultf("%s block %#08x is not raw memory", b.kind, b.address)
	}
	return &Object{block: b}
}

// IsValidAddress reports whether a block is live at address.
func (mm *MemoryManager) IsValidAddress(address uint32) bool {
	return mm.blocks.Has(address)
}

// ---------------------------------------------------------------------------
// Value table
// ---------------------------------------------------------------------------

// register publishes o in the value table. Callers stamp the header first,
// so no other thread can observe an object without its class.
func (mm *MemoryManager) register(o *Object) {
	addr := o.block.address
	mm.values.Set(addr, weak.Make(o))
	runtime.AddCleanup(o, mm.dropValue, addr)
}

func (mm *MemoryManager) dropValue(addr uint32) {
	mm.values.RemoveCb(addr, func(_ uint32, wp weak.Pointer[Object], exists bool) bool {
		return exists && wp.Value() == nil
	})
}

// Value returns the object at address, or nil for address 0. A wrapper
// that was collected is rebuilt from its live block. An address with no
// live object block is a Fault.
func (mm *MemoryManager) Value(address uint32) *Object {
	if address == 0 {
		return nil
	}
	if wp, ok := mm.values.Get(address); ok {
		if o := wp.Value(); o != nil {
			return o
		}
	}
	b, ok := mm.blocks.Get(address)
	if !ok {
		faultf("dangling reference to %#08x", address)
	}
	if b.kind == kindRaw {
		faultf("reference to raw block %#08x", address)
	}
	o := &Object{block: b}
	kept := mm.values.Upsert(address, weak.Make(o), func(exist bool, old, fresh weak.Pointer[Object]) weak.Pointer[Object] {
		if exist && old.Value() != nil {
			return old
		}
		return fresh
	})
	if k := kept.Value(); k != nil && k != o {
		return k
	}
	runtime.AddCleanup(o, mm.dropValue, address)
	return o
}

// ---------------------------------------------------------------------------
// Objects, arrays and class oops
// ---------------------------------------------------------------------------

func (mm *MemoryManager) stampHeader(b *Block, classOop *Object) {
	var addr uint32
	if classOop != nil {
		addr = classOop.block.address
	}
	ByteOrder.PutUint64(b.data[0:AddressSize], uint64(addr))
}

// NewInstance allocates an instance of a linked class.
func (mm *MemoryManager) NewInstance(c *InstanceClass) *Object {
	b := mm.allocate(c.InstanceSize(), false, kindInstance)
	mm.stampHeader(b, c.Oop())
	o := &Object{block: b}
	mm.register(o)
	return o
}

// NewArray allocates an array of length elements. A negative length is the
// caller's guest condition to raise; here it is a Fault.
func (mm *MemoryManager) NewArray(ac *ArrayClass, length int32) *Object {
	if length < 0 {
		faultf("negative array length %d", length)
	}
	b := mm.allocate(ArrayHeaderSize+int64(length)*ac.Scale(), false, kindArray)
	mm.stampHeader(b, ac.Oop())
	ByteOrder.PutUint32(b.data[AddressSize:ArrayHeaderSize], uint32(length))
	o := &Object{block: b}
	mm.register(o)
	return o
}

// NewClassOop allocates the oop describing mirror. Its header points at the
// metaclass oop; the metaclass's own oop points at itself.
func (mm *MemoryManager) NewClassOop(mirror JavaClass, size int64) *Object {
	b := mm.allocate(size, false, kindClass)
	b.mirror = mirror
	o := &Object{block: b}
	meta := mm.vm.metaclass
	if meta == nil || meta.oop == nil {
		mm.stampHeader(b, o)
	} else {
		mm.stampHeader(b, meta.oop)
	}
	mm.register(o)
	return o
}

// ClassOop returns the oop stamped in o's header.
func (mm *MemoryManager) ClassOop(o *Object) *Object {
	mm.check(o)
	addr := uint32(ByteOrder.Uint64(o.block.data[0:AddressSize]))
	oop := mm.Value(addr)
	if oop == nil || oop.block.kind != kindClass || oop.block.mirror == nil {
		faultf("header of %v does not name a class", o)
	}
	return oop
}

// ClassOf returns the class of o.
func (mm *MemoryManager) ClassOf(o *Object) JavaClass {
	return mm.ClassOop(o).block.mirror
}

// ArrayLength returns the element count of an array.
func (mm *MemoryManager) ArrayLength(o *Object) int32 {
	mm.check(o)
	if o.block.kind != kindArray {
		faultf("%v is not an array", o)
	}
	return int32(ByteOrder.Uint32(o.block.data[AddressSize:ArrayHeaderSize]))
}

// ArrayBaseOffset returns the offset of element 0 from the block start.
func ArrayBaseOffset() int64 { return ArrayHeaderSize }

// ArrayIndexScale returns the element width of an array of the given
// component descriptor.
func ArrayIndexScale(component string) int64 {
	switch classfile.SortOf(component) {
	case classfile.SortLong, classfile.SortDouble:
		return 8
	case classfile.SortInt, classfile.SortFloat:
		return 4
	case classfile.SortShort, classfile.SortChar:
		return 2
	case classfile.SortByte, classfile.SortBoolean:
		return 1
	}
	return AddressSize
}

// ---------------------------------------------------------------------------
// Typed access
// ---------------------------------------------------------------------------

func (mm *MemoryManager) check(o *Object) {
	if o == nil {
		faultf("memory access through null object")
	}
	if o.block.freed.Load() {
		faultf("access to freed block %#08x", o.block.address)
	}
}

// slice validates an access of n bytes at offset past the object's header.
func (mm *MemoryManager) slice(o *Object, offset int64, n int64) []byte {
	mm.check(o)
	if offset < 0 {
		faultf("negative offset %d into %v", offset, o)
	}
	base := int64(ObjectHeaderSize)
	switch o.block.kind {
	case kindArray:
		base = ArrayHeaderSize
	case kindRaw:
		base = 0
	}
	start := base + offset
	if start+n > int64(len(o.block.data)) {
		faultf("offset %d (+%d) outside %v of %d bytes", offset, n, o, len(o.block.data))
	}
	return o.block.data[start : start+n]
}

func (mm *MemoryManager) ReadInt(o *Object, offset int64) int32 {
	return int32(ByteOrder.Uint32(mm.slice(o, offset, 4)))
}

func (mm *MemoryManager) WriteInt(o *Object, offset int64, v int32) {
	ByteOrder.PutUint32(mm.slice(o, offset, 4), uint32(v))
}

func (mm *MemoryManager) ReadLong(o *Object, offset int64) int64 {
	return int64(ByteOrder.Uint64(mm.slice(o, offset, 8)))
}

func (mm *MemoryManager) WriteLong(o *Object, offset int64, v int64) {
	ByteOrder.PutUint64(mm.slice(o, offset, 8), uint64(v))
}

// ReadFloat reads the raw bits stored by WriteFloat.
func (mm *MemoryManager) ReadFloat(o *Object, offset int64) float32 {
	return math.Float32frombits(uint32(mm.ReadInt(o, offset)))
}

// WriteFloat stores a float as its raw IEEE 754 bits.
func (mm *MemoryManager) WriteFloat(o *Object, offset int64, v float32) {
	mm.WriteInt(o, offset, int32(math.Float32bits(v)))
}

func (mm *MemoryManager) ReadDouble(o *Object, offset int64) float64 {
	return math.Float64frombits(uint64(mm.ReadLong(o, offset)))
}

func (mm *MemoryManager) WriteDouble(o *Object, offset int64, v float64) {
	mm.WriteLong(o, offset, int64(math.Float64bits(v)))
}

func (mm *MemoryManager) ReadShort(o *Object, offset int64) int16 {
	return int16(ByteOrder.Uint16(mm.slice(o, offset, 2)))
}

func (mm *MemoryManager) WriteShort(o *Object, offset int64, v int16) {
	ByteOrder.PutUint16(mm.slice(o, offset, 2), uint16(v))
}

func (mm *MemoryManager) ReadChar(o *Object, offset int64) uint16 {
	return ByteOrder.Uint16(mm.slice(o, offset, 2))
}

func (mm *MemoryManager) WriteChar(o *Object, offset int64, v uint16) {
	ByteOrder.PutUint16(mm.slice(o, offset, 2), v)
}

func (mm *MemoryManager) ReadByte(o *Object, offset int64) int8 {
	return int8(mm.slice(o, offset, 1)[0])
}

func (mm *MemoryManager) WriteByte(o *Object, offset int64, v int8) {
	mm.slice(o, offset, 1)[0] = byte(v)
}

func (mm *MemoryManager) ReadBoolean(o *Object, offset int64) bool {
	return mm.slice(o, offset, 1)[0] != 0
}

func (mm *MemoryManager) WriteBoolean(o *Object, offset int64, v bool) {
	var b byte
	if v {
		b = 1
	}
	mm.slice(o, offset, 1)[0] = b
}

// ReadReference reads an address-sized reference and resolves it.
func (mm *MemoryManager) ReadReference(o *Object, offset int64) *Object {
	return mm.Value(uint32(ByteOrder.Uint64(mm.slice(o, offset, AddressSize))))
}

// WriteReference stores the address of ref, or 0 for nil.
func (mm *MemoryManager) WriteReference(o *Object, offset int64, ref *Object) {
	var addr uint32
	if ref != nil {
		addr = ref.block.address
	}
	ByteOrder.PutUint64(mm.slice(o, offset, AddressSize), uint64(addr))
}

// ReadValue reads a value of the given sort. Sub-int sorts widen to int.
func (mm *MemoryManager) ReadValue(o *Object, offset int64, sort classfile.Sort) Value {
	switch sort {
	case classfile.SortInt:
		return Int(mm.ReadInt(o, offset))
	case classfile.SortLong:
		return Long(mm.ReadLong(o, offset))
	case classfile.SortFloat:
		return Float(mm.ReadFloat(o, offset))
	case classfile.SortDouble:
		return Double(mm.ReadDouble(o, offset))
	case classfile.SortShort:
		return Int(int32(mm.ReadShort(o, offset)))
	case classfile.SortChar:
		return Int(int32(mm.ReadChar(o, offset)))
	case classfile.SortByte:
		return Int(int32(mm.ReadByte(o, offset)))
	case classfile.SortBoolean:
		return Bool(mm.ReadBoolean(o, offset))
	case classfile.SortObject, classfile.SortArray:
		return Ref(mm.ReadReference(o, offset))
	}
	faultf("read of void value")
	return Void
}

// WriteValue writes v as the given sort. Sub-int sorts truncate the int.
func (mm *MemoryManager) WriteValue(o *Object, offset int64, sort classfile.Sort, v Value) {
	switch sort {
	case classfile.SortInt:
		mm.WriteInt(o, offset, v.AsInt())
	case classfile.SortLong:
		mm.WriteLong(o, offset, v.AsLong())
	case classfile.SortFloat:
		mm.WriteFloat(o, offset, v.AsFloat())
	case classfile.SortDouble:
		mm.WriteDouble(o, offset, v.AsDouble())
	case classfile.SortShort:
		mm.WriteShort(o, offset, int16(v.AsInt()))
	case classfile.SortChar:
		mm.WriteChar(o, offset, uint16(v.AsInt()))
	case classfile.SortByte:
		mm.WriteByte(o, offset, int8(v.AsInt()))
	case classfile.SortBoolean:
		mm.WriteBoolean(o, offset, v.AsInt()&1 != 0)
	case classfile.SortObject, classfile.SortArray:
		mm.WriteReference(o, offset, v.AsRef())
	default:
		faultf("write of void value")
	}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// MemoryStats summarizes the address space.
type MemoryStats struct {
	LiveBlocks   int
	LiveBytes    int64
	DirectBlocks int
	Objects      int
	ClassOops    int
	Allocations  uint64
	Frees        uint64
	Collisions   uint64
}

// Stats returns a snapshot of memory usage.
func (mm *MemoryManager) Stats() MemoryStats {
	var s MemoryStats
	mm.blocks.IterCb(func(_ uint32, b *Block) {
		s.LiveBlocks++
		s.LiveBytes += int64(len(b.data))
		switch {
		case b.direct:
			s.DirectBlocks++
		case b.kind == kindClass:
			s.ClassOops++
		case b.kind != kindRaw:
			s.Objects++
		}
	})
	s.Allocations = mm.allocations.Load()
	s.Frees = mm.frees.Load()
	s.Collisions = mm.collisions.Load()
	return s
}
