package vm

import (
	"testing"

	cf "github.com/chazu/mocha/classfile"
)

func TestAllocationUniqueAddresses(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()

	seen := make(map[uint32]bool)
	for i := 0; i < 2000; i++ {
		b := mm.AllocateHeap(16)
		if b.Address() == 0 {
			t.Fatal("Allocated address 0")
		}
		if seen[b.Address()] {
			t.Fatalf("Address %#x allocated twice", b.Address())
		}
		seen[b.Address()] = true
		if !mm.IsValidAddress(b.Address()) {
			t.Errorf("Address %#x not valid after allocation", b.Address())
		}
	}
}

func TestAllocationRetriesOnCollision(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()

	addrs := []uint32{0, 0x100, 0x100, 0x100, 0x200}
	mm.nextAddress = func() uint32 {
		a := addrs[0]
		addrs = addrs[1:]
		return a
	}
	before := mm.Stats().Collisions

	first := mm.AllocateDirect(8)
	second := mm.AllocateDirect(8)
	if first.Address() != 0x100 {
		t.Errorf("Expected first block at 0x100, got %#x", first.Address())
	}
	if second.Address() != 0x200 {
		t.Errorf("Expected second block at 0x200, got %#x", second.Address())
	}
	if got := mm.Stats().Collisions - before; got != 2 {
		t.Errorf("Expected 2 collisions, got %d", got)
	}
}

func TestFreeAndDoubleFree(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()

	b := mm.AllocateHeap(4)
	mm.Free(b.Address())
	if mm.IsValidAddress(b.Address()) {
		t.Error("Address still valid after free")
	}
	expectFault(t, func() { mm.Free(b.Address()) })
}

func TestReallocateDirect(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()

	b := mm.AllocateDirect(4)
	copy(b.Bytes(), []byte{1, 2, 3, 4})
	grown := mm.ReallocateDirect(b.Address(), 8)
	if grown.Size() != 8 {
		t.Errorf("Expected 8 bytes, got %d", grown.Size())
	}
	if got := grown.Bytes()[:4]; got[0] != 1 || got[3] != 4 {
		t.Errorf("Contents not copied: %v", got)
	}
	if mm.IsValidAddress(b.Address()) {
		t.Error("Old address still valid after realloc")
	}

	expectFault(t, func() { mm.ReallocateDirect(grown.Address(), 2) })

	if nb := mm.ReallocateDirect(grown.Address(), 0); nb != nil {
		t.Error("Expected nil block from realloc to zero")
	}
	if mm.IsValidAddress(grown.Address()) {
		t.Error("Realloc to zero did not free")
	}

	heap := mm.AllocateHeap(4)
	expectFault(t, func() { mm.ReallocateDirect(heap.Address(), 8) })
}

func TestOversizedAllocationThrowsOutOfMemory(t *testing.T) {
	v := newTestVMWith(t, Options{MaxBlockSize: 1 << 12})
	err := v.guard(func() { v.Memory().AllocateHeap(1<<12 + 1) })
	expectThrow(t, err, OutOfMemoryError)
}

func TestOutOfMemoryWithoutRoomForMessage(t *testing.T) {
	cell := cf.NewClass("test/Cell", objectName).
		Method(defaultCtor(objectName)).
		Field(cf.AccPublic, "value", "I").
		Build()
	v := newTestVMWith(t, Options{MaxBlockSize: MinBlockSize}, cell)
	th := testThread(v)

	if _, err := v.NewObject(th, "test/Cell", "()V"); err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	err := v.guard(func() { v.Memory().AllocateHeap(1000) })
	exc := expectThrow(t, err, OutOfMemoryError)
	if !SameObject(exc.Throwable, v.oom) {
		t.Errorf("Expected the preallocated error, got %v", exc)
	}
	if v.reportingOOM.Load() {
		t.Error("Expected the reporting flag to be cleared")
	}
}

func TestMaxBlockSizeBelowMinimum(t *testing.T) {
	if _, err := New(nil, Options{MaxBlockSize: MinBlockSize - 1}); err == nil {
		t.Fatal("Expected New to reject the block size")
	}
}

func TestTwelveByteObject(t *testing.T) {
	point := cf.NewClass("test/Cell", objectName).
		Field(cf.AccPublic, "value", "I").
		Build()
	v := newTestVM(t, point)
	th := testThread(v)

	jc, err := v.LoadClass(th, "test/Cell")
	if err != nil {
		t.Fatalf("LoadClass: %v", err)
	}
	c := jc.(*InstanceClass)
	if c.InstanceSize() != 12 {
		t.Fatalf("Expected instance size 12, got %d", c.InstanceSize())
	}

	mm := v.Memory()
	obj := mm.NewInstance(c)
	mm.WriteInt(obj, 0, 0x12345678)
	if got := mm.ReadInt(obj, 0); got != 0x12345678 {
		t.Errorf("Expected 0x12345678, got %#x", got)
	}
	if got := obj.Block().Bytes()[ObjectHeaderSize]; got != 0x12 {
		t.Errorf("Expected big-endian high byte 0x12, got %#x", got)
	}
	expectFault(t, func() { mm.ReadInt(obj, -1) })
	expectFault(t, func() { mm.WriteInt(obj, 1, 0) })
}

func TestTypedAccessRoundTrip(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()
	ac := v.Primitive(cf.SortByte).ArrayClass()
	arr := mm.NewArray(ac, 32)

	mm.WriteLong(arr, 0, -2)
	mm.WriteDouble(arr, 8, 2.5)
	mm.WriteFloat(arr, 16, -0.75)
	mm.WriteShort(arr, 20, -300)
	mm.WriteChar(arr, 22, 0xfffe)
	mm.WriteByte(arr, 24, -7)
	mm.WriteBoolean(arr, 25, true)

	if got := mm.ReadLong(arr, 0); got != -2 {
		t.Errorf("long: got %d", got)
	}
	if got := mm.ReadDouble(arr, 8); got != 2.5 {
		t.Errorf("double: got %g", got)
	}
	if got := mm.ReadFloat(arr, 16); got != -0.75 {
		t.Errorf("float: got %g", got)
	}
	if got := mm.ReadShort(arr, 20); got != -300 {
		t.Errorf("short: got %d", got)
	}
	if got := mm.ReadChar(arr, 22); got != 0xfffe {
		t.Errorf("char: got %#x", got)
	}
	if got := mm.ReadByte(arr, 24); got != -7 {
		t.Errorf("byte: got %d", got)
	}
	if !mm.ReadBoolean(arr, 25) {
		t.Error("boolean: got false")
	}
	if got := mm.ArrayLength(arr); got != 32 {
		t.Errorf("Expected length 32, got %d", got)
	}
	expectFault(t, func() { mm.ReadLong(arr, 28) })
}

func TestReferencesResolveThroughValueTable(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()
	ac := v.Primitive(cf.SortInt).ArrayClass()
	holder := mm.NewArray(v.BootLoader().FindLoaded(ObjectClass).ArrayClass(), 2)
	target := mm.NewArray(ac, 3)

	mm.WriteReference(holder, 0, target)
	got := mm.ReadReference(holder, 0)
	if !SameObject(got, target) {
		t.Fatalf("Expected %v, got %v", target, got)
	}
	if mm.ReadReference(holder, AddressSize) != nil {
		t.Error("Expected null in unset slot")
	}
	if mm.ClassOf(got) != JavaClass(ac) {
		t.Errorf("Expected class %s, got %s", ac.Name(), mm.ClassOf(got).Name())
	}
}

func TestFreedObjectAccessFaults(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()
	arr := mm.NewArray(v.Primitive(cf.SortInt).ArrayClass(), 1)
	mm.Free(arr.Address())
	expectFault(t, func() { mm.ReadInt(arr, 0) })
	expectFault(t, func() { mm.Value(arr.Address()) })
}

func TestMemoryStats(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()
	before := mm.Stats()
	b := mm.AllocateDirect(100)
	after := mm.Stats()
	if after.LiveBlocks != before.LiveBlocks+1 {
		t.Errorf("Expected %d live blocks, got %d", before.LiveBlocks+1, after.LiveBlocks)
	}
	if after.DirectBlocks != before.DirectBlocks+1 {
		t.Errorf("Expected one more direct block")
	}
	if after.LiveBytes != before.LiveBytes+100 {
		t.Errorf("Expected %d live bytes, got %d", before.LiveBytes+100, after.LiveBytes)
	}
	mm.Free(b.Address())
	if got := mm.Stats().Frees; got != before.Frees+1 {
		t.Errorf("Expected %d frees, got %d", before.Frees+1, got)
	}
}

func TestRawBlockAccess(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()

	b := mm.AllocateDirect(8)
	raw := mm.Raw(b)
	mm.WriteLong(raw, 0, -2)
	if got := mm.ReadLong(raw, 0); got != -2 {
		t.Errorf("Expected -2, got %d", got)
	}
	if b.Bytes()[0] != 0xff || b.Bytes()[7] != 0xfe {
		t.Errorf("Expected big-endian bytes, got % x", b.Bytes())
	}
	expectFault(t, func() { mm.ReadLong(raw, 1) })

	obj := mm.NewArray(v.Primitive(cf.SortInt).ArrayClass(), 1)
	expectFault(t, func() { mm.Raw(obj.Block()) })
}

func TestArrayBaseOffsetLocatesElements(t *testing.T) {
	v := newTestVM(t)
	mm := v.Memory()

	ac := v.Primitive(cf.SortInt).ArrayClass()
	arr := mm.NewArray(ac, 3)
	mm.WriteInt(arr, 2*ac.Scale(), 0x01020304)
	at := ArrayBaseOffset() + 2*ArrayIndexScale("I")
	if got := ByteOrder.Uint32(arr.Block().Bytes()[at:]); got != 0x01020304 {
		t.Errorf("Expected element 2 at block offset %d, got %#x", at, got)
	}
	if got := int64(arr.Block().Size()); got != ArrayBaseOffset()+3*ArrayIndexScale("I") {
		t.Errorf("Expected header plus three elements, got %d bytes", got)
	}
}
