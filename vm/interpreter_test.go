package vm

import (
	"math"
	"strings"
	"testing"

	cf "github.com/chazu/mocha/classfile"
)

func mathClass() *cf.Class {
	return cf.NewClass("test/Math", objectName).
		Method(staticMethod("sum", "(I)I").
			Op(cf.ICONST_0).Var(cf.ISTORE, 1).
			Op(cf.ICONST_1).Var(cf.ISTORE, 2).
			Label("loop").
			Var(cf.ILOAD, 2).Var(cf.ILOAD, 0).
			Jump(cf.IF_ICMPGT, "end").
			Var(cf.ILOAD, 1).Var(cf.ILOAD, 2).Op(cf.IADD).Var(cf.ISTORE, 1).
			Iinc(2, 1).
			Jump(cf.GOTO, "loop").
			Label("end").
			Var(cf.ILOAD, 1).Op(cf.IRETURN).
			Build()).
		Method(staticMethod("fact", "(J)J").
			Op(cf.LCONST_1).Var(cf.LSTORE, 2).
			Label("loop").
			Var(cf.LLOAD, 0).Op(cf.LCONST_0, cf.LCMP).
			Jump(cf.IFLE, "end").
			Var(cf.LLOAD, 2).Var(cf.LLOAD, 0).Op(cf.LMUL).Var(cf.LSTORE, 2).
			Var(cf.LLOAD, 0).Op(cf.LCONST_1, cf.LSUB).Var(cf.LSTORE, 0).
			Jump(cf.GOTO, "loop").
			Label("end").
			Var(cf.LLOAD, 2).Op(cf.LRETURN).
			Build()).
		Method(staticMethod("scale", "(DI)D").
			Var(cf.DLOAD, 0).Var(cf.ILOAD, 2).Op(cf.I2D, cf.DMUL, cf.DRETURN).
			Build()).
		Method(staticMethod("reverseSub", "(II)I").
			Var(cf.ILOAD, 0).Var(cf.ILOAD, 1).Op(cf.SWAP, cf.ISUB, cf.IRETURN).
			Build()).
		Method(staticMethod("twice", "(J)J").
			Var(cf.LLOAD, 0).Op(cf.DUP2, cf.LADD, cf.LRETURN).
			Build()).
		Method(staticMethod("cmpl", "(FF)I").
			Var(cf.FLOAD, 0).Var(cf.FLOAD, 1).Op(cf.FCMPL, cf.IRETURN).
			Build()).
		Method(staticMethod("cmpg", "(FF)I").
			Var(cf.FLOAD, 0).Var(cf.FLOAD, 1).Op(cf.FCMPG, cf.IRETURN).
			Build()).
		Method(staticMethod("toInt", "(D)I").
			Var(cf.DLOAD, 0).Op(cf.D2I, cf.IRETURN).
			Build()).
		Method(staticMethod("toByte", "(I)I").
			Var(cf.ILOAD, 0).Op(cf.I2B, cf.IRETURN).
			Build()).
		Method(staticMethod("ushr", "(II)I").
			Var(cf.ILOAD, 0).Var(cf.ILOAD, 1).Op(cf.IUSHR, cf.IRETURN).
			Build()).
		Method(staticMethod("div", "(II)I").
			Var(cf.ILOAD, 0).Var(cf.ILOAD, 1).Op(cf.IDIV, cf.IRETURN).
			Build()).
		Method(staticMethod("safeDiv", "(II)I").
			Label("start").
			Var(cf.ILOAD, 0).Var(cf.ILOAD, 1).Op(cf.IDIV, cf.IRETURN).
			Label("end").
			Label("handler").
			Op(cf.POP, cf.ICONST_M1, cf.IRETURN).
			Try("start", "end", "handler", "java/lang/ArithmeticException").
			Build()).
		Build()
}

func TestArithmetic(t *testing.T) {
	v := newTestVM(t, mathClass())
	th := testThread(v)
	const owner = "test/Math"

	if got := mustInvokeStatic(t, v, th, owner, "sum", "(I)I", Int(10)); got.AsInt() != 55 {
		t.Errorf("sum(10): expected 55, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "fact", "(J)J", Long(20)); got.AsLong() != 2432902008176640000 {
		t.Errorf("fact(20): got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "scale", "(DI)D", Double(1.5), Int(4)); got.AsDouble() != 6 {
		t.Errorf("scale: expected 6, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "reverseSub", "(II)I", Int(3), Int(10)); got.AsInt() != 7 {
		t.Errorf("reverseSub: expected 7, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "twice", "(J)J", Long(1<<40)); got.AsLong() != 1<<41 {
		t.Errorf("twice: got %v", got)
	}
	nan := Float(float32(math.NaN()))
	if got := mustInvokeStatic(t, v, th, owner, "cmpl", "(FF)I", nan, Float(1)); got.AsInt() != -1 {
		t.Errorf("fcmpl with NaN: expected -1, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "cmpg", "(FF)I", nan, Float(1)); got.AsInt() != 1 {
		t.Errorf("fcmpg with NaN: expected 1, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "cmpl", "(FF)I", Float(2), Float(1)); got.AsInt() != 1 {
		t.Errorf("fcmpl 2,1: expected 1, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "toInt", "(D)I", Double(1e20)); got.AsInt() != math.MaxInt32 {
		t.Errorf("d2i saturation: got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "toInt", "(D)I", Double(math.NaN())); got.AsInt() != 0 {
		t.Errorf("d2i of NaN: got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "toByte", "(I)I", Int(200)); got.AsInt() != -56 {
		t.Errorf("i2b: got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "ushr", "(II)I", Int(-1), Int(28)); got.AsInt() != 15 {
		t.Errorf("iushr: got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "div", "(II)I", Int(math.MinInt32), Int(-1)); got.AsInt() != math.MinInt32 {
		t.Errorf("MinInt32 / -1: got %v", got)
	}
}

func TestDivideByZero(t *testing.T) {
	v := newTestVM(t, mathClass())
	th := testThread(v)

	_, err := v.InvokeStatic(th, "test/Math", "div", "(II)I", Int(1), Int(0))
	exc := expectThrow(t, err, ArithmeticException)
	if exc.Message() != "/ by zero" {
		t.Errorf("Expected / by zero, got %q", exc.Message())
	}

	if got := mustInvokeStatic(t, v, th, "test/Math", "safeDiv", "(II)I", Int(7), Int(2)); got.AsInt() != 3 {
		t.Errorf("safeDiv(7, 2): expected 3, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, "test/Math", "safeDiv", "(II)I", Int(1), Int(0)); got.AsInt() != -1 {
		t.Errorf("safeDiv(1, 0): expected -1, got %v", got)
	}
}

func TestArgumentCountChecked(t *testing.T) {
	v := newTestVM(t, mathClass())
	_, err := v.InvokeStatic(testThread(v), "test/Math", "sum", "(I)I")
	expectThrow(t, err, IllegalArgumentException)
	_, err = v.InvokeStatic(testThread(v), "test/Math", "nothing", "()V")
	expectThrow(t, err, NoSuchMethodError)
}

func TestExceptionsCrossFrames(t *testing.T) {
	src := cf.NewClass("test/Thrower", objectName).
		Method(staticMethod("fail", "()V").
			Type(cf.NEW, "java/lang/IllegalStateException").
			Op(cf.DUP).
			Invoke(cf.INVOKESPECIAL, "java/lang/IllegalStateException", "<init>", "()V").
			Op(cf.ATHROW).
			Build()).
		Method(staticMethod("guarded", "()I").
			Label("start").
			Invoke(cf.INVOKESTATIC, "test/Thrower", "fail", "()V").
			Op(cf.ICONST_0, cf.IRETURN).
			Label("end").
			Label("handler").
			Op(cf.POP, cf.ICONST_1, cf.IRETURN).
			Try("start", "end", "handler", "java/lang/RuntimeException").
			Build()).
		Method(staticMethod("catchAll", "()I").
			Label("start").
			Op(cf.ACONST_NULL, cf.ATHROW).
			Label("end").
			Label("handler").
			Type(cf.INSTANCEOF, NullPointerException).
			Op(cf.IRETURN).
			Try("start", "end", "handler", "").
			Build()).
		Method(staticMethod("wrongCatch", "()I").
			Label("start").
			Invoke(cf.INVOKESTATIC, "test/Thrower", "fail", "()V").
			Op(cf.ICONST_0, cf.IRETURN).
			Label("end").
			Label("handler").
			Op(cf.POP, cf.ICONST_1, cf.IRETURN).
			Try("start", "end", "handler", "java/lang/ArithmeticException").
			Build()).
		Build()
	v := newTestVM(t, src)
	th := testThread(v)

	if got := mustInvokeStatic(t, v, th, "test/Thrower", "guarded", "()I"); got.AsInt() != 1 {
		t.Errorf("Expected the subclass to be caught, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, "test/Thrower", "catchAll", "()I"); got.AsInt() != 1 {
		t.Errorf("Expected athrow of null to raise NullPointerException, got %v", got)
	}
	_, err := v.InvokeStatic(th, "test/Thrower", "wrongCatch", "()I")
	expectThrow(t, err, "java/lang/IllegalStateException")
	if th.Depth() != 0 {
		t.Errorf("Expected depth 0 after unwinding, got %d", th.Depth())
	}
}

func TestStaticCallCacheEquivalence(t *testing.T) {
	src := cf.NewClass("test/Calls", objectName).
		Method(staticMethod("f", "(I)I").
			Var(cf.ILOAD, 0).Op(cf.ICONST_2, cf.IMUL, cf.ICONST_1, cf.IADD, cf.IRETURN).
			Build()).
		Method(staticMethod("caller", "(I)I").
			Var(cf.ILOAD, 0).
			Invoke(cf.INVOKESTATIC, "test/Calls", "f", "(I)I").
			Op(cf.IRETURN).
			Build()).
		Build()
	v := newTestVM(t, src)
	th := testThread(v)

	caller := loadInstance(t, v, "test/Calls").DeclaredMethod("caller", "(I)I")
	site := caller.Nodes()[1]
	if site.Opcode() != int(cf.INVOKESTATIC) {
		t.Fatalf("Expected an unresolved site, got %s", OpcodeName(site.Opcode()))
	}

	for i := int32(-3); i <= 3; i++ {
		direct := mustInvokeStatic(t, v, th, "test/Calls", "f", "(I)I", Int(i))
		cold := mustInvokeStatic(t, v, th, "test/Calls", "caller", "(I)I", Int(i))
		if site.Opcode() != opInvokeStaticResolved {
			t.Fatalf("Expected a resolved site, got %s", OpcodeName(site.Opcode()))
		}
		warm := mustInvokeStatic(t, v, th, "test/Calls", "caller", "(I)I", Int(i))
		if !cold.Equal(direct) || !warm.Equal(direct) {
			t.Errorf("f(%d): direct %v, cold %v, warm %v", i, direct, cold, warm)
		}
	}
	if stats := v.CacheStats(); stats.ResolvedCalls < 1 {
		t.Errorf("Expected a resolved call site in stats, got %+v", stats)
	}
}

func boxClass() *cf.Class {
	return cf.NewClass("test/Box", objectName).
		Field(cf.AccPublic, "f", "F").
		Field(cf.AccPublic, "d", "D").
		Method(defaultCtor(objectName)).
		Method(staticMethod("roundTrip", "(F)F").
			Type(cf.NEW, "test/Box").
			Op(cf.DUP).
			Invoke(cf.INVOKESPECIAL, "test/Box", "<init>", "()V").
			Var(cf.ASTORE, 1).
			Var(cf.ALOAD, 1).Var(cf.FLOAD, 0).
			Field(cf.PUTFIELD, "test/Box", "f", "F").
			Var(cf.ALOAD, 1).
			Field(cf.GETFIELD, "test/Box", "f", "F").
			Op(cf.FRETURN).
			Build()).
		Method(staticMethod("roundTripDouble", "(D)D").
			Type(cf.NEW, "test/Box").
			Op(cf.DUP).
			Invoke(cf.INVOKESPECIAL, "test/Box", "<init>", "()V").
			Var(cf.ASTORE, 2).
			Var(cf.ALOAD, 2).Var(cf.DLOAD, 0).
			Field(cf.PUTFIELD, "test/Box", "d", "D").
			Var(cf.ALOAD, 2).
			Field(cf.GETFIELD, "test/Box", "d", "D").
			Op(cf.DRETURN).
			Build()).
		Method(staticMethod("readNull", "()F").
			Op(cf.ACONST_NULL).
			Field(cf.GETFIELD, "test/Box", "f", "F").
			Op(cf.FRETURN).
			Build()).
		Build()
}

func TestFloatFieldRoundTrip(t *testing.T) {
	v := newTestVM(t, boxClass())
	th := testThread(v)

	for _, f := range []float32{3.25, float32(math.Copysign(0, -1)), math.Float32frombits(0x7fc00123), math.MaxFloat32} {
		for pass := 0; pass < 2; pass++ {
			got := mustInvokeStatic(t, v, th, "test/Box", "roundTrip", "(F)F", Float(f))
			if got.Bits() != uint64(math.Float32bits(f)) {
				t.Errorf("pass %d: expected bits %#x, got %#x", pass, math.Float32bits(f), got.Bits())
			}
		}
	}
	got := mustInvokeStatic(t, v, th, "test/Box", "roundTripDouble", "(D)D", Double(-1.0/3))
	if got.AsDouble() != -1.0/3 {
		t.Errorf("Expected -1/3, got %v", got)
	}

	m := loadInstance(t, v, "test/Box").DeclaredMethod("roundTrip", "(F)F")
	if op := m.Nodes()[6].Opcode(); op != opPutFieldResolved {
		t.Errorf("Expected a resolved putfield, got %s", OpcodeName(op))
	}

	_, err := v.InvokeStatic(th, "test/Box", "readNull", "()F")
	expectThrow(t, err, NullPointerException)
}

func shapeClasses(n int) []*cf.Class {
	classes := []*cf.Class{
		cf.NewClass("test/Shape", objectName).
			Access(cf.AccPublic|cf.AccAbstract|cf.AccSuper).
			Method(defaultCtor(objectName)).
			Abstract(cf.AccPublic, "area", "()I").
			Method(staticMethod("areaOf", "(Ltest/Shape;)I").
				Var(cf.ALOAD, 0).
				Invoke(cf.INVOKEVIRTUAL, "test/Shape", "area", "()I").
				Op(cf.IRETURN).
				Build()).
			Build(),
	}
	for i := 1; i <= n; i++ {
		name := "test/Shape" + string(rune('0'+i))
		classes = append(classes, cf.NewClass(name, "test/Shape").
			Method(defaultCtor("test/Shape")).
			Method(cf.NewMethod(cf.AccPublic, "area", "()I").Int(cf.BIPUSH, i*10).Op(cf.IRETURN).Build()).
			Build())
	}
	return classes
}

func TestVirtualDispatchThroughInlineCache(t *testing.T) {
	v := newTestVM(t, shapeClasses(7)...)
	th := testThread(v)

	areaOf := loadInstance(t, v, "test/Shape").DeclaredMethod("areaOf", "(Ltest/Shape;)I")
	pic := func() *InlineCache {
		return areaOf.Nodes()[1].(*callNode).cache.Load().pic
	}

	wantStates := []CacheState{
		CacheMonomorphic, CachePolymorphic, CachePolymorphic, CachePolymorphic,
		CachePolymorphic, CachePolymorphic, CacheMegamorphic,
	}
	for i := 1; i <= 7; i++ {
		name := "test/Shape" + string(rune('0'+i))
		obj, err := v.NewObject(th, name, "()V")
		if err != nil {
			t.Fatalf("NewObject(%s): %v", name, err)
		}
		for pass := 0; pass < 2; pass++ {
			got := mustInvokeStatic(t, v, th, "test/Shape", "areaOf", "(Ltest/Shape;)I", Ref(obj))
			if got.AsInt() != int32(i*10) {
				t.Errorf("%s: expected %d, got %v", name, i*10, got)
			}
		}
		if state := pic().State(); state != wantStates[i-1] {
			t.Errorf("After %d classes: expected %s, got %s", i, wantStates[i-1], state)
		}
	}
	if pic().Hits() == 0 {
		t.Error("Expected cache hits on repeated receivers")
	}

	_, err := v.InvokeStatic(th, "test/Shape", "areaOf", "(Ltest/Shape;)I", Null)
	expectThrow(t, err, NullPointerException)

	_, err = v.NewObject(th, "test/Shape", "()V")
	expectThrow(t, err, InstantiationError)
}

func TestInterfaceDispatch(t *testing.T) {
	named := cf.NewClass("test/Named", objectName).
		Access(cf.AccPublic|cf.AccInterface|cf.AccAbstract).
		Abstract(cf.AccPublic, "id", "()I").
		Method(cf.NewMethod(cf.AccPublic, "greet", "()I").Int(cf.BIPUSH, 7).Op(cf.IRETURN).Build()).
		Build()
	impl := cf.NewClass("test/Impl", objectName).
		Implements("test/Named").
		Method(defaultCtor(objectName)).
		Method(cf.NewMethod(cf.AccPublic, "id", "()I").Int(cf.BIPUSH, 42).Op(cf.IRETURN).Build()).
		Build()
	client := cf.NewClass("test/Client", objectName).
		Method(staticMethod("id", "(Ltest/Named;)I").
			Var(cf.ALOAD, 0).
			Invoke(cf.INVOKEINTERFACE, "test/Named", "id", "()I").
			Op(cf.IRETURN).
			Build()).
		Method(staticMethod("greet", "(Ltest/Named;)I").
			Var(cf.ALOAD, 0).
			Invoke(cf.INVOKEINTERFACE, "test/Named", "greet", "()I").
			Op(cf.IRETURN).
			Build()).
		Method(staticMethod("badInterface", "(Ltest/Impl;)I").
			Var(cf.ALOAD, 0).
			Invoke(cf.INVOKEINTERFACE, "test/Impl", "id", "()I").
			Op(cf.IRETURN).
			Build()).
		Build()
	v := newTestVM(t, named, impl, client)
	th := testThread(v)

	obj, err := v.NewObject(th, "test/Impl", "()V")
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if got := mustInvokeStatic(t, v, th, "test/Client", "id", "(Ltest/Named;)I", Ref(obj)); got.AsInt() != 42 {
		t.Errorf("Expected 42, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, "test/Client", "greet", "(Ltest/Named;)I", Ref(obj)); got.AsInt() != 7 {
		t.Errorf("Expected the default method's 7, got %v", got)
	}
	_, err = v.InvokeStatic(th, "test/Client", "badInterface", "(Ltest/Impl;)I", Ref(obj))
	expectThrow(t, err, IncompatibleClassChangeError)
}

func TestNatives(t *testing.T) {
	src := cf.NewClass("test/Host", objectName).
		Native(cf.AccPublic|cf.AccStatic, "add", "(JI)J").
		Native(cf.AccPublic|cf.AccStatic, "missing", "()V").
		Native(cf.AccPublic|cf.AccStatic, "fail", "()V").
		Method(staticMethod("guardedFail", "()I").
			Label("start").
			Invoke(cf.INVOKESTATIC, "test/Host", "fail", "()V").
			Op(cf.ICONST_0, cf.IRETURN).
			Label("end").
			Label("handler").
			Op(cf.POP, cf.ICONST_1, cf.IRETURN).
			Try("start", "end", "handler", IllegalArgumentException).
			Build()).
		Build()
	v := newTestVM(t, src)
	th := testThread(v)

	v.Natives().Register("test/Host", "add", "(JI)J", func(c *NativeCall) Value {
		return Long(c.Locals.Long(0) + int64(c.Locals.Int(2)))
	})
	v.Natives().Register("test/Host", "fail", "()V", func(c *NativeCall) Value {
		c.Throw(IllegalArgumentException, "bad argument")
		return Void
	})

	if got := mustInvokeStatic(t, v, th, "test/Host", "add", "(JI)J", Long(1<<33), Int(5)); got.AsLong() != 1<<33+5 {
		t.Errorf("Expected %d, got %v", int64(1<<33+5), got)
	}
	_, err := v.InvokeStatic(th, "test/Host", "missing", "()V")
	expectThrow(t, err, UnsatisfiedLinkError)
	if got := mustInvokeStatic(t, v, th, "test/Host", "guardedFail", "()I"); got.AsInt() != 1 {
		t.Errorf("Expected the native's exception to be caught, got %v", got)
	}
}

func TestStackOverflow(t *testing.T) {
	src := cf.NewClass("test/Recur", objectName).
		Method(staticMethod("down", "(I)I").
			Var(cf.ILOAD, 0).
			Invoke(cf.INVOKESTATIC, "test/Recur", "down", "(I)I").
			Op(cf.IRETURN).
			Build()).
		Build()
	v := newTestVMWith(t, Options{MaxCallDepth: 50}, src)
	th := testThread(v)

	_, err := v.InvokeStatic(th, "test/Recur", "down", "(I)I", Int(0))
	expectThrow(t, err, StackOverflowError)
	if th.Depth() != 0 {
		t.Errorf("Expected depth 0 after overflow, got %d", th.Depth())
	}
}

func TestStrings(t *testing.T) {
	src := cf.NewClass("test/Strs", objectName).
		Method(staticMethod("same", "()I").
			Ldc(cf.StringConst("x")).
			Ldc(cf.StringConst("x")).
			Jump(cf.IF_ACMPNE, "differ").
			Op(cf.ICONST_1, cf.IRETURN).
			Label("differ").
			Op(cf.ICONST_0, cf.IRETURN).
			Build()).
		Build()
	v := newTestVM(t, src)
	th := testThread(v)

	const text = "héllo 🌍"
	str := v.NewString(th, text)
	if got := v.GoString(str); got != text {
		t.Errorf("Expected %q, got %q", text, got)
	}
	length, err := v.InvokeVirtual(th, str, "length", "()I")
	if err != nil || length.AsInt() != 8 {
		t.Errorf("Expected 8 UTF-16 units, got %v (%v)", length, err)
	}
	ch, err := v.InvokeVirtual(th, str, "charAt", "(I)C", Int(1))
	if err != nil || ch.AsInt() != 0xe9 {
		t.Errorf("Expected é, got %v (%v)", ch, err)
	}

	if got := mustInvokeStatic(t, v, th, "test/Strs", "same", "()I"); got.AsInt() != 1 {
		t.Error("Equal string constants should be the same object")
	}
	interned, err := v.InvokeVirtual(th, v.NewString(th, "x"), "intern", "()Ljava/lang/String;")
	if err != nil {
		t.Fatalf("intern: %v", err)
	}
	canonical, _ := v.Intern(th, "x")
	if !SameObject(interned.AsRef(), canonical) {
		t.Error("intern should return the canonical string")
	}
	if v.GoString(nil) != "" {
		t.Error("Expected empty string for null")
	}
}

func arrayClass() *cf.Class {
	return cf.NewClass("test/Arrays", objectName).
		Method(staticMethod("ints", "()I").
			Op(cf.ICONST_3).Int(cf.NEWARRAY, cf.T_INT).Var(cf.ASTORE, 0).
			Var(cf.ALOAD, 0).Op(cf.ICONST_1).Int(cf.BIPUSH, 40).Op(cf.IASTORE).
			Var(cf.ALOAD, 0).Op(cf.ICONST_1, cf.IALOAD).
			Var(cf.ALOAD, 0).Op(cf.ARRAYLENGTH, cf.IADD, cf.IRETURN).
			Build()).
		Method(staticMethod("longs", "()J").
			Op(cf.ICONST_2).Int(cf.NEWARRAY, cf.T_LONG).Var(cf.ASTORE, 0).
			Var(cf.ALOAD, 0).Op(cf.ICONST_1).Ldc(cf.LongConst(1 << 40)).Op(cf.LASTORE).
			Var(cf.ALOAD, 0).Op(cf.ICONST_1, cf.LALOAD, cf.LRETURN).
			Build()).
		Method(staticMethod("bytes", "()I").
			Op(cf.ICONST_1).Int(cf.NEWARRAY, cf.T_BYTE).Var(cf.ASTORE, 0).
			Var(cf.ALOAD, 0).Op(cf.ICONST_0).Int(cf.SIPUSH, 300).Op(cf.BASTORE).
			Var(cf.ALOAD, 0).Op(cf.ICONST_0, cf.BALOAD, cf.IRETURN).
			Build()).
		Method(staticMethod("outOfBounds", "()I").
			Op(cf.ICONST_1).Int(cf.NEWARRAY, cf.T_INT).
			Op(cf.ICONST_1, cf.IALOAD, cf.IRETURN).
			Build()).
		Method(staticMethod("negative", "()V").
			Op(cf.ICONST_M1).Int(cf.NEWARRAY, cf.T_INT).
			Op(cf.POP, cf.RETURN).
			Build()).
		Method(staticMethod("badStore", "()V").
			Op(cf.ICONST_1).Type(cf.ANEWARRAY, StringClass).
			Type(cf.CHECKCAST, "[Ljava/lang/Object;").
			Op(cf.ICONST_0).
			Type(cf.NEW, ObjectClass).
			Op(cf.DUP).
			Invoke(cf.INVOKESPECIAL, ObjectClass, "<init>", "()V").
			Op(cf.AASTORE, cf.RETURN).
			Build()).
		Method(staticMethod("badCast", "()V").
			Type(cf.NEW, ObjectClass).
			Op(cf.DUP).
			Invoke(cf.INVOKESPECIAL, ObjectClass, "<init>", "()V").
			Type(cf.CHECKCAST, StringClass).
			Op(cf.POP, cf.RETURN).
			Build()).
		Method(staticMethod("isObject", "()I").
			Op(cf.ICONST_2).Int(cf.NEWARRAY, cf.T_CHAR).
			Type(cf.INSTANCEOF, ObjectClass).
			Op(cf.IRETURN).
			Build()).
		Build()
}

func TestArrays(t *testing.T) {
	v := newTestVM(t, arrayClass())
	th := testThread(v)
	const owner = "test/Arrays"

	if got := mustInvokeStatic(t, v, th, owner, "ints", "()I"); got.AsInt() != 43 {
		t.Errorf("ints: expected 43, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "longs", "()J"); got.AsLong() != 1<<40 {
		t.Errorf("longs: got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "bytes", "()I"); got.AsInt() != 44 {
		t.Errorf("bytes: expected truncation to 44, got %v", got)
	}
	if got := mustInvokeStatic(t, v, th, owner, "isObject", "()I"); got.AsInt() != 1 {
		t.Errorf("isObject: got %v", got)
	}

	_, err := v.InvokeStatic(th, owner, "outOfBounds", "()I")
	exc := expectThrow(t, err, ArrayIndexOutOfBoundsException)
	if exc.Message() != "Index 1 out of bounds for length 1" {
		t.Errorf("Unexpected message %q", exc.Message())
	}
	_, err = v.InvokeStatic(th, owner, "negative", "()V")
	expectThrow(t, err, NegativeArraySizeException)
	_, err = v.InvokeStatic(th, owner, "badStore", "()V")
	expectThrow(t, err, ArrayStoreException)
	_, err = v.InvokeStatic(th, owner, "badCast", "()V")
	expectThrow(t, err, ClassCastException)
}

func TestArraycopy(t *testing.T) {
	v := newTestVM(t)
	th := testThread(v)
	mm := v.Memory()
	ints := v.Primitive(cf.SortInt).ArrayClass()

	arr := mm.NewArray(ints, 4)
	for i := int64(0); i < 4; i++ {
		mm.WriteInt(arr, i*4, int32(i+1))
	}
	const desc = "(Ljava/lang/Object;ILjava/lang/Object;II)V"
	if _, err := v.InvokeStatic(th, SystemClass, "arraycopy", desc, Ref(arr), Int(0), Ref(arr), Int(1), Int(3)); err != nil {
		t.Fatalf("arraycopy: %v", err)
	}
	want := []int32{1, 1, 2, 3}
	for i, w := range want {
		if got := mm.ReadInt(arr, int64(i)*4); got != w {
			t.Errorf("Element %d: expected %d, got %d", i, w, got)
		}
	}

	longs := mm.NewArray(v.Primitive(cf.SortLong).ArrayClass(), 4)
	_, err := v.InvokeStatic(th, SystemClass, "arraycopy", desc, Ref(arr), Int(0), Ref(longs), Int(0), Int(1))
	expectThrow(t, err, ArrayStoreException)
	_, err = v.InvokeStatic(th, SystemClass, "arraycopy", desc, Ref(arr), Int(2), Ref(arr), Int(0), Int(3))
	expectThrow(t, err, ArrayIndexOutOfBoundsException)
	_, err = v.InvokeStatic(th, SystemClass, "arraycopy", desc, Null, Int(0), Ref(arr), Int(0), Int(1))
	expectThrow(t, err, NullPointerException)
}

func TestObjectNatives(t *testing.T) {
	v := newTestVM(t, boxClass())
	th := testThread(v)

	obj, err := v.NewObject(th, "test/Box", "()V")
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	hash, err := v.InvokeVirtual(th, obj, "hashCode", "()I")
	if err != nil || hash.AsInt() != int32(obj.Address()) {
		t.Errorf("Expected identity hash %d, got %v (%v)", int32(obj.Address()), hash, err)
	}
	class, err := v.InvokeVirtual(th, obj, "getClass", "()Ljava/lang/Class;")
	if err != nil {
		t.Fatalf("getClass: %v", err)
	}
	if class.AsRef().Mirror().Name() != "test/Box" {
		t.Errorf("Expected test/Box, got %v", class)
	}
	name, err := v.InvokeVirtual(th, class.AsRef(), "getName", "()Ljava/lang/String;")
	if err != nil || v.GoString(name.AsRef()) != "test.Box" {
		t.Errorf("Expected test.Box, got %v (%v)", name, err)
	}
	same, err := v.InvokeVirtual(th, obj, "equals", "(Ljava/lang/Object;)Z", Ref(obj))
	if err != nil || same.AsInt() != 1 {
		t.Errorf("Expected equals to hold, got %v (%v)", same, err)
	}
	is, err := v.InvokeVirtual(th, class.AsRef(), "isInstance", "(Ljava/lang/Object;)Z", Ref(obj))
	if err != nil || is.AsInt() != 1 {
		t.Errorf("Expected isInstance to hold, got %v (%v)", is, err)
	}

	if err := v.SetField(th, obj, "d", "D", Double(0.5)); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if got, _ := v.GetField(th, obj, "d", "D"); got.AsDouble() != 0.5 {
		t.Errorf("Expected 0.5, got %v", got)
	}
	_, err = v.InvokeVirtual(th, obj, "nothing", "()V")
	expectThrow(t, err, NoSuchMethodError)
	_, err = v.GetField(th, obj, "nothing", "I")
	expectThrow(t, err, NoSuchFieldError)
}

func versioned(result int) *cf.Class {
	return cf.NewClass("test/Versioned", objectName).
		Field(cf.AccPublic, "hits", "I").
		Method(staticMethod("value", "()I").Int(cf.BIPUSH, result).Op(cf.IRETURN).Build()).
		Method(staticMethod("callValue", "()I").
			Invoke(cf.INVOKESTATIC, "test/Versioned", "value", "()I").
			Op(cf.IRETURN).
			Build()).
		Build()
}

func TestRedefineSwapsBodies(t *testing.T) {
	v := newTestVM(t, versioned(1))
	th := testThread(v)

	if got := mustInvokeStatic(t, v, th, "test/Versioned", "callValue", "()I"); got.AsInt() != 1 {
		t.Fatalf("Expected 1, got %v", got)
	}
	c := loadInstance(t, v, "test/Versioned")
	c.Redefine(versioned(2))
	if got := mustInvokeStatic(t, v, th, "test/Versioned", "callValue", "()I"); got.AsInt() != 2 {
		t.Errorf("Expected the redefined body's 2, got %v", got)
	}
	if c.State() != Complete {
		t.Errorf("Redefinition should keep the initialization state, got %s", c.State())
	}

	extra := versioned(3)
	extra.Methods = append(extra.Methods, staticMethod("more", "()V").Op(cf.RETURN).Build())
	expectFault(t, func() { c.Redefine(extra) })

	renamed := versioned(3)
	renamed.Methods[0].Desc = "()J"
	expectFault(t, func() { c.Redefine(renamed) })

	flipped := versioned(3)
	flipped.Methods[0].Access &^= cf.AccStatic
	if f := expectFault(t, func() { c.Redefine(flipped) }); !strings.Contains(f.Message, "changes method 0") {
		t.Errorf("Unexpected fault %q", f.Message)
	}

	moreFields := versioned(3)
	moreFields.Fields = append(moreFields.Fields, cf.Field{Name: "misses", Desc: "I", Access: cf.AccPublic})
	if f := expectFault(t, func() { c.Redefine(moreFields) }); !strings.Contains(f.Message, "field count") {
		t.Errorf("Unexpected fault %q", f.Message)
	}

	retyped := versioned(3)
	retyped.Fields[0].Desc = "J"
	if f := expectFault(t, func() { c.Redefine(retyped) }); !strings.Contains(f.Message, "changes field 0") {
		t.Errorf("Unexpected fault %q", f.Message)
	}

	staticField := versioned(3)
	staticField.Fields[0].Access |= cf.AccStatic
	if f := expectFault(t, func() { c.Redefine(staticField) }); !strings.Contains(f.Message, "changes field 0") {
		t.Errorf("Unexpected fault %q", f.Message)
	}

	if got := mustInvokeStatic(t, v, th, "test/Versioned", "callValue", "()I"); got.AsInt() != 2 {
		t.Errorf("Rejected redefinitions should keep the body returning 2, got %v", got)
	}
}

func TestThrowableAccessors(t *testing.T) {
	v := newTestVM(t)
	th := testThread(v)

	cause, err := v.NewObject(th, "java/lang/IllegalStateException", "(Ljava/lang/String;)V", Ref(v.NewString(th, "inner")))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	outer, err := v.NewObject(th, "java/lang/RuntimeException", "(Ljava/lang/String;Ljava/lang/Throwable;)V",
		Ref(v.NewString(th, "outer")), Ref(cause))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	msg, err := v.InvokeVirtual(th, outer, "getMessage", "()Ljava/lang/String;")
	if err != nil || v.GoString(msg.AsRef()) != "outer" {
		t.Errorf("Expected outer, got %v (%v)", msg, err)
	}
	if !SameObject(v.ThrowableCause(outer), cause) {
		t.Error("Expected the cause to be recorded")
	}
	if got := v.describe(outer); got != "java.lang.RuntimeException: outer" {
		t.Errorf("Unexpected description %q", got)
	}
}
