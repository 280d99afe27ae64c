package classpath

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/mocha/classfile"
)

func pointClass() *classfile.Class {
	return classfile.NewClass("demo/Point", Object).
		Field(classfile.AccPrivate, "x", "I").
		Field(classfile.AccPrivate, "y", "I").
		Build()
}

func TestMap(t *testing.T) {
	m := NewMap(pointClass())
	c, err := m.Find("demo/Point")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(c.Fields) != 2 {
		t.Errorf("fields = %d, want 2", len(c.Fields))
	}
	if _, err := m.Find("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) = %v, want ErrNotFound", err)
	}
	m.Add(classfile.NewClass("demo/Other", Object).Build())
	if len(m.Names()) != 2 {
		t.Errorf("Names = %v", m.Names())
	}
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	if err := Write(root, pointClass()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "demo", "Point"+Extension)); err != nil {
		t.Fatalf("encoded class not written: %v", err)
	}

	d := Dir{Root: root}
	c, err := d.Find("demo/Point")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if c.Name != "demo/Point" || c.SuperName != Object {
		t.Errorf("class = %s extends %s", c.Name, c.SuperName)
	}
	if _, err := d.Find("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) = %v, want ErrNotFound", err)
	}
	if _, err := d.Find("../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(..) = %v, want ErrNotFound", err)
	}
}

func TestDirNameMismatch(t *testing.T) {
	root := t.TempDir()
	if err := Write(root, pointClass()); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(root, "demo", "Point"+Extension), filepath.Join(root, "demo", "Moved"+Extension)); err != nil {
		t.Fatal(err)
	}
	_, err := Dir{Root: root}.Find("demo/Moved")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Find = %v, want a mismatch error", err)
	}
}

func TestDirCorrupt(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Bad"+Extension), []byte("not cbor"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Dir{Root: root}.Find("Bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Find = %v, want a decode error", err)
	}
}

func TestStore(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "classes.db"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Put(pointClass()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(classfile.NewClass("demo/Empty", Object).Build()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	c, err := s.Find("demo/Point")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(c.Fields) != 2 || c.Fields[1].Name != "y" {
		t.Errorf("fields = %+v", c.Fields)
	}
	if _, err := s.Find("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) = %v, want ErrNotFound", err)
	}

	names, err := s.Names()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "demo/Empty" || names[1] != "demo/Point" {
		t.Errorf("Names = %v", names)
	}

	// Replacing keeps one row per name.
	if err := s.Put(classfile.NewClass("demo/Point", Object).Build()); err != nil {
		t.Fatal(err)
	}
	c, err = s.Find("demo/Point")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Fields) != 0 {
		t.Errorf("replaced class still has %d fields", len(c.Fields))
	}
}

func TestStoreInMemory(t *testing.T) {
	s, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer s.Close()
	if err := s.Put(pointClass()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Find("demo/Point"); err != nil {
		t.Errorf("Find failed: %v", err)
	}
}

type failingSource struct{}

func (failingSource) Find(string) (*classfile.Class, error) {
	return nil, errors.New("disk on fire")
}

func TestChain(t *testing.T) {
	first := NewMap(classfile.NewClass("demo/Point", Object).Build())
	second := NewMap(pointClass(), classfile.NewClass("demo/Only", Object).Build())
	ch := Chain{first, second}

	c, err := ch.Find("demo/Point")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Fields) != 0 {
		t.Error("Chain did not prefer the first source")
	}
	if _, err := ch.Find("demo/Only"); err != nil {
		t.Errorf("Find(demo/Only) = %v", err)
	}
	if _, err := ch.Find("demo/Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) = %v, want ErrNotFound", err)
	}

	ch = Chain{failingSource{}, second}
	if _, err := ch.Find("demo/Only"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Find through failing source = %v, want its error", err)
	}
}

func TestRuntime(t *testing.T) {
	rt := Runtime()
	for _, name := range rt.Names() {
		c, err := rt.Find(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Validate(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if c.SuperName != "" {
			if _, err := rt.Find(c.SuperName); err != nil {
				t.Errorf("%s: superclass %s missing", name, c.SuperName)
			}
		} else if name != Object {
			t.Errorf("%s has no superclass", name)
		}
	}

	for _, name := range []string{Object, Class, String, Throwable, "java/lang/ExceptionInInitializerError", "java/lang/NoClassDefFoundError", "java/lang/invoke/MethodHandle"} {
		if _, err := rt.Find(name); err != nil {
			t.Errorf("runtime lacks %s", name)
		}
	}

	// Each call returns an independent map.
	rt.Add(pointClass())
	if _, err := Runtime().Find("demo/Point"); !errors.Is(err, ErrNotFound) {
		t.Error("Runtime maps share state")
	}
}

func TestRuntimeThrowableConstructors(t *testing.T) {
	c, err := Runtime().Find("java/lang/ArithmeticException")
	if err != nil {
		t.Fatal(err)
	}
	descs := map[string]bool{}
	for _, m := range c.Methods {
		if m.Name == "<init>" {
			descs[m.Desc] = true
			last := m.Code[len(m.Code)-2]
			if last.Op != classfile.INVOKESPECIAL || last.Owner != "java/lang/RuntimeException" || last.Desc != m.Desc {
				t.Errorf("%s delegates to %s.%s%s", m.Desc, last.Owner, last.Name, last.Desc)
			}
		}
	}
	for _, d := range []string{"()V", "(Ljava/lang/String;)V", "(Ljava/lang/Throwable;)V", "(Ljava/lang/String;Ljava/lang/Throwable;)V"} {
		if !descs[d] {
			t.Errorf("missing constructor %s", d)
		}
	}
}
