package vm

import (
	"errors"
	"strings"
	"sync"

	"github.com/chazu/mocha/classfile"
	"github.com/chazu/mocha/classpath"
)

// Loader maps class names to descriptors for one class source. Each name
// is loaded at most once per loader: concurrent requests for a name wait
// for the first, and a thread asking again for a name it is itself loading
// gets ClassCircularityError.
//
// A loader with a parent asks the parent first, so classes the parent can
// see, java/lang/Object among them, are shared. Two loaders defining the
// same name from their own sources get distinct classes.
type Loader struct {
	vm     *VM
	name   string
	source classpath.Source
	parent *Loader

	mu      sync.Mutex
	entries map[string]*loadEntry
}

type loadEntry struct {
	done  chan struct{}
	owner *Thread
	class *InstanceClass
}

func newLoader(vm *VM, name string, source classpath.Source, parent *Loader) *Loader {
	return &Loader{
		vm:      vm,
		name:    name,
		source:  source,
		parent:  parent,
		entries: make(map[string]*loadEntry),
	}
}

// Name returns the loader's name.
func (l *Loader) Name() string { return l.name }

// LoadClass resolves a class name or array descriptor to a descriptor
// without linking it. A missing class raises NoClassDefFoundError.
func (l *Loader) LoadClass(t *Thread, name string) JavaClass {
	if strings.HasPrefix(name, "[") {
		return l.loadArray(t, name)
	}
	return l.loadInstance(t, name)
}

func (l *Loader) loadArray(t *Thread, desc string) *ArrayClass {
	if !classfile.ValidFieldDescriptor(desc) {
		l.vm.throwf(t, NoClassDefFoundError, "%s", desc)
	}
	component := desc[1:]
	var jc JavaClass
	switch classfile.SortOf(component) {
	case classfile.SortObject:
		jc = l.loadInstance(t, classfile.ClassName(component))
	case classfile.SortArray:
		jc = l.loadArray(t, component)
	default:
		jc = l.vm.Primitive(classfile.SortOf(component))
	}
	return jc.ArrayClass()
}

func (l *Loader) loadInstance(t *Thread, name string) *InstanceClass {
	if l.parent != nil && l.parent.canLoad(name) {
		return l.parent.loadInstance(t, name)
	}
	for {
		l.mu.Lock()
		e, ok := l.entries[name]
		if !ok {
			e = &loadEntry{done: make(chan struct{}), owner: t}
			l.entries[name] = e
			l.mu.Unlock()
			return l.define(t, name, e)
		}
		if e.class != nil {
			l.mu.Unlock()
			return e.class
		}
		if e.owner == t {
			l.mu.Unlock()
			l.vm.throwf(t, ClassCircularityError, "%s", externalName(name))
		}
		l.mu.Unlock()
		t.await(e.done, l.vm.opts.InitWaitTimeout, "loading of "+externalName(name))
	}
}

// define finds and creates the class for a fresh entry. On failure the
// entry is dropped so a later request tries the source again.
func (l *Loader) define(t *Thread, name string, e *loadEntry) (c *InstanceClass) {
	defer func() {
		l.mu.Lock()
		if c != nil {
			e.class = c
		} else {
			delete(l.entries, name)
		}
		e.owner = nil
		close(e.done)
		l.mu.Unlock()
	}()

	src, err := l.source.Find(name)
	if err != nil {
		if !errors.Is(err, classpath.ErrNotFound) {
			log.Warningf("loader %s: %s: %s", l.name, name, err)
		}
		l.vm.throwf(t, NoClassDefFoundError, "%s", externalName(name))
	}
	if src.Name != name {
		l.vm.throwf(t, NoClassDefFoundError, "%s (wrong name: %s)", externalName(name), externalName(src.Name))
	}
	c = newInstanceClass(l.vm, l, src)
	log.Debugf("loader %s: loaded %s", l.name, name)
	return c
}

// canLoad reports whether the loader, or one of its parents, has already
// loaded name or finds it in its source.
func (l *Loader) canLoad(name string) bool {
	if l.FindLoaded(name) != nil {
		return true
	}
	if l.parent != nil && l.parent.canLoad(name) {
		return true
	}
	_, err := l.source.Find(name)
	return err == nil
}

// Parent returns the loader consulted first, or nil for the bootstrap
// loader.
func (l *Loader) Parent() *Loader { return l.parent }

// FindLoaded returns the class already loaded under name, or nil.
func (l *Loader) FindLoaded(name string) *InstanceClass {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[name]; ok {
		return e.class
	}
	return nil
}

// Classes returns every class the loader has defined.
func (l *Loader) Classes() []*InstanceClass {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*InstanceClass, 0, len(l.entries))
	for _, e := range l.entries {
		if e.class != nil {
			out = append(out, e.class)
		}
	}
	return out
}
