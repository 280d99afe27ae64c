// Package classpath finds parsed classes by internal name.
//
// A Source answers one question: given "java/lang/String", return the
// parsed class or ErrNotFound. Sources compose with Chain, and the VM's
// loader caches what they return, so a Source need not be idempotent by
// itself.
package classpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/mocha/classfile"
)

// ErrNotFound is returned by a Source that has no class of the requested
// name.
var ErrNotFound = errors.New("class not found")

// Source resolves internal class names to parsed classes.
type Source interface {
	Find(name string) (*classfile.Class, error)
}

var log = commonlog.GetLogger("mocha.classpath")

// ---------------------------------------------------------------------------
// Map: in-memory source
// ---------------------------------------------------------------------------

// Map is a Source backed by an in-memory table. It is safe for concurrent
// use.
type Map struct {
	mu      sync.RWMutex
	classes map[string]*classfile.Class
}

// NewMap creates a Map holding the given classes.
func NewMap(classes ...*classfile.Class) *Map {
	m := &Map{classes: make(map[string]*classfile.Class, len(classes))}
	for _, c := range classes {
		m.classes[c.Name] = c
	}
	return m
}

// Add registers or replaces a class.
func (m *Map) Add(c *classfile.Class) {
	m.mu.Lock()
	m.classes[c.Name] = c
	m.mu.Unlock()
}

// Find implements Source.
func (m *Map) Find(name string) (*classfile.Class, error) {
	m.mu.RLock()
	c, ok := m.classes[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Names returns the names of all classes in the map.
func (m *Map) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.classes))
	for name := range m.classes {
		names = append(names, name)
	}
	return names
}

// ---------------------------------------------------------------------------
// Dir: a directory of encoded classes
// ---------------------------------------------------------------------------

// Extension is the file extension of encoded classes in a Dir.
const Extension = ".class.cbor"

// Dir is a Source reading CBOR-encoded classes from a directory tree laid
// out by package: java/lang/Object is stored at <root>/java/lang/Object.class.cbor.
type Dir struct {
	Root string
}

// Find implements Source.
func (d Dir) Find(name string) (*classfile.Class, error) {
	if strings.Contains(name, "..") {
		return nil, ErrNotFound
	}
	path := filepath.Join(d.Root, filepath.FromSlash(name)+Extension)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("classpath: reading %s: %w", path, err)
	}
	c, err := classfile.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("classpath: %s: %w", path, err)
	}
	if c.Name != name {
		return nil, fmt.Errorf("classpath: %s declares class %s", path, c.Name)
	}
	log.Debugf("loaded %s from %s", name, path)
	return c, nil
}

// Write encodes c into the directory tree rooted at root.
func Write(root string, c *classfile.Class) error {
	data, err := classfile.Marshal(c)
	if err != nil {
		return fmt.Errorf("classpath: encoding %s: %w", c.Name, err)
	}
	path := filepath.Join(root, filepath.FromSlash(c.Name)+Extension)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("classpath: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("classpath: writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

// Chain searches its sources in order and returns the first hit. Errors
// other than ErrNotFound stop the search.
type Chain []Source

// Find implements Source.
func (ch Chain) Find(name string) (*classfile.Class, error) {
	for _, src := range ch {
		c, err := src.Find(name)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
