package vm

import "sync/atomic"

// Inline caching for virtual and interface calls.
//
// Most call sites only ever see one receiver class, a few see a handful,
// and a very few see many. Each site keeps its own cache, which moves from
// empty to monomorphic to polymorphic and finally gives up as megamorphic.

// CacheState is the state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single (class, method) cached
	CachePolymorphic                   // 2-6 entries
	CacheMegamorphic                   // Too many classes, always select
)

func (s CacheState) String() string {
	switch s {
	case CacheEmpty:
		return "empty"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "unknown"
}

// MaxPICEntries is the maximum number of entries in a polymorphic inline
// cache.
const MaxPICEntries = 6

// InlineCacheEntry holds a single cached selection.
type InlineCacheEntry struct {
	Class  JavaClass
	Method *JavaMethod
}

type picSnapshot struct {
	state   CacheState
	entries []InlineCacheEntry
}

var emptyPIC = &picSnapshot{state: CacheEmpty}

// InlineCache is the receiver-class cache of one call site. Entries are
// published as immutable snapshots so concurrent threads can look up and
// update the same site.
type InlineCache struct {
	snap atomic.Pointer[picSnapshot]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewInlineCache returns an empty cache.
func NewInlineCache() *InlineCache {
	ic := &InlineCache{}
	ic.snap.Store(emptyPIC)
	return ic
}

// State returns the current state.
func (ic *InlineCache) State() CacheState { return ic.snap.Load().state }

// Count returns the number of cached entries.
func (ic *InlineCache) Count() int { return len(ic.snap.Load().entries) }

// Hits returns the number of lookups that found an entry.
func (ic *InlineCache) Hits() uint64 { return ic.hits.Load() }

// Misses returns the number of lookups that did not.
func (ic *InlineCache) Misses() uint64 { return ic.misses.Load() }

// Lookup returns the method cached for class, or nil on a miss.
func (ic *InlineCache) Lookup(class JavaClass) *JavaMethod {
	for _, e := range ic.snap.Load().entries {
		if e.Class == class {
			ic.hits.Add(1)
			return e.Method
		}
	}
	ic.misses.Add(1)
	return nil
}

// Update records a (class, method) pair, moving the cache to its next
// state when a new class appears.
func (ic *InlineCache) Update(class JavaClass, method *JavaMethod) {
	if method == nil {
		return
	}
	for {
		old := ic.snap.Load()
		next := old.with(class, method)
		if next == old || ic.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

func (s *picSnapshot) with(class JavaClass, method *JavaMethod) *picSnapshot {
	if s.state == CacheMegamorphic {
		return s
	}
	for _, e := range s.entries {
		if e.Class == class {
			return s
		}
	}
	if len(s.entries) == MaxPICEntries {
		return &picSnapshot{state: CacheMegamorphic}
	}
	entries := make([]InlineCacheEntry, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	entries = append(entries, InlineCacheEntry{Class: class, Method: method})
	state := CachePolymorphic
	if len(entries) == 1 {
		state = CacheMonomorphic
	}
	return &picSnapshot{state: state, entries: entries}
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	hits, misses := ic.hits.Load(), ic.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(hits+misses)
}

// Reset clears the cache back to empty.
func (ic *InlineCache) Reset() {
	ic.snap.Store(emptyPIC)
	ic.hits.Store(0)
	ic.misses.Store(0)
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// CacheStats holds aggregate call and field site statistics.
type CacheStats struct {
	CallSites       int     // Call sites in loaded methods
	ResolvedCalls   int     // Call sites with a resolved cache
	FieldSites      int     // Field sites in loaded methods
	ResolvedFields  int     // Field sites with a resolved cache
	Monomorphic     int     // Virtual sites in monomorphic state
	Polymorphic     int     // Virtual sites in polymorphic state
	Megamorphic     int     // Virtual sites in megamorphic state
	TotalHits       uint64  // Receiver cache hits
	TotalMisses     uint64  // Receiver cache misses
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of used virtual sites that are monomorphic
}

// CacheStats gathers site statistics from every linked class of the boot
// loader.
func (vm *VM) CacheStats() CacheStats {
	var stats CacheStats
	for _, c := range vm.boot.Classes() {
		if !c.Linked() {
			continue
		}
		for _, m := range c.methods {
			collectSites(m.Nodes(), &stats)
		}
	}
	if total := stats.TotalHits + stats.TotalMisses; total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	if used := stats.Monomorphic + stats.Polymorphic + stats.Megamorphic; used > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(used)
	}
	return stats
}

func collectSites(nodes []Node, stats *CacheStats) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *callNode:
			stats.CallSites++
			c := n.cache.Load()
			if c == nil {
				continue
			}
			stats.ResolvedCalls++
			if c.pic == nil {
				continue
			}
			switch c.pic.State() {
			case CacheMonomorphic:
				stats.Monomorphic++
			case CachePolymorphic:
				stats.Polymorphic++
			case CacheMegamorphic:
				stats.Megamorphic++
			}
			stats.TotalHits += c.pic.Hits()
			stats.TotalMisses += c.pic.Misses()
		case *fieldNode:
			stats.FieldSites++
			if n.cache.Load() != nil {
				stats.ResolvedFields++
			}
		}
	}
}
