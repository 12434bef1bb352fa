package cask

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Template covers a whole family of keys with one registration: Match decides
// which types it applies to, Specialize produces the concrete descriptor for
// one closed key. This is how a shape parameterized over an unknown type is
// registered once and closed per request; each specialization is cached under
// the closed key for the life of the snapshot.
type Template struct {
	Match      func(reflect.Type) bool
	Specialize func(key Key) (*Descriptor, error)
}

type templateEntry struct {
	tpl   *Template
	order int64
}

// snapshot is one immutable registry state. Lookups are wait-free; every
// mutation publishes a fresh snapshot, so plans already executing against the
// old one never observe the change.
type snapshot struct {
	providers  map[Key][]*Descriptor
	byType     map[reflect.Type][]*Descriptor
	decorators map[Key][]*Descriptor
	templates  []templateEntry

	// derived caches template specializations and auto-wired descriptors
	// under their closed key. Racing writers may both derive; the first
	// stored value wins and the loser's copy is discarded.
	derived sync.Map // Key -> *Descriptor

	plans *planCache
}

func newSnapshot(cacheSize int) *snapshot {
	return &snapshot{
		providers:  make(map[Key][]*Descriptor),
		byType:     make(map[reflect.Type][]*Descriptor),
		decorators: make(map[Key][]*Descriptor),
		plans:      newPlanCache(cacheSize),
	}
}

// clone copies the descriptor tables into a fresh snapshot with empty derived
// and plan caches. Descriptors are immutable, so sharing the pointers is safe.
func (s *snapshot) clone(cacheSize int) *snapshot {
	next := newSnapshot(cacheSize)
	for k, list := range s.providers {
		next.providers[k] = append([]*Descriptor(nil), list...)
	}
	for t, list := range s.byType {
		next.byType[t] = append([]*Descriptor(nil), list...)
	}
	for k, list := range s.decorators {
		next.decorators[k] = append([]*Descriptor(nil), list...)
	}
	next.templates = append([]templateEntry(nil), s.templates...)

	return next
}

// lookup returns the descriptors registered for exactly this key, in
// registration order.
func (s *snapshot) lookup(key Key) []*Descriptor {
	return s.providers[key]
}

// lookupType returns every descriptor for the type across all tags, in
// registration order.
func (s *snapshot) lookupType(t reflect.Type) []*Descriptor {
	return s.byType[t]
}

// grouped returns the type's descriptors bucketed by tag, each bucket in
// registration order.
func (s *snapshot) grouped(t reflect.Type) map[any][]*Descriptor {
	out := make(map[any][]*Descriptor)
	for _, d := range s.byType[t] {
		out[d.key.Tag] = append(out[d.key.Tag], d)
	}
	return out
}

// decoratorsFor returns the decorators targeting the key, in registration order.
func (s *snapshot) decoratorsFor(key Key) []*Descriptor {
	return s.decorators[key]
}

// loadDerived returns the cached specialization for key, if one exists.
func (s *snapshot) loadDerived(key Key) (*Descriptor, bool) {
	if v, ok := s.derived.Load(key); ok {
		return v.(*Descriptor), true
	}
	return nil, false
}

// storeDerived caches a specialization; the first stored descriptor wins.
func (s *snapshot) storeDerived(key Key, d *Descriptor) *Descriptor {
	actual, _ := s.derived.LoadOrStore(key, d)
	return actual.(*Descriptor)
}

// specialize runs the first matching template for key, caching the result.
// The bool reports whether any template covered the key.
func (s *snapshot) specialize(key Key) (*Descriptor, bool, error) {
	if d, ok := s.loadDerived(key); ok {
		return d, true, nil
	}
	for _, entry := range s.templates {
		if !entry.tpl.Match(key.Type) {
			continue
		}
		d, err := entry.tpl.Specialize(key)
		if err != nil {
			return nil, true, err
		}
		if d == nil {
			return nil, true, ErrInvalidRegistration("template specialized to a nil descriptor")
		}
		spec := *d
		spec.key = key
		spec.derived = true
		spec.order = entry.order

		return s.storeDerived(key, &spec), true, nil
	}
	return nil, false, nil
}

// registry is the container's descriptor store: an atomically swapped
// snapshot plus the registration counter all snapshots share. Readers load
// the current snapshot and never block; writers serialize on mu and publish
// copies.
type registry struct {
	current   atomic.Pointer[snapshot]
	order     atomic.Int64
	mu        sync.Mutex
	cacheSize int
}

func newRegistry(cacheSize int) *registry {
	r := &registry{cacheSize: cacheSize}
	r.current.Store(newSnapshot(cacheSize))
	return r
}

// snap returns the current snapshot for one planning pass.
func (r *registry) snap() *snapshot {
	return r.current.Load()
}

// nextOrder hands out the monotonically increasing registration order.
func (r *registry) nextOrder() int64 {
	return r.order.Add(1)
}

func (r *registry) mutate(fn func(*snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone(r.cacheSize)
	fn(next)
	r.current.Store(next)
}

// add appends a descriptor; it never overwrites earlier registrations for the
// same key. Returns the descriptor as the registration handle.
func (r *registry) add(d *Descriptor) *Descriptor {
	d.order = r.nextOrder()
	r.mutate(func(s *snapshot) {
		s.providers[d.key] = append(s.providers[d.key], d)
		s.byType[d.key.Type] = append(s.byType[d.key.Type], d)
	})
	return d
}

// addDecorator appends a decorator targeting d.key.
func (r *registry) addDecorator(d *Descriptor) *Descriptor {
	d.order = r.nextOrder()
	d.decorator = true
	r.mutate(func(s *snapshot) {
		s.decorators[d.key] = append(s.decorators[d.key], d)
	})
	return d
}

// addTemplate appends a key-family template.
func (r *registry) addTemplate(tpl *Template) {
	entry := templateEntry{tpl: tpl, order: r.nextOrder()}
	r.mutate(func(s *snapshot) {
		s.templates = append(s.templates, entry)
	})
}

// remove drops every descriptor and decorator registered for exactly this
// key and reports how many were dropped. In-flight resolutions against the
// previous snapshot still see them.
func (r *registry) remove(key Key) int {
	removed := 0
	r.mutate(func(s *snapshot) {
		removed = len(s.providers[key]) + len(s.decorators[key])
		delete(s.providers, key)
		delete(s.decorators, key)

		kept := s.byType[key.Type][:0:0]
		for _, d := range s.byType[key.Type] {
			if d.key != key {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(s.byType, key.Type)
		} else {
			s.byType[key.Type] = kept
		}
	})
	return removed
}

// replace atomically drops the key's descriptors and installs d in their
// place, in one snapshot swap.
func (r *registry) replace(d *Descriptor) *Descriptor {
	key := d.key
	d.order = r.nextOrder()
	r.mutate(func(s *snapshot) {
		delete(s.providers, key)
		kept := s.byType[key.Type][:0:0]
		for _, old := range s.byType[key.Type] {
			if old.key != key {
				kept = append(kept, old)
			}
		}
		s.providers[key] = []*Descriptor{d}
		s.byType[key.Type] = append(kept, d)
	})
	return d
}

// fork copies the registry for a derived container: same descriptors, fresh
// derived and plan caches, independent mutation from here on.
func (r *registry) fork() *registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := &registry{cacheSize: r.cacheSize}
	next.order.Store(r.order.Load())
	next.current.Store(r.current.Load().clone(r.cacheSize))

	return next
}
