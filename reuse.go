package cask

import (
	"sync"
	"sync/atomic"
)

// Reuse controls how long a constructed instance lives and which scope owns it.
type Reuse uint8

const (
	// Transient builds a fresh instance for every request. Nothing is cached.
	Transient Reuse = iota

	// Singleton builds at most one instance per container, owned by the root
	// scope and shared by every descendant.
	Singleton

	// Scoped builds at most one instance per scope, owned by the scope the
	// request was made in.
	Scoped

	// ScopedTo builds at most one instance per matching ancestor: the nearest
	// enclosing scope whose name equals the registration's scope name owns it.
	ScopedTo
)

// String returns the lowercase name of the reuse policy.
func (r Reuse) String() string {
	switch r {
	case Transient:
		return "transient"
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case ScopedTo:
		return "scoped-to"
	default:
		return "unknown"
	}
}

// slotID identifies one reuse cell within a scope. The decorated bit keeps
// wrapped and unwrapped resolutions of the same key in separate cells that
// share the same underlying instance.
type slotID struct {
	key       Key
	decorated bool
}

// slot is a build-once cell. The first goroutine to need the value runs build
// while holding the slot lock; concurrent requests for the same slot block
// until the build finishes and then read the stored value. A failed build
// stores nothing, so a later request retries.
type slot struct {
	mu    sync.Mutex
	value atomic.Pointer[slotValue]
}

type slotValue struct {
	val any
}

func (s *slot) resolve(build func() (any, error)) (any, error) {
	if v := s.value.Load(); v != nil {
		return v.val, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v := s.value.Load(); v != nil {
		return v.val, nil
	}
	val, err := build()
	if err != nil {
		return nil, err
	}
	s.value.Store(&slotValue{val: val})

	return val, nil
}
