package cask

import (
	"fmt"
	"iter"
	"sync"
)

// Deferred is an untyped handle that defers resolution of one key until
// first access. A factory may declare a *Deferred parameter bound to a key
// with BindArgKey or BindKey; planning stops at the thunk instead of
// recursing, which is what breaks a dependency cycle. The first Get after
// construction completes the loop.
//
// Get must not be called while the service that received the handle is still
// being constructed: that re-enters the construction and blocks on its own
// slot.
type Deferred struct {
	scope *Scope
	key   Key

	once     sync.Once
	value    any
	err      error
	resolved bool
}

// NewDeferred creates a deferred handle for key, resolved against scope.
func NewDeferred(scope *Scope, key Key) *Deferred {
	return newDeferred(scope, key)
}

func newDeferred(scope *Scope, key Key) *Deferred {
	return &Deferred{scope: scope, key: key}
}

// Get resolves the key and returns the instance. Resolution happens once;
// subsequent calls return the cached outcome.
func (d *Deferred) Get() (any, error) {
	d.once.Do(func() {
		d.value, d.err = d.scope.ResolveKey(d.key)
		d.resolved = d.err == nil
	})
	return d.value, d.err
}

// Key returns the key this handle resolves.
func (d *Deferred) Key() Key {
	return d.key
}

// IsResolved returns true if the handle has resolved successfully.
func (d *Deferred) IsResolved() bool {
	return d.resolved
}

// Lazy wraps a dependency that is resolved on first access. This is useful
// for breaking dependency cycles or deferring construction of expensive
// services until they're actually needed.
type Lazy[T any] struct {
	scope *Scope
	opts  []ResolveOption

	once     sync.Once
	value    T
	err      error
	resolved bool
}

// NewLazy creates a new lazy dependency wrapper resolved against scope.
func NewLazy[T any](scope *Scope, opts ...ResolveOption) *Lazy[T] {
	return &Lazy[T]{scope: scope, opts: opts}
}

// Get resolves the dependency and returns it.
// The resolution happens only once; subsequent calls return the cached value.
func (l *Lazy[T]) Get() (T, error) {
	l.once.Do(func() {
		instance, err := l.scope.Resolve(TypeOf[T](), l.opts...)
		if err != nil {
			l.err = err

			return
		}
		if instance == nil {
			l.resolved = true

			return
		}

		typed, ok := instance.(T)
		if !ok {
			var zero T
			l.err = fmt.Errorf("lazy dependency %s: expected type %T, got %T", TypeOf[T](), zero, instance)

			return
		}

		l.value = typed
		l.resolved = true
	})

	return l.value, l.err
}

// MustGet resolves the dependency and returns it, panicking on error.
func (l *Lazy[T]) MustGet() T {
	value, err := l.Get()
	if err != nil {
		panic(fmt.Sprintf("lazy dependency %s failed: %v", TypeOf[T](), err))
	}

	return value
}

// IsResolved returns true if the dependency has been resolved.
func (l *Lazy[T]) IsResolved() bool {
	return l.resolved
}

// OptionalLazy wraps an optional dependency that is resolved on first access.
// Returns the zero value without error if the dependency is not registered.
type OptionalLazy[T any] struct {
	scope *Scope
	opts  []ResolveOption

	once     sync.Once
	value    T
	err      error
	resolved bool
	found    bool
}

// NewOptionalLazy creates a new optional lazy dependency wrapper.
func NewOptionalLazy[T any](scope *Scope, opts ...ResolveOption) *OptionalLazy[T] {
	return &OptionalLazy[T]{scope: scope, opts: opts}
}

// Get resolves the dependency and returns it.
// Returns the zero value without error if the dependency is not registered.
func (l *OptionalLazy[T]) Get() (T, error) {
	l.once.Do(func() {
		instance, ok, err := l.scope.TryResolve(TypeOf[T](), l.opts...)
		if err != nil {
			l.err = err

			return
		}
		l.resolved = true
		if !ok {
			return
		}
		l.found = true
		if instance != nil {
			l.value = instance.(T)
		}
	})

	return l.value, l.err
}

// MustGet resolves the dependency and returns it, panicking on error.
// Returns the zero value if the dependency is not registered (does not panic).
func (l *OptionalLazy[T]) MustGet() T {
	value, err := l.Get()
	if err != nil {
		panic(fmt.Sprintf("optional lazy dependency %s failed: %v", TypeOf[T](), err))
	}

	return value
}

// IsResolved returns true if the dependency has been resolved.
func (l *OptionalLazy[T]) IsResolved() bool {
	return l.resolved
}

// IsFound returns true if the dependency was registered (only valid after resolution).
func (l *OptionalLazy[T]) IsFound() bool {
	return l.found
}

// Provider wraps a dependency that is re-resolved on each access. For
// transient registrations every call produces a fresh instance.
type Provider[T any] struct {
	scope *Scope
	opts  []ResolveOption
}

// NewProvider creates a new provider resolved against scope.
func NewProvider[T any](scope *Scope, opts ...ResolveOption) *Provider[T] {
	return &Provider[T]{scope: scope, opts: opts}
}

// Provide resolves and returns an instance of the dependency.
// Each call may return a different instance (if the service is transient).
func (p *Provider[T]) Provide() (T, error) {
	var zero T
	instance, err := p.scope.Resolve(TypeOf[T](), p.opts...)
	if err != nil {
		return zero, err
	}
	if instance == nil {
		return zero, nil
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("provider %s: expected type %T, got %T", TypeOf[T](), zero, instance)
	}

	return typed, nil
}

// MustProvide resolves and returns an instance, panicking on error.
func (p *Provider[T]) MustProvide() T {
	value, err := p.Provide()
	if err != nil {
		panic(fmt.Sprintf("provider %s failed: %v", TypeOf[T](), err))
	}

	return value
}

// ResolveEach returns a lazy sequence over every registration of T, one
// element per descriptor in registration order. Elements are built only as
// the sequence is consumed, each under its own reuse policy, and the
// sequence may be ranged over more than once; singletons come back cached,
// transients fresh. Iteration stops at the first element that fails.
func ResolveEach[T any](s *Scope, opts ...ResolveOption) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		if s.IsClosed() {
			yield(zero, closedScopeError(s))
			return
		}
		c := s.container
		if c.isClosed() {
			yield(zero, ErrContainerClosed)
			return
		}

		key, sh := buildRequest(TypeOf[T](), opts)
		pln := planner{snap: c.registry.snap(), cfg: &c.cfg}
		pl, err := pln.planFor(key, sh|shapeAll)
		if err != nil {
			yield(zero, err)
			return
		}
		seq, ok := pl.node.(*sequenceNode)
		if !ok {
			yield(zero, fmt.Errorf("resolve each %s: unexpected plan shape", key))
			return
		}

		exec := &execution{scope: s, cfg: &c.cfg}
		for _, elem := range seq.elems {
			v, err := elem.execute(exec)
			if err != nil {
				yield(zero, err)
				return
			}
			typed, _ := v.(T)
			if !yield(typed, nil) {
				return
			}
		}
	}
}
