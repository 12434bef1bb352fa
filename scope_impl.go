package cask

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/multierr"
)

// Scope is a bounded lifetime region. Instances resolved into it are cached
// in per-key slots and torn down, in reverse creation order, when the scope
// closes. Scopes form a tree: closing a scope runs its own teardowns, closes
// its still-open children, and detaches from its parent. A scope's lifetime
// belongs to whoever opened it; the engine never closes one on its own apart
// from the cascade.
type Scope struct {
	container *Container
	parent    *Scope
	name      string

	mu        sync.Mutex
	slots     map[slotID]*slot
	teardowns []teardown
	children  map[*Scope]struct{}
	closed    bool
}

func newScope(c *Container, parent *Scope, name string) *Scope {
	return &Scope{
		container: c,
		parent:    parent,
		name:      name,
		slots:     make(map[slotID]*slot),
		children:  make(map[*Scope]struct{}),
	}
}

// Name returns the name the scope was opened with, or "" for unnamed scopes.
func (s *Scope) Name() string { return s.name }

// Parent returns the enclosing scope, or nil for the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Container returns the container this scope belongs to.
func (s *Scope) Container() *Container { return s.container }

// IsClosed reports whether the scope has been closed.
func (s *Scope) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scope) isRoot() bool { return s.parent == nil }

func (s *Scope) rootScope() *Scope {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// nearestNamed finds the scope itself or its nearest ancestor carrying name.
func (s *Scope) nearestNamed(name string) *Scope {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name == name && name != "" {
			return cur
		}
	}
	return nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve returns the service registered for serviceType, building it and its
// dependencies as needed.
func (s *Scope) Resolve(serviceType reflect.Type, opts ...ResolveOption) (any, error) {
	key, sh := buildRequest(serviceType, opts)
	return s.resolveShape(key, sh)
}

// ResolveKey resolves a fully specified key. Tagged and Undecorated options
// still apply on top of it.
func (s *Scope) ResolveKey(key Key, opts ...ResolveOption) (any, error) {
	k, sh := buildRequest(key.Type, opts)
	if k.Tag == nil {
		k.Tag = key.Tag
	}
	return s.resolveShape(k, sh)
}

// TryResolve resolves serviceType but reports an unregistered service as
// (nil, false, nil) instead of an error. Every other failure — ambiguity,
// cycles, scope mismatches, broken constructors — still comes back as an
// error, since those are misconfigurations rather than missing optionals.
func (s *Scope) TryResolve(serviceType reflect.Type, opts ...ResolveOption) (any, bool, error) {
	key, sh := buildRequest(serviceType, opts)
	val, err := s.resolveShape(key, sh)
	if err != nil {
		if unresolvedAt(err, key) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// ResolveAll returns one instance per registration of serviceType, in
// registration order across all tags. Unregistered types yield an empty
// slice.
func (s *Scope) ResolveAll(serviceType reflect.Type, opts ...ResolveOption) ([]any, error) {
	key, sh := buildRequest(serviceType, opts)
	val, err := s.resolveShape(key, sh|shapeAll)
	if err != nil {
		return nil, err
	}
	return val.([]any), nil
}

func (s *Scope) resolveShape(key Key, sh shape) (any, error) {
	if s.IsClosed() {
		return nil, closedScopeError(s)
	}
	c := s.container
	if c.isClosed() {
		return nil, ErrContainerClosed
	}

	return c.middleware.resolve(key, func() (any, error) {
		snap := c.registry.snap()
		pln := planner{snap: snap, cfg: &c.cfg}
		pl, err := pln.planFor(key, sh)
		if err != nil {
			return nil, err
		}
		return pl.execute(&execution{scope: s, cfg: &c.cfg})
	})
}

// slotResolve finds or creates the reuse cell for id and funnels concurrent
// builders through it. The scope lock covers only the table lookup; the
// build itself serializes on the slot, so slow constructors do not block
// unrelated resolutions in the same scope.
func (s *Scope) slotResolve(id slotID, build func() (any, error)) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, closedScopeError(s)
	}
	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{}
		s.slots[id] = sl
	}
	s.mu.Unlock()

	return sl.resolve(build)
}

// track records a disposal obligation against this scope. An instance that
// finishes building just as the scope closes is disposed immediately rather
// than leaked.
func (s *Scope) track(key Key, val any, override func(any) error) {
	fn := disposerFor(val, override)
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = fn()
		return
	}
	s.teardowns = append(s.teardowns, teardown{key: key, fn: fn})
	s.mu.Unlock()
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// OpenScope opens a child scope. The name is optional ("" for unnamed) and is
// what ScopedWithin registrations match against.
func (s *Scope) OpenScope(name string) (*Scope, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, closedScopeError(s)
	}
	child := newScope(s.container, s, name)
	s.children[child] = struct{}{}
	s.mu.Unlock()

	if err := s.container.middleware.scopeOpened(child); err != nil {
		_ = child.Close()
		return nil, err
	}
	return child, nil
}

// InScope opens a child scope, runs fn inside it, and closes the scope again
// even when fn fails or panics. Failures from fn and from the close are both
// reported.
func (s *Scope) InScope(name string, fn func(*Scope) error) (err error) {
	child, openErr := s.OpenScope(name)
	if openErr != nil {
		return openErr
	}
	defer func() {
		if cerr := child.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}()
	return fn(child)
}

// Close tears down the scope: its own disposals run in reverse creation
// order, every teardown is attempted even after failures, then still-open
// children are closed and the scope detaches from its parent. Closing an
// already-closed scope is an error.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return closedScopeError(s)
	}
	s.closed = true
	teardowns := s.teardowns
	s.teardowns = nil
	children := make([]*Scope, 0, len(s.children))
	for c := range s.children {
		children = append(children, c)
	}
	s.children = nil
	s.slots = nil
	s.mu.Unlock()

	err := runTeardowns(teardowns)
	for _, child := range children {
		if cerr := child.Close(); cerr != nil && !IsCode(cerr, CodeClosedScope) {
			err = multierr.Append(err, cerr)
		}
	}
	s.detach()

	if mwErr := s.container.middleware.scopeClosed(s, err); mwErr != nil {
		err = multierr.Append(err, mwErr)
	}
	return err
}

func (s *Scope) detach() {
	p := s.parent
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.children != nil {
		delete(p.children, s)
	}
	p.mu.Unlock()
}

func closedScopeError(s *Scope) *Error {
	if s.name == "" {
		return ErrScopeClosed
	}
	return NewError(CodeClosedScope, fmt.Sprintf("scope '%s' is closed", s.name), nil).
		WithContext("scope", s.name)
}
