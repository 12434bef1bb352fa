package cask

import (
	"reflect"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Container is the engine's entry point: it owns the descriptor registry,
// the root scope, and the middleware chain. All methods are safe for
// concurrent use; registration after resolution has started is visible to
// later resolves only, never to ones already in flight.
type Container struct {
	cfg        config
	registry   *registry
	middleware *middlewareChain
	root       *Scope
	closed     atomic.Bool
}

// New creates an empty container.
func New(opts ...Option) *Container {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	c := &Container{
		cfg:        cfg,
		registry:   newRegistry(cfg.planCacheSize),
		middleware: newMiddlewareChain(),
	}
	for _, mw := range cfg.middleware {
		c.middleware.add(mw)
	}
	c.root = newScope(c, nil, "")

	return c
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register appends a prebuilt descriptor and returns it as the registration
// handle. Most callers use the typed Register* helpers instead.
func (c *Container) Register(d *Descriptor) (*Descriptor, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	if d == nil {
		return nil, ErrInvalidRegistration("nil descriptor")
	}
	return c.registry.add(d), nil
}

// RegisterFactory registers factory as the recipe for serviceType. The
// factory's parameters are resolved as dependencies; it returns the service
// value, optionally followed by an error.
func (c *Container) RegisterFactory(serviceType reflect.Type, factory any, opts ...RegisterOption) (*Descriptor, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	d, err := NewFactoryDescriptor(Key{Type: serviceType}, factory, opts...)
	if err != nil {
		return nil, err
	}
	return c.registry.add(d), nil
}

// RegisterInstance registers a pre-built value for serviceType. The value is
// a singleton by definition and is not torn down by the engine unless the
// registration carries an explicit disposer.
func (c *Container) RegisterInstance(serviceType reflect.Type, instance any, opts ...RegisterOption) (*Descriptor, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	d, err := NewInstanceDescriptor(Key{Type: serviceType}, instance, opts...)
	if err != nil {
		return nil, err
	}
	return c.registry.add(d), nil
}

// RegisterType registers implType as the implementation for serviceType,
// constructed by filling its inject-tagged fields.
func (c *Container) RegisterType(serviceType, implType reflect.Type, opts ...RegisterOption) (*Descriptor, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	d, err := NewTypeDescriptor(Key{Type: serviceType}, implType, opts...)
	if err != nil {
		return nil, err
	}
	return c.registry.add(d), nil
}

// RegisterTemplate registers a descriptor template covering every type its
// match predicate accepts. Specializations are derived per requested key and
// cached for the life of a snapshot.
func (c *Container) RegisterTemplate(tpl *Template) error {
	if c.isClosed() {
		return ErrContainerClosed
	}
	if tpl == nil || tpl.Match == nil || tpl.Specialize == nil {
		return ErrInvalidRegistration("template needs both Match and Specialize")
	}
	c.registry.addTemplate(tpl)
	return nil
}

// Decorate registers a wrapper for serviceType. The decorator factory
// receives the current instance through its first parameter of a compatible
// type, plus any further dependencies, and returns the replacement. Wrappers
// apply in registration order, last registered outermost.
func (c *Container) Decorate(serviceType reflect.Type, decorator any, opts ...RegisterOption) (*Descriptor, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	d, err := NewFactoryDescriptor(Key{Type: serviceType}, decorator, opts...)
	if err != nil {
		return nil, err
	}
	if d.factory.innerParamIndex(serviceType) < 0 {
		return nil, ErrConstructorSelection(d.key,
			"decorator factory has no parameter for the wrapped instance")
	}
	return c.registry.addDecorator(d), nil
}

// Replace atomically swaps every registration for d's key with d. Plans
// already executing keep the snapshot they started with.
func (c *Container) Replace(d *Descriptor) (*Descriptor, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	if d == nil {
		return nil, ErrInvalidRegistration("nil descriptor")
	}
	return c.registry.replace(d), nil
}

// Remove drops every registration and decorator for exactly this key,
// reporting how many were dropped.
func (c *Container) Remove(key Key) int {
	if c.isClosed() {
		return 0
	}
	return c.registry.remove(key)
}

// Has reports whether an explicit registration exists that a request for the
// key would find, including the untagged fallback for tagged requests.
// Templates and auto-wiring are not consulted.
func (c *Container) Has(serviceType reflect.Type, opts ...ResolveOption) bool {
	key, _ := buildRequest(serviceType, opts)
	snap := c.registry.snap()
	if len(snap.lookup(key)) > 0 {
		return true
	}
	return key.Tag != nil && len(snap.lookup(key.Untagged())) > 0
}

// Use installs middleware for all subsequent operations.
func (c *Container) Use(mw Middleware) {
	if mw != nil {
		c.middleware.add(mw)
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Root returns the container's root scope.
func (c *Container) Root() *Scope { return c.root }

// Resolve resolves serviceType against the root scope.
func (c *Container) Resolve(serviceType reflect.Type, opts ...ResolveOption) (any, error) {
	return c.root.Resolve(serviceType, opts...)
}

// ResolveKey resolves a fully specified key against the root scope.
func (c *Container) ResolveKey(key Key, opts ...ResolveOption) (any, error) {
	return c.root.ResolveKey(key, opts...)
}

// TryResolve resolves against the root scope, reporting an unregistered
// service as absent rather than an error.
func (c *Container) TryResolve(serviceType reflect.Type, opts ...ResolveOption) (any, bool, error) {
	return c.root.TryResolve(serviceType, opts...)
}

// ResolveAll resolves every registration of serviceType against the root
// scope, in registration order.
func (c *Container) ResolveAll(serviceType reflect.Type, opts ...ResolveOption) ([]any, error) {
	return c.root.ResolveAll(serviceType, opts...)
}

// OpenScope opens a child of the root scope.
func (c *Container) OpenScope(name string) (*Scope, error) {
	if c.isClosed() {
		return nil, ErrContainerClosed
	}
	return c.root.OpenScope(name)
}

// InScope opens a child of the root scope, runs fn, and closes it again even
// when fn fails or panics.
func (c *Container) InScope(name string, fn func(*Scope) error) error {
	if c.isClosed() {
		return ErrContainerClosed
	}
	return c.root.InScope(name, fn)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Validate compiles a plan for every explicit registration and decorator
// target without constructing anything, reporting all failures together.
// Template registrations cannot be enumerated and are not covered.
func (c *Container) Validate() error {
	if c.isClosed() {
		return ErrContainerClosed
	}
	snap := c.registry.snap()
	pln := planner{snap: snap, cfg: &c.cfg}

	var err error
	seen := make(map[Key]struct{})
	for key := range snap.providers {
		seen[key] = struct{}{}
		if _, perr := pln.planFor(key, shapeDefault); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	for key := range snap.decorators {
		if _, ok := seen[key]; ok {
			continue
		}
		if _, perr := pln.planFor(key, shapeDefault); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	return err
}

// Fork returns a derived container: the same registrations, fresh plan and
// specialization caches, its own root scope and singletons, and independent
// further registration. Installed middleware carries over; opts apply on top.
func (c *Container) Fork(opts ...Option) *Container {
	cfg := c.cfg
	cfg.middleware = nil
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	fc := &Container{
		cfg:        cfg,
		registry:   c.registry.fork(),
		middleware: newMiddlewareChain(),
	}
	for _, mw := range c.middleware.installed() {
		fc.middleware.add(mw)
	}
	for _, mw := range cfg.middleware {
		fc.middleware.add(mw)
	}
	fc.root = newScope(fc, nil, "")

	return fc
}

// Close tears down the container: the root scope closes, cascading through
// every still-open descendant. Further operations fail with
// ErrContainerClosed.
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrContainerClosed
	}
	return c.root.Close()
}

func (c *Container) isClosed() bool {
	return c.closed.Load()
}
