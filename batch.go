package cask

import (
	"fmt"
	"reflect"
	"sync"
)

// Lifetime is the registration lifetime used by host-framework service
// collections. It maps 1:1 onto Reuse: LifetimeSingleton to Singleton,
// LifetimeScoped to Scoped, LifetimeTransient to Transient.
type Lifetime uint8

const (
	LifetimeSingleton Lifetime = iota
	LifetimeScoped
	LifetimeTransient
)

func (l Lifetime) String() string {
	switch l {
	case LifetimeSingleton:
		return "singleton"
	case LifetimeScoped:
		return "scoped"
	case LifetimeTransient:
		return "transient"
	}
	return fmt.Sprintf("lifetime(%d)", l)
}

func (l Lifetime) reuse() (Reuse, error) {
	switch l {
	case LifetimeSingleton:
		return Singleton, nil
	case LifetimeScoped:
		return Scoped, nil
	case LifetimeTransient:
		return Transient, nil
	}
	return 0, ErrInvalidRegistration(fmt.Sprintf("unknown lifetime %d", l))
}

// Registration is one entry of a host framework's service collection: a
// service type, exactly one source (implementation type, factory, or
// instance), and a lifetime. Instance entries are always singletons.
type Registration struct {
	Type     reflect.Type
	Impl     reflect.Type
	Factory  any
	Instance any
	Lifetime Lifetime
	Tag      any
	Options  []RegisterOption
}

// Service creates a factory-backed batch entry for S.
//
// Example:
//
//	binder.Apply(
//	    cask.Service[Database](NewDatabase, cask.LifetimeSingleton),
//	    cask.Service[*Cache](NewCache, cask.LifetimeScoped),
//	)
func Service[S any](factory any, lt Lifetime, opts ...RegisterOption) Registration {
	return Registration{
		Type:     TypeOf[S](),
		Factory:  factory,
		Lifetime: lt,
		Options:  opts,
	}
}

// Implementation creates a batch entry wiring concrete type I for S.
func Implementation[S, I any](lt Lifetime, opts ...RegisterOption) Registration {
	return Registration{
		Type:     TypeOf[S](),
		Impl:     TypeOf[I](),
		Lifetime: lt,
		Options:  opts,
	}
}

// Fixed creates a batch entry for a pre-built instance of S.
func Fixed[S any](instance S, opts ...RegisterOption) Registration {
	return Registration{
		Type:     TypeOf[S](),
		Instance: any(instance),
		Options:  opts,
	}
}

// Binder translates host-framework service collections into container
// registrations. Applying overlapping batches is safe: an entry already
// applied by this binder is skipped, keyed by service key, lifetime, and
// source identity.
type Binder struct {
	container *Container

	mu      sync.Mutex
	applied map[batchEntry]struct{}
}

type batchEntry struct {
	key      Key
	reuse    Reuse
	identity any
}

// NewBinder creates a binder applying batches to c.
func NewBinder(c *Container) *Binder {
	return &Binder{
		container: c,
		applied:   make(map[batchEntry]struct{}),
	}
}

// Apply registers every entry of the batch, in order.
// Entries this binder has applied before are skipped.
//
// Example:
//
//	binder := cask.NewBinder(c)
//	err := binder.Apply(
//	    cask.Service[Database](NewDatabase, cask.LifetimeSingleton),
//	    cask.Implementation[Cache, *RedisCache](cask.LifetimeScoped),
//	    cask.Fixed[Config](cfg),
//	)
func (b *Binder) Apply(batch ...Registration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range batch {
		if err := b.apply(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binder) apply(r Registration) error {
	if r.Type == nil {
		return ErrInvalidRegistration("batch entry needs a service type")
	}
	sources := 0
	if r.Impl != nil {
		sources++
	}
	if r.Factory != nil {
		sources++
	}
	if r.Instance != nil {
		sources++
	}
	if sources != 1 {
		return ErrInvalidRegistration("batch entry needs exactly one of Impl, Factory, or Instance")
	}

	reuse, err := r.Lifetime.reuse()
	if err != nil {
		return err
	}
	if r.Instance != nil {
		reuse = Singleton
	}

	entry := batchEntry{
		key:      Key{Type: r.Type, Tag: r.Tag},
		reuse:    reuse,
		identity: sourceIdentity(r),
	}
	if entry.identity != nil {
		if _, done := b.applied[entry]; done {
			return nil
		}
	}

	opts := append([]RegisterOption{WithReuse(reuse)}, r.Options...)
	if r.Tag != nil {
		opts = append(opts, WithTag(r.Tag))
	}

	switch {
	case r.Instance != nil:
		_, err = b.container.RegisterInstance(r.Type, r.Instance, opts...)
	case r.Factory != nil:
		_, err = b.container.RegisterFactory(r.Type, r.Factory, opts...)
	default:
		_, err = b.container.RegisterType(r.Type, r.Impl, opts...)
	}
	if err != nil {
		return err
	}

	if entry.identity != nil {
		b.applied[entry] = struct{}{}
	}
	return nil
}

// sourceIdentity derives a comparable identity for deduplication. Instances
// that are neither reference types nor comparable have no identity and are
// re-registered on every apply.
func sourceIdentity(r Registration) any {
	switch {
	case r.Instance != nil:
		rv := reflect.ValueOf(r.Instance)
		switch rv.Kind() {
		case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice, reflect.UnsafePointer:
			return rv.Pointer()
		default:
			if rv.Comparable() {
				return r.Instance
			}
			return nil
		}
	case r.Factory != nil:
		return reflect.ValueOf(r.Factory).Pointer()
	default:
		return r.Impl
	}
}
