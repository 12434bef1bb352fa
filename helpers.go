package cask

import (
	"fmt"
	"reflect"
)

// Resolver is the resolution surface shared by *Container and *Scope.
// The typed helpers in this file accept either.
type Resolver interface {
	Resolve(serviceType reflect.Type, opts ...ResolveOption) (any, error)
	ResolveKey(key Key, opts ...ResolveOption) (any, error)
	TryResolve(serviceType reflect.Type, opts ...ResolveOption) (any, bool, error)
	ResolveAll(serviceType reflect.Type, opts ...ResolveOption) ([]any, error)
}

var (
	_ Resolver = (*Container)(nil)
	_ Resolver = (*Scope)(nil)
)

// Resolve with type safety.
func Resolve[T any](r Resolver, opts ...ResolveOption) (T, error) {
	var zero T

	instance, err := r.Resolve(TypeOf[T](), opts...)
	if err != nil {
		return zero, err
	}
	if instance == nil {
		return zero, nil
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("resolved %s is not of type %T", TypeOf[T](), zero)
	}

	return typed, nil
}

// ResolveTagged resolves the registration of T carrying the given tag.
func ResolveTagged[T any](r Resolver, tag any, opts ...ResolveOption) (T, error) {
	return Resolve[T](r, append([]ResolveOption{Tagged(tag)}, opts...)...)
}

// Must resolves or panics - use only during startup.
func Must[T any](r Resolver, opts ...ResolveOption) T {
	instance, err := Resolve[T](r, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s: %v", TypeOf[T](), err))
	}

	return instance
}

// TryResolve resolves T if anything covers its key. ok is false, with a nil
// error, when no registration, template, or wireable struct covers it; every
// other failure is reported as an error.
func TryResolve[T any](r Resolver, opts ...ResolveOption) (T, bool, error) {
	var zero T

	instance, ok, err := r.TryResolve(TypeOf[T](), opts...)
	if err != nil || !ok {
		return zero, ok, err
	}
	if instance == nil {
		return zero, true, nil
	}

	typed, cast := instance.(T)
	if !cast {
		return zero, false, fmt.Errorf("resolved %s is not of type %T", TypeOf[T](), zero)
	}

	return typed, true, nil
}

// ResolveAll returns one instance per registration of T, in registration
// order. Tags are ignored unless a Tagged option narrows the set.
func ResolveAll[T any](r Resolver, opts ...ResolveOption) ([]T, error) {
	instances, err := r.ResolveAll(TypeOf[T](), opts...)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(instances))
	for _, instance := range instances {
		typed, _ := instance.(T)
		out = append(out, typed)
	}

	return out, nil
}

// Register registers a factory under T's key.
// The factory's parameters are resolved from the container when T is built.
func Register[T any](c *Container, factory any, opts ...RegisterOption) (*Descriptor, error) {
	return c.RegisterFactory(TypeOf[T](), factory, opts...)
}

// RegisterInstance registers an existing value under T's key.
// Instance registrations are always singletons.
func RegisterInstance[T any](c *Container, instance T, opts ...RegisterOption) (*Descriptor, error) {
	return c.RegisterInstance(TypeOf[T](), instance, opts...)
}

// RegisterType registers concrete type I as the implementation for S.
// I is constructed by populating its inject-tagged fields.
func RegisterType[S, I any](c *Container, opts ...RegisterOption) (*Descriptor, error) {
	return c.RegisterType(TypeOf[S](), TypeOf[I](), opts...)
}

// Provide registers a factory under its own first return type, so the key
// never has to be spelled twice.
//
// Usage:
//
//	func NewUserService(db *sql.DB) (*UserService, error) { ... }
//
//	cask.Provide(c, NewUserService)
func Provide(c *Container, factory any, opts ...RegisterOption) (*Descriptor, error) {
	t := reflect.TypeOf(factory)
	if t == nil || t.Kind() != reflect.Func || t.NumOut() == 0 {
		return nil, ErrInvalidRegistration("factory must be a function with at least one return value")
	}

	return c.RegisterFactory(t.Out(0), factory, opts...)
}

// Decorate registers a decorator for T. The decorator is a factory with one
// parameter assignable from T receiving the instance being wrapped; other
// parameters are resolved as usual.
func Decorate[T any](c *Container, decorator any, opts ...RegisterOption) (*Descriptor, error) {
	return c.Decorate(TypeOf[T](), decorator, opts...)
}

// Has reports whether a registration covers T.
func Has[T any](c *Container, opts ...ResolveOption) bool {
	return c.Has(TypeOf[T](), opts...)
}
