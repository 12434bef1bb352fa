package cask

import (
	"fmt"
	"reflect"
)

// =============================================================================
// SERVICE KEYS
// =============================================================================

// Key identifies a registrable service: a Go type plus an optional tag that
// discriminates between multiple registrations of the same type. Tags must be
// comparable values; nil means the default, untagged registration.
type Key struct {
	Type reflect.Type
	Tag  any
}

// String renders the key for error messages and logs.
func (k Key) String() string {
	if k.Type == nil {
		return "<none>"
	}
	if k.Tag == nil {
		return k.Type.String()
	}
	return fmt.Sprintf("%s[tag=%v]", k.Type, k.Tag)
}

// IsZero reports whether the key carries no type.
func (k Key) IsZero() bool {
	return k.Type == nil
}

// WithTag returns a copy of k discriminated by tag.
func (k Key) WithTag(tag any) Key {
	k.Tag = tag
	return k
}

// Untagged returns a copy of k with the tag cleared.
func (k Key) Untagged() Key {
	k.Tag = nil
	return k
}

// =============================================================================
// REQUEST INFO
// =============================================================================

// RequestInfo describes the planning context a conditional registration is
// evaluated against. Condition predicates run while plans are compiled and
// plans are cached, so they see only static facts: the requested key, the key
// whose construction needs it, and whether the request came straight from a
// resolve call rather than from a dependency.
type RequestInfo struct {
	// Key is the key being requested.
	Key Key

	// Parent is the key whose construction requires Key. It is the zero Key
	// for direct requests.
	Parent Key

	// Direct is true when the request was made by a resolve call rather than
	// discovered while wiring another service.
	Direct bool
}

// =============================================================================
// DESCRIPTORS
// =============================================================================

// sourceKind records where a descriptor's instances come from.
type sourceKind uint8

const (
	sourceFactory sourceKind = iota
	sourceInstance
	sourceType
)

func (s sourceKind) String() string {
	switch s {
	case sourceFactory:
		return "factory"
	case sourceInstance:
		return "instance"
	case sourceType:
		return "type"
	default:
		return "unknown"
	}
}

// Descriptor is one immutable registration rule: how to produce a value for a
// Key, how long to reuse it, and how it competes with sibling rules for the
// same key. Descriptors never change after they are published to a snapshot;
// every edit produces a fresh one.
type Descriptor struct {
	key    Key
	source sourceKind

	factory   *factoryInfo // sourceFactory and decorators
	implType  reflect.Type // sourceType: struct (or pointer to struct) to wire by fields
	structure *structInfo  // analyzed field shape for sourceType
	instance  any          // sourceInstance: the fixed value

	reuse     Reuse
	scopeName string // ancestor scope name for ScopedTo
	order     int64  // container-wide registration sequence
	metadata  any
	condition func(RequestInfo) bool
	bindings  []argBinding
	disposer  func(any) error
	decorator bool
	derived   bool // specialized from a template or auto-wired
}

// Key returns the key this descriptor supplies.
func (d *Descriptor) Key() Key { return d.key }

// Reuse returns the descriptor's reuse policy.
func (d *Descriptor) Reuse() Reuse { return d.reuse }

// ScopeName returns the ancestor scope name a ScopedTo descriptor binds to.
func (d *Descriptor) ScopeName() string { return d.scopeName }

// Order returns the container-wide registration sequence number.
func (d *Descriptor) Order() int64 { return d.order }

// Metadata returns the opaque metadata attached at registration, if any.
func (d *Descriptor) Metadata() any { return d.metadata }

// Conditional reports whether the descriptor carries a condition predicate.
func (d *Descriptor) Conditional() bool { return d.condition != nil }

// eligible reports whether the descriptor may serve the given request.
func (d *Descriptor) eligible(req RequestInfo) bool {
	if d.condition == nil {
		return true
	}
	return d.condition(req)
}

// NewFactoryDescriptor builds a descriptor whose instances come from calling
// factory. The factory's parameters become dependencies; it must return the
// service value, optionally followed by an error.
func NewFactoryDescriptor(key Key, factory any, opts ...RegisterOption) (*Descriptor, error) {
	if key.Type == nil {
		return nil, ErrInvalidRegistration("key has no type")
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	info, err := analyzeFactory(key, factory)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{key: key, source: sourceFactory, factory: info, reuse: Singleton}
	applyRegisterOptions(d, opts)

	return d, validateDescriptor(d)
}

// NewInstanceDescriptor builds a descriptor that always yields the given
// value. Fixed instances are singletons by definition and are not disposed by
// the engine unless the registration carries an explicit disposer.
func NewInstanceDescriptor(key Key, instance any, opts ...RegisterOption) (*Descriptor, error) {
	if key.Type == nil {
		return nil, ErrInvalidRegistration("key has no type")
	}
	if instance != nil && !reflect.TypeOf(instance).AssignableTo(key.Type) {
		return nil, ErrInvalidRegistration(
			fmt.Sprintf("instance type %T is not assignable to %s", instance, key.Type))
	}
	d := &Descriptor{key: key, source: sourceInstance, instance: instance}
	applyRegisterOptions(d, opts)
	d.reuse = Singleton

	return d, validateDescriptor(d)
}

// NewTypeDescriptor builds a descriptor whose instances are constructed from
// implType: a struct, or pointer to struct, whose tagged fields are injected.
func NewTypeDescriptor(key Key, implType reflect.Type, opts ...RegisterOption) (*Descriptor, error) {
	if key.Type == nil {
		return nil, ErrInvalidRegistration("key has no type")
	}
	if implType == nil {
		return nil, ErrInvalidRegistration("implementation type is nil")
	}
	if !constructible(implType) {
		return nil, ErrConstructorSelection(key,
			fmt.Sprintf("%s is not a struct or pointer to struct", implType))
	}
	if !implType.AssignableTo(key.Type) {
		return nil, ErrInvalidRegistration(
			fmt.Sprintf("%s is not assignable to %s", implType, key.Type))
	}
	structure, err := analyzeStruct(implType)
	if err != nil {
		return nil, ErrConstructorSelection(key, err.Error())
	}
	d := &Descriptor{key: key, source: sourceType, implType: implType, structure: structure, reuse: Singleton}
	applyRegisterOptions(d, opts)

	return d, validateDescriptor(d)
}

func validateDescriptor(d *Descriptor) error {
	if d.reuse == ScopedTo && d.scopeName == "" {
		return ErrInvalidRegistration("ScopedTo requires a scope name")
	}
	if d.reuse != ScopedTo && d.scopeName != "" {
		return ErrInvalidRegistration("scope name is only valid with ScopedTo")
	}
	return nil
}

// =============================================================================
// ARGUMENT BINDINGS
// =============================================================================

// argBinding overrides how one constructor argument or injected field is
// satisfied: either with a fixed value or by redirecting to another key.
// Position -1 matches by the argument's type instead of its index.
type argBinding struct {
	position int
	match    reflect.Type
	value    any
	hasValue bool
	key      Key
}

func (b argBinding) applies(i int, t reflect.Type) bool {
	if b.position >= 0 {
		return b.position == i
	}
	return b.match == t
}

// binding lookup used by the planner; last registered binding wins.
func findBinding(bindings []argBinding, i int, t reflect.Type) (argBinding, bool) {
	for j := len(bindings) - 1; j >= 0; j-- {
		if bindings[j].applies(i, t) {
			return bindings[j], true
		}
	}
	return argBinding{}, false
}
