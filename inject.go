package cask

// Argument bindings override how individual constructor arguments or injected
// fields are satisfied. A binding matches either by position (BindArg,
// BindArgKey) or by parameter type (BindValue, BindKey, BindDeferred); when
// several bindings match the same argument, the last one registered wins.

// BindValue fixes every argument or field of type P to the given value
// instead of resolving it. A nil value injects the zero value of P.
//
// Usage:
//
//	cask.Provide(c, NewUserService,
//	    cask.BindValue[Config](cfg),
//	)
func BindValue[P any](v P) RegisterOption {
	return func(d *Descriptor) {
		d.bindings = append(d.bindings, argBinding{
			position: -1,
			match:    TypeOf[P](),
			value:    any(v),
			hasValue: true,
		})
	}
}

// BindKey redirects every argument or field of type P to the tagged
// registration of P rather than the untagged one.
//
// Usage:
//
//	cask.Provide(c, NewUserService,
//	    cask.BindKey[*sql.DB]("replica"),
//	)
func BindKey[P any](tag any) RegisterOption {
	return func(d *Descriptor) {
		d.bindings = append(d.bindings, argBinding{
			position: -1,
			match:    TypeOf[P](),
			key:      KeyOf[P](tag),
		})
	}
}

// BindDeferred targets the factory's *Deferred parameters at T's key. The
// handle is constructed without resolving T, which is how a dependency cycle
// is broken: call Get after construction to complete the loop. With more
// than one *Deferred parameter, use BindArgKey to target each individually.
//
// Usage:
//
//	cask.Provide(c, func(users *cask.Deferred) (*AuthService, error) { ... },
//	    cask.BindDeferred[*UserService](),
//	)
func BindDeferred[T any](tag ...any) RegisterOption {
	return func(d *Descriptor) {
		d.bindings = append(d.bindings, argBinding{
			position: -1,
			match:    deferredType,
			key:      KeyOf[T](tag...),
		})
	}
}

// BindArg fixes the factory argument at position i to the given value.
// A nil value injects the zero value of the argument's type.
//
// Usage:
//
//	cask.Provide(c, NewServer,
//	    cask.BindArg(1, ":8080"),
//	)
func BindArg(i int, v any) RegisterOption {
	return func(d *Descriptor) {
		d.bindings = append(d.bindings, argBinding{
			position: i,
			value:    v,
			hasValue: true,
		})
	}
}

// BindArgKey resolves the factory argument at position i as the given key.
// A key with a nil Type inherits the argument's declared type, so
// BindArgKey(0, cask.Key{Tag: "primary"}) retags argument 0 in place.
//
// Usage:
//
//	cask.Provide(c, NewReport,
//	    cask.BindArgKey(0, cask.KeyOf[*sql.DB]("analytics")),
//	)
func BindArgKey(i int, key Key) RegisterOption {
	return func(d *Descriptor) {
		d.bindings = append(d.bindings, argBinding{
			position: i,
			key:      key,
		})
	}
}
