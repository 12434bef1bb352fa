package cask

import "reflect"

// TypeOf returns the reflect.Type of T without allocating a value of it.
// It works for interface types as well as concrete ones, which makes it the
// usual way to name a service type at a call site.
//
// Example:
//
//	db, err := scope.Resolve(cask.TypeOf[Database]())
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// KeyOf builds the resolution key for T, optionally tagged. Only the first
// tag is used.
//
// Example:
//
//	var PrimaryDB = cask.KeyOf[*sql.DB]("primary")
//	db, err := scope.ResolveKey(PrimaryDB)
func KeyOf[T any](tag ...any) Key {
	k := Key{Type: TypeOf[T]()}
	if len(tag) > 0 {
		k.Tag = tag[0]
	}
	return k
}
