// Package cask is a reflection-based dependency injection container.
//
// Services are registered against a type plus an optional tag, each with a
// reuse policy deciding whether instances are rebuilt per request, shared
// per container, or shared per scope. Resolution compiles plans that are
// cached per registry snapshot, wires constructor arguments and
// inject-tagged struct fields, applies decorators, and tracks disposable
// instances so a scope tears down everything it built when it closes.
//
//	c := cask.New()
//	cask.Provide(c, NewDatabase)
//	cask.Provide(c, NewUserService, cask.WithReuse(cask.Scoped))
//
//	scope, _ := c.OpenScope("request")
//	defer scope.Close()
//
//	users, err := cask.Resolve[*UserService](scope)
package cask
