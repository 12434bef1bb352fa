package cask

import "reflect"

// ServiceProvider is the narrow facade host frameworks consume: lookups that
// treat absence as a non-error, and a single Dispose releasing everything the
// provider built. Each provider is backed by one scope; Dispose closes it.
type ServiceProvider struct {
	scope *Scope
}

// NewServiceProvider opens a dedicated scope under the container's root and
// wraps it. Singletons still live in the root; scoped services live in the
// provider's scope and are torn down by Dispose.
func NewServiceProvider(c *Container) (*ServiceProvider, error) {
	s, err := c.OpenScope("")
	if err != nil {
		return nil, err
	}
	return &ServiceProvider{scope: s}, nil
}

// ProviderFor wraps an existing scope. The provider takes ownership:
// Dispose closes the scope.
func ProviderFor(s *Scope) *ServiceProvider {
	return &ServiceProvider{scope: s}
}

// GetService returns an instance of serviceType, or nil with a nil error
// when no registration, template, or wireable struct covers it. Failures
// other than absence are returned as errors.
func (p *ServiceProvider) GetService(serviceType reflect.Type) (any, error) {
	v, ok, err := p.scope.TryResolve(serviceType)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// GetKeyedService is GetService narrowed to the registration carrying tag.
func (p *ServiceProvider) GetKeyedService(serviceType reflect.Type, tag any) (any, error) {
	v, ok, err := p.scope.TryResolve(serviceType, Tagged(tag))
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// GetRequiredService returns an instance of serviceType, failing when
// nothing covers it.
func (p *ServiceProvider) GetRequiredService(serviceType reflect.Type) (any, error) {
	return p.scope.Resolve(serviceType)
}

// CreateScope opens a child unit of work with its own provider. Disposing
// the child releases only what the child built. name may be empty; a named
// scope anchors ScopedWithin registrations.
func (p *ServiceProvider) CreateScope(name string) (*ServiceProvider, error) {
	child, err := p.scope.OpenScope(name)
	if err != nil {
		return nil, err
	}
	return &ServiceProvider{scope: child}, nil
}

// Scope returns the scope backing this provider.
func (p *ServiceProvider) Scope() *Scope {
	return p.scope
}

// Dispose closes the backing scope, tearing down tracked instances in
// reverse creation order. The provider is unusable afterwards.
func (p *ServiceProvider) Dispose() error {
	return p.scope.Close()
}
