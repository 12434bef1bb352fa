package cask

import "reflect"

// Selector is the configured rule for choosing among multiple eligible
// candidates when a request does not name one by tag.
type Selector uint8

const (
	// SelectNone refuses to choose: more than one candidate is an error.
	SelectNone Selector = iota

	// SelectLastRegistered picks the candidate with the highest registration order.
	SelectLastRegistered

	// SelectFirstRegistered picks the candidate with the lowest registration order.
	SelectFirstRegistered
)

// String returns the lowercase name of the selector rule.
func (s Selector) String() string {
	switch s {
	case SelectNone:
		return "none"
	case SelectLastRegistered:
		return "last-registered"
	case SelectFirstRegistered:
		return "first-registered"
	default:
		return "unknown"
	}
}

type config struct {
	selector        Selector
	planCacheSize   int
	trackTransients bool
	scopedOnRoot    bool
	middleware      []Middleware
}

func defaultConfig() config {
	return config{planCacheSize: defaultPlanCacheSize}
}

// Option is a configuration option for a new container.
type Option func(*config)

// WithSelector sets the rule for picking among multiple candidates for one
// key. By default no rule is set and ambiguity is an error.
func WithSelector(s Selector) Option {
	return func(c *config) {
		c.selector = s
	}
}

// WithPlanCacheSize caps the number of compiled plans kept per registry
// snapshot. Sizes below one disable plan caching entirely.
func WithPlanCacheSize(n int) Option {
	return func(c *config) {
		c.planCacheSize = n
	}
}

// TrackTransientDisposables registers disposable transient instances with the
// scope that resolved them, so they are torn down when it closes. Off by
// default: a long-lived root scope would otherwise accumulate every transient
// it ever built.
func TrackTransientDisposables() Option {
	return func(c *config) {
		c.trackTransients = true
	}
}

// AllowScopedOnRoot lets scope-bound services resolve against the root scope,
// storing the instance there, instead of failing with a scope mismatch.
func AllowScopedOnRoot() Option {
	return func(c *config) {
		c.scopedOnRoot = true
	}
}

// WithMiddleware installs middleware at construction time, in order.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) {
		c.middleware = append(c.middleware, mw...)
	}
}

// =============================================================================
// REGISTRATION OPTIONS
// =============================================================================

// RegisterOption is a configuration option for a single registration.
type RegisterOption func(*Descriptor)

func applyRegisterOptions(d *Descriptor, opts []RegisterOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
}

// WithReuse sets the registration's reuse policy. Registrations default to
// Singleton.
func WithReuse(r Reuse) RegisterOption {
	return func(d *Descriptor) {
		d.reuse = r
		if r != ScopedTo {
			d.scopeName = ""
		}
	}
}

// ScopedWithin binds the registration to the nearest ancestor scope with the
// given name: one instance per such ancestor.
func ScopedWithin(name string) RegisterOption {
	return func(d *Descriptor) {
		d.reuse = ScopedTo
		d.scopeName = name
	}
}

// WithTag discriminates this registration from others of the same type. The
// tag must be a comparable value.
func WithTag(tag any) RegisterOption {
	return func(d *Descriptor) {
		d.key.Tag = tag
	}
}

// WithMetadata attaches an opaque value to the registration for later
// filtering through Query.
func WithMetadata(v any) RegisterOption {
	return func(d *Descriptor) {
		d.metadata = v
	}
}

// When restricts the registration to requests the predicate accepts.
// Predicates run during planning and must be deterministic.
func When(cond func(RequestInfo) bool) RegisterOption {
	return func(d *Descriptor) {
		d.condition = cond
	}
}

// WithDisposer overrides how instances from this registration are torn down
// when their owning scope closes. It replaces any Dispose or Close method the
// instance itself has.
func WithDisposer(fn func(any) error) RegisterOption {
	return func(d *Descriptor) {
		d.disposer = fn
	}
}

// =============================================================================
// RESOLVE OPTIONS
// =============================================================================

type resolveConfig struct {
	tag         any
	hasTag      bool
	undecorated bool
}

// ResolveOption adjusts a single resolve call.
type ResolveOption func(*resolveConfig)

// Tagged requests the registration discriminated by tag.
func Tagged(tag any) ResolveOption {
	return func(rc *resolveConfig) {
		rc.tag = tag
		rc.hasTag = true
	}
}

// Undecorated bypasses the decorator chain and returns the raw instance. The
// raw and decorated resolutions of a reused key share one underlying value.
func Undecorated() ResolveOption {
	return func(rc *resolveConfig) {
		rc.undecorated = true
	}
}

func buildRequest(t reflect.Type, opts []ResolveOption) (Key, shape) {
	var rc resolveConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&rc)
		}
	}
	key := Key{Type: t}
	if rc.hasTag {
		key.Tag = rc.tag
	}
	sh := shapeDefault
	if rc.undecorated {
		sh |= shapeUndecorated
	}
	return key, sh
}
