package cask

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mutually dependent concrete types for cycle detection.
type cycA struct {
	B *cycB `inject:""`
}

type cycB struct {
	A *cycA `inject:""`
}

// Mutually dependent services wired through a deferred handle.
type svcA struct {
	b *Deferred
}

type svcB struct {
	a *svcA
}

// wrapStore decorates a store with a label.
type wrapStore struct {
	inner store
	label string
}

func (w *wrapStore) Get(key string) string { return w.label + "(" + w.inner.Get(key) + ")" }

// wired is auto-wireable from its inject tags. The optional field is an
// interface so nothing synthesizes it when absent.
type wired struct {
	Cfg   *testConfig `inject:""`
	Cache store       `inject:"optional"`
}

type wiredStrict struct {
	Cache store `inject:""`
}

type userRepo struct {
	fromTemplate bool
}

func TestSelect_SingleCandidate(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "m:"} })
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store]())

	require.NoError(t, err)
	assert.Equal(t, "m:k", v.(store).Get("k"))
}

func TestSelect_ExactTagWins(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "untagged:"} })
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &redisStore{} }, WithTag("x"))
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store](), Tagged("x"))

	require.NoError(t, err)
	assert.Equal(t, "redis:k", v.(store).Get("k"))
}

func TestSelect_TaggedFallsBackToUntagged(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "only:"} })
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store](), Tagged("missing"))

	require.NoError(t, err)
	assert.Equal(t, "only:k", v.(store).Get("k"))
}

func TestSelect_AmbiguousWithoutSelector(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{} })
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &redisStore{} })
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[store]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeAmbiguousRegistration))
	assert.Contains(t, err.Error(), "2 candidates")

	var e *Error
	require.True(t, AsError(err, &e))
	sources, ok := e.Context("sources")
	require.True(t, ok)
	assert.Len(t, sources, 2)
}

func TestSelect_LastRegisteredWins(t *testing.T) {
	c := New(WithSelector(SelectLastRegistered))
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "first:"} })
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "last:"} })
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store]())

	require.NoError(t, err)
	assert.Equal(t, "last:k", v.(store).Get("k"))
}

func TestSelect_FirstRegisteredWins(t *testing.T) {
	c := New(WithSelector(SelectFirstRegistered))
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "first:"} })
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "last:"} })
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store]())

	require.NoError(t, err)
	assert.Equal(t, "first:k", v.(store).Get("k"))
}

func TestCondition_SeesParentAndDirect(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "direct:"} },
		When(func(ri RequestInfo) bool { return ri.Direct }))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "nested:"} },
		When(func(ri RequestInfo) bool { return !ri.Direct }))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[*wrapStore](), func(s store) *wrapStore {
		return &wrapStore{inner: s, label: "holder"}
	})
	require.NoError(t, err)

	direct, err := c.Resolve(TypeOf[store]())
	require.NoError(t, err)
	assert.Equal(t, "direct:k", direct.(store).Get("k"))

	holder, err := c.Resolve(TypeOf[*wrapStore]())
	require.NoError(t, err)
	assert.Equal(t, "holder(nested:k)", holder.(*wrapStore).Get("k"))
}

func TestCondition_NoEligibleCandidate(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{} },
		When(func(ri RequestInfo) bool { return false }))
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[store]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnresolvedService))
}

func TestDecorator_LastRegisteredOutermost(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "base:"} })
	require.NoError(t, err)
	_, err = c.Decorate(TypeOf[store](), func(inner store) store {
		return &wrapStore{inner: inner, label: "d1"}
	})
	require.NoError(t, err)
	_, err = c.Decorate(TypeOf[store](), func(inner store) store {
		return &wrapStore{inner: inner, label: "d2"}
	})
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store]())

	require.NoError(t, err)
	assert.Equal(t, "d2(d1(base:k))", v.(store).Get("k"))
}

func TestDecorator_UndecoratedBypass(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "base:"} })
	require.NoError(t, err)
	_, err = c.Decorate(TypeOf[store](), func(inner store) store {
		return &wrapStore{inner: inner, label: "d"}
	})
	require.NoError(t, err)

	raw, err := c.Resolve(TypeOf[store](), Undecorated())

	require.NoError(t, err)
	assert.Equal(t, "base:k", raw.(store).Get("k"))
}

func TestDecorator_SharesUnderlyingSingleton(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "base:"} })
	require.NoError(t, err)
	_, err = c.Decorate(TypeOf[store](), func(inner store) store {
		return &wrapStore{inner: inner, label: "d"}
	})
	require.NoError(t, err)

	decorated, err := c.Resolve(TypeOf[store]())
	require.NoError(t, err)
	raw, err := c.Resolve(TypeOf[store](), Undecorated())
	require.NoError(t, err)

	assert.Same(t, raw, decorated.(*wrapStore).inner)

	again, err := c.Resolve(TypeOf[store]())
	require.NoError(t, err)
	assert.Same(t, decorated, again)
}

func TestDecorator_ResolvesExtraDependencies(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterInstance(TypeOf[*testConfig](), &testConfig{dsn: "tagged"})
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "base:"} })
	require.NoError(t, err)
	_, err = c.Decorate(TypeOf[store](), func(inner store, cfg *testConfig) store {
		return &wrapStore{inner: inner, label: cfg.dsn}
	})
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[store]())

	require.NoError(t, err)
	assert.Equal(t, "tagged(base:k)", v.(store).Get("k"))
}

func TestDecorator_ConditionalByRequest(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "base:"} },
		WithReuse(Transient))
	require.NoError(t, err)
	_, err = c.Decorate(TypeOf[store](), func(inner store) store {
		return &wrapStore{inner: inner, label: "direct"}
	}, When(func(ri RequestInfo) bool { return ri.Direct }))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[*wrapStore](), func(s store) *wrapStore {
		return &wrapStore{inner: s, label: "holder"}
	})
	require.NoError(t, err)

	direct, err := c.Resolve(TypeOf[store]())
	require.NoError(t, err)
	assert.Equal(t, "direct(base:k)", direct.(store).Get("k"))

	holder, err := c.Resolve(TypeOf[*wrapStore]())
	require.NoError(t, err)
	assert.Equal(t, "holder(base:k)", holder.(*wrapStore).Get("k"))
}

func TestCycle_AutoWiredPair(t *testing.T) {
	c := New()
	defer c.Close()

	_, err := c.Resolve(TypeOf[*cycA]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeCyclicDependency))
	assert.Contains(t, err.Error(), "*cask.cycA -> *cask.cycB -> *cask.cycA")
}

func TestCycle_FactoryPair(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*svcA](), func(b *svcB) *svcA { return &svcA{} })
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[*svcB](), func(a *svcA) *svcB { return &svcB{a: a} })
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[*svcA]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeCyclicDependency))

	var e *Error
	require.True(t, AsError(err, &e))
	chain, ok := e.Context("chain")
	require.True(t, ok)
	assert.Len(t, chain, 3)
}

func TestCycle_BrokenByDeferred(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*svcA](), func(d *Deferred) *svcA {
		return &svcA{b: d}
	}, BindDeferred[*svcB]())
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[*svcB](), func(a *svcA) *svcB { return &svcB{a: a} })
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[*svcB]())
	require.NoError(t, err)
	b := v.(*svcB)

	got, err := b.a.b.Get()
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.True(t, b.a.b.IsResolved())
}

func TestDeferred_WithoutBindingFails(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*svcA](), func(d *Deferred) *svcA {
		return &svcA{b: d}
	})
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[*svcA]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeConstructorSelection))
}

func TestTemplate_SpecializesMatchedKeys(t *testing.T) {
	c := New()
	defer c.Close()
	err := c.RegisterTemplate(&Template{
		Match: func(t reflect.Type) bool { return t == TypeOf[*userRepo]() },
		Specialize: func(key Key) (*Descriptor, error) {
			return NewFactoryDescriptor(key, func() *userRepo {
				return &userRepo{fromTemplate: true}
			}, WithReuse(Singleton))
		},
	})
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[*userRepo]())
	require.NoError(t, err)
	assert.True(t, v.(*userRepo).fromTemplate)

	again, err := c.Resolve(TypeOf[*userRepo]())
	require.NoError(t, err)
	assert.Same(t, v, again)
}

func TestTemplate_ExplicitRegistrationWins(t *testing.T) {
	c := New()
	defer c.Close()
	err := c.RegisterTemplate(&Template{
		Match: func(t reflect.Type) bool { return t == TypeOf[*userRepo]() },
		Specialize: func(key Key) (*Descriptor, error) {
			return NewFactoryDescriptor(key, func() *userRepo {
				return &userRepo{fromTemplate: true}
			})
		},
	})
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[*userRepo](), func() *userRepo { return &userRepo{} })
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[*userRepo]())

	require.NoError(t, err)
	assert.False(t, v.(*userRepo).fromTemplate)
}

func TestAutowire_ConcreteStruct(t *testing.T) {
	c := New()
	defer c.Close()
	cfg := &testConfig{dsn: "auto"}
	_, err := c.RegisterInstance(TypeOf[*testConfig](), cfg)
	require.NoError(t, err)

	v, err := c.Resolve(TypeOf[*wired]())

	require.NoError(t, err)
	w := v.(*wired)
	assert.Same(t, cfg, w.Cfg)
	assert.Nil(t, w.Cache)

	second, err := c.Resolve(TypeOf[*wired]())
	require.NoError(t, err)
	assert.NotSame(t, v, second)
}

func TestAutowire_InterfaceNotWireable(t *testing.T) {
	c := New()
	defer c.Close()

	_, err := c.Resolve(TypeOf[store]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnresolvedService))
}

func TestAutowire_TaggedRequestNotWired(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterInstance(TypeOf[*testConfig](), &testConfig{})
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[*wired](), Tagged("x"))

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnresolvedService))
}

func TestAutowire_RequiredFieldMissing(t *testing.T) {
	c := New()
	defer c.Close()

	_, err := c.Resolve(TypeOf[*wiredStrict]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnresolvedService))
	assert.Contains(t, err.Error(), "required by")
}

func TestResolveAll_RegistrationOrderAcrossTags(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "x:"} }, WithTag("x"))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "y:"} }, WithTag("y"))
	require.NoError(t, err)

	only, err := c.ResolveKey(KeyOf[store]("x"))
	require.NoError(t, err)
	assert.Equal(t, "x:k", only.(store).Get("k"))

	all, err := c.ResolveAll(TypeOf[store]())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "x:k", all[0].(store).Get("k"))
	assert.Equal(t, "y:k", all[1].(store).Get("k"))
}

func TestResolveAll_TaggedNarrows(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "x1:"} }, WithTag("x"))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "x2:"} }, WithTag("x"))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{prefix: "y:"} }, WithTag("y"))
	require.NoError(t, err)

	all, err := c.ResolveAll(TypeOf[store](), Tagged("x"))

	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "x1:k", all[0].(store).Get("k"))
	assert.Equal(t, "x2:k", all[1].(store).Get("k"))
}

func TestResolveAll_PerElementReuse(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{} }, WithTag("single"))
	require.NoError(t, err)
	_, err = c.RegisterFactory(TypeOf[store](), func() store { return &memStore{} },
		WithTag("fresh"), WithReuse(Transient))
	require.NoError(t, err)

	first, err := c.ResolveAll(TypeOf[store]())
	require.NoError(t, err)
	second, err := c.ResolveAll(TypeOf[store]())
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Same(t, first[0], second[0])
	assert.NotSame(t, first[1], second[1])
}

func TestResolveAll_EmptyForUnknownType(t *testing.T) {
	c := New()
	defer c.Close()

	all, err := c.ResolveAll(TypeOf[store]())

	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestScoped_RootThenScopeThenClosed(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[store](), func() store { return &memStore{} }, WithReuse(Scoped))
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[store]())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeScopeMismatch))

	s, err := c.OpenScope("work")
	require.NoError(t, err)
	first, err := s.Resolve(TypeOf[store]())
	require.NoError(t, err)
	second, err := s.Resolve(TypeOf[store]())
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, s.Close())
	_, err = s.Resolve(TypeOf[store]())
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeClosedScope))
}
