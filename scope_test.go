package cask

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestOpenScope_Tree(t *testing.T) {
	c := New()
	defer c.Close()

	session, err := c.OpenScope("session")
	require.NoError(t, err)
	request, err := session.OpenScope("request")
	require.NoError(t, err)

	assert.Equal(t, "session", session.Name())
	assert.Same(t, c.Root(), session.Parent())
	assert.Same(t, session, request.Parent())
	assert.Same(t, c, request.Container())
}

func TestScoped_SharedWithinScope(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	s, err := c.OpenScope("request")
	require.NoError(t, err)

	first, err := s.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	second, err := s.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestScoped_DistinctAcrossScopes(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	a, err := c.OpenScope("a")
	require.NoError(t, err)
	b, err := c.OpenScope("b")
	require.NoError(t, err)

	va, err := a.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	vb, err := b.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	assert.NotSame(t, va, vb)
}

func TestScoped_OnRootFails(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	_, err = c.Resolve(TypeOf[*testConfig]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeScopeMismatch))
}

func TestScoped_OnRootAllowedByOption(t *testing.T) {
	c := New(AllowScopedOnRoot())
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	first, err := c.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	second, err := c.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestScopedTo_NearestNamedAncestor(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, ScopedWithin("session"))
	require.NoError(t, err)

	session, err := c.OpenScope("session")
	require.NoError(t, err)
	req1, err := session.OpenScope("request")
	require.NoError(t, err)
	req2, err := session.OpenScope("request")
	require.NoError(t, err)

	v1, err := req1.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	v2, err := req2.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	own, err := session.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)

	assert.Same(t, v1, v2)
	assert.Same(t, v1, own)
}

func TestScopedTo_MissingAncestor(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, ScopedWithin("session"))
	require.NoError(t, err)

	s, err := c.OpenScope("request")
	require.NoError(t, err)

	_, err = s.Resolve(TypeOf[*testConfig]())

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeScopeMismatch))
	assert.Contains(t, err.Error(), "session")
}

func TestSingleton_SharedAcrossScopes(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	})
	require.NoError(t, err)

	s, err := c.OpenScope("request")
	require.NoError(t, err)

	inScope, err := s.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	onRoot, err := c.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	assert.Same(t, inScope, onRoot)
}

func TestTransient_FreshPerResolve(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, WithReuse(Transient))
	require.NoError(t, err)

	first, err := c.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	second, err := c.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestInScope_ClosesOnReturn(t *testing.T) {
	c := New()
	defer c.Close()

	var inner *Scope
	err := c.InScope("request", func(s *Scope) error {
		inner = s
		assert.False(t, s.IsClosed())
		return nil
	})

	require.NoError(t, err)
	assert.True(t, inner.IsClosed())
}

func TestInScope_PropagatesError(t *testing.T) {
	c := New()
	defer c.Close()
	boom := errors.New("boom")

	var inner *Scope
	err := c.InScope("request", func(s *Scope) error {
		inner = s
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, inner.IsClosed())
}

func TestOpenScope_OnClosedScope(t *testing.T) {
	c := New()
	defer c.Close()

	s, err := c.OpenScope("request")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.OpenScope("child")

	require.Error(t, err)
	assert.True(t, IsCode(err, CodeClosedScope))
}

func TestScope_CloseTwice(t *testing.T) {
	c := New()
	defer c.Close()

	s, err := c.OpenScope("request")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	err = s.Close()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeClosedScope))
}

func TestClose_CascadesToChildren(t *testing.T) {
	c := New()
	defer c.Close()

	parent, err := c.OpenScope("parent")
	require.NoError(t, err)
	child, err := parent.OpenScope("child")
	require.NoError(t, err)

	require.NoError(t, parent.Close())
	assert.True(t, child.IsClosed())
}

func TestClose_OwnTeardownsBeforeChildren(t *testing.T) {
	c := New()
	defer c.Close()
	rec := &recorder{}
	_, err := c.RegisterFactory(TypeOf[*conn](), func(s *Scope) *conn {
		return &conn{name: s.Name(), rec: rec}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	parent, err := c.OpenScope("parent")
	require.NoError(t, err)
	child, err := parent.OpenScope("child")
	require.NoError(t, err)

	_, err = parent.Resolve(TypeOf[*conn]())
	require.NoError(t, err)
	_, err = child.Resolve(TypeOf[*conn]())
	require.NoError(t, err)

	require.NoError(t, parent.Close())
	assert.Equal(t, []string{"dispose:parent", "dispose:child"}, rec.list())
}

func TestResolve_ScopeParameterIsResolvingScope(t *testing.T) {
	c := New()
	defer c.Close()
	var seen *Scope
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func(s *Scope) *testConfig {
		seen = s
		return &testConfig{dsn: s.Name()}
	}, WithReuse(Transient))
	require.NoError(t, err)

	s, err := c.OpenScope("request")
	require.NoError(t, err)

	v, err := s.Resolve(TypeOf[*testConfig]())
	require.NoError(t, err)
	assert.Same(t, s, seen)
	assert.Equal(t, "request", v.(*testConfig).dsn)
}

func TestScope_ConcurrentScopedBuildOnce(t *testing.T) {
	c := New()
	defer c.Close()
	var builds atomic.Int32
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		builds.Add(1)
		return &testConfig{}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	s, err := c.OpenScope("request")
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 24; i++ {
		g.Go(func() error {
			_, rerr := s.Resolve(TypeOf[*testConfig]())
			return rerr
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), builds.Load())
}

func TestScope_ConcurrentOpenResolveClose(t *testing.T) {
	c := New()
	defer c.Close()
	_, err := c.RegisterFactory(TypeOf[*testConfig](), func() *testConfig {
		return &testConfig{}
	}, WithReuse(Scoped))
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			return c.InScope("request", func(s *Scope) error {
				_, rerr := s.Resolve(TypeOf[*testConfig]())
				return rerr
			})
		})
	}
	require.NoError(t, g.Wait())
}
