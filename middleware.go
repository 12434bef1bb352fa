package cask

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Middleware provides hooks for intercepting container operations.
// Middleware can be used for logging, metrics, security, testing, etc.
type Middleware interface {
	// BeforeResolve is called before a resolve call starts.
	// Return error to abort resolution.
	BeforeResolve(ctx context.Context, key Key) error

	// AfterResolve is called after a resolve call finishes.
	// Called even if resolution failed (instance and err may both be set).
	AfterResolve(ctx context.Context, key Key, instance any, err error) error

	// ScopeOpened is called after a scope opens.
	// Return error to abort the open; the scope is closed again.
	ScopeOpened(ctx context.Context, scope *Scope) error

	// ScopeClosed is called after a scope closes, with the aggregate
	// disposal error if any. A returned error is added to the close result.
	ScopeClosed(ctx context.Context, scope *Scope, err error) error
}

// middlewareChain manages multiple middleware. The installed set is read on
// every resolution, so it is swapped atomically rather than locked.
type middlewareChain struct {
	mu      sync.Mutex
	current atomic.Pointer[[]Middleware]
}

func newMiddlewareChain() *middlewareChain {
	c := &middlewareChain{}
	c.current.Store(&[]Middleware{})
	return c
}

// add appends middleware to the chain.
func (m *middlewareChain) add(mw Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := append(append([]Middleware{}, *m.current.Load()...), mw)
	m.current.Store(&next)
}

func (m *middlewareChain) installed() []Middleware {
	return *m.current.Load()
}

// resolve runs body between the Before and After hooks of every installed
// middleware. With no middleware installed it is a plain call.
func (m *middlewareChain) resolve(key Key, body func() (any, error)) (any, error) {
	chain := m.installed()
	if len(chain) == 0 {
		return body()
	}

	ctx := context.Background()
	for _, mw := range chain {
		if err := mw.BeforeResolve(ctx, key); err != nil {
			return nil, err
		}
	}
	val, err := body()
	for _, mw := range chain {
		if mwErr := mw.AfterResolve(ctx, key, val, err); mwErr != nil {
			return nil, mwErr
		}
	}
	return val, err
}

// scopeOpened calls ScopeOpened on all middleware.
func (m *middlewareChain) scopeOpened(scope *Scope) error {
	chain := m.installed()
	if len(chain) == 0 {
		return nil
	}
	ctx := context.Background()
	for _, mw := range chain {
		if err := mw.ScopeOpened(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}

// scopeClosed calls ScopeClosed on all middleware.
func (m *middlewareChain) scopeClosed(scope *Scope, err error) error {
	chain := m.installed()
	if len(chain) == 0 {
		return nil
	}
	ctx := context.Background()
	for _, mw := range chain {
		if mwErr := mw.ScopeClosed(ctx, scope, err); mwErr != nil {
			return mwErr
		}
	}
	return nil
}

// FuncMiddleware wraps functions as Middleware.
type FuncMiddleware struct {
	BeforeResolveFunc func(ctx context.Context, key Key) error
	AfterResolveFunc  func(ctx context.Context, key Key, instance any, err error) error
	ScopeOpenedFunc   func(ctx context.Context, scope *Scope) error
	ScopeClosedFunc   func(ctx context.Context, scope *Scope, err error) error
}

// BeforeResolve implements Middleware.
func (f *FuncMiddleware) BeforeResolve(ctx context.Context, key Key) error {
	if f.BeforeResolveFunc != nil {
		return f.BeforeResolveFunc(ctx, key)
	}
	return nil
}

// AfterResolve implements Middleware.
func (f *FuncMiddleware) AfterResolve(ctx context.Context, key Key, instance any, err error) error {
	if f.AfterResolveFunc != nil {
		return f.AfterResolveFunc(ctx, key, instance, err)
	}
	return nil
}

// ScopeOpened implements Middleware.
func (f *FuncMiddleware) ScopeOpened(ctx context.Context, scope *Scope) error {
	if f.ScopeOpenedFunc != nil {
		return f.ScopeOpenedFunc(ctx, scope)
	}
	return nil
}

// ScopeClosed implements Middleware.
func (f *FuncMiddleware) ScopeClosed(ctx context.Context, scope *Scope, err error) error {
	if f.ScopeClosedFunc != nil {
		return f.ScopeClosedFunc(ctx, scope, err)
	}
	return nil
}

// Logging returns middleware that logs resolutions and scope transitions.
// Successes log at debug level, failures at warn.
func Logging(log *zap.Logger) Middleware {
	return &loggingMiddleware{log: log}
}

type loggingMiddleware struct {
	log *zap.Logger
}

func (l *loggingMiddleware) BeforeResolve(_ context.Context, key Key) error {
	l.log.Debug("resolving", zap.Stringer("key", key))
	return nil
}

func (l *loggingMiddleware) AfterResolve(_ context.Context, key Key, _ any, err error) error {
	if err != nil {
		l.log.Warn("resolution failed", zap.Stringer("key", key), zap.Error(err))
		return nil
	}
	l.log.Debug("resolved", zap.Stringer("key", key))
	return nil
}

func (l *loggingMiddleware) ScopeOpened(_ context.Context, scope *Scope) error {
	l.log.Debug("scope opened", zap.String("scope", scope.Name()))
	return nil
}

func (l *loggingMiddleware) ScopeClosed(_ context.Context, scope *Scope, err error) error {
	if err != nil {
		l.log.Warn("scope closed with errors", zap.String("scope", scope.Name()), zap.Error(err))
		return nil
	}
	l.log.Debug("scope closed", zap.String("scope", scope.Name()))
	return nil
}
