package cask

import (
	"reflect"
)

// execution carries the runtime state of one resolve call: the scope the call
// was made against and the container configuration.
type execution struct {
	scope *Scope
	cfg   *config
}

// plan is the compiled recipe for one key: a construction node, the decorator
// chain to wrap it with, and the reuse policy deciding which scope stores the
// result. Plans are immutable once compiled and safe for concurrent execution.
type plan struct {
	key        Key
	reuse      Reuse
	scopeName  string
	node       planNode
	decorators []*decoratorPlan
	disposer   func(any) error
	fixed      bool // fixed instance: tracked only with an explicit disposer
}

// execute runs the plan against the live scope tree. Reused instances go
// through per-slot build-once cells; the decorated result lives in its own
// cell that shares the raw instance, so decorated and bypass resolutions
// observe one underlying value.
func (p *plan) execute(exec *execution) (any, error) {
	owner, err := p.storageScope(exec)
	if err != nil {
		return nil, err
	}

	if owner == nil {
		// Transient: fresh build per request, tracked only when configured.
		var sink *Scope
		if exec.cfg.trackTransients {
			sink = exec.scope
		}
		val, err := p.node.build(exec)
		if err != nil {
			return nil, err
		}
		p.trackIn(sink, val)

		return p.wrap(exec, sink, val)
	}

	raw, err := owner.slotResolve(slotID{key: p.key}, func() (any, error) {
		val, err := p.node.build(exec)
		if err != nil {
			return nil, err
		}
		p.trackIn(owner, val)

		return val, nil
	})
	if err != nil || len(p.decorators) == 0 {
		return raw, err
	}

	return owner.slotResolve(slotID{key: p.key, decorated: true}, func() (any, error) {
		return p.wrap(exec, owner, raw)
	})
}

// storageScope maps the reuse policy onto a live scope, or nil for Transient.
// This runs at execution time, not planning time: the same cached plan must
// fail on the root scope and succeed inside an open scope.
func (p *plan) storageScope(exec *execution) (*Scope, error) {
	switch p.reuse {
	case Transient:
		return nil, nil
	case Singleton:
		return exec.scope.rootScope(), nil
	case Scoped:
		if exec.scope.isRoot() && !exec.cfg.scopedOnRoot {
			return nil, ErrScopedOnRoot(p.key)
		}
		return exec.scope, nil
	case ScopedTo:
		if s := exec.scope.nearestNamed(p.scopeName); s != nil {
			return s, nil
		}
		return nil, ErrScopeMismatch(p.key, p.scopeName)
	default:
		return nil, nil
	}
}

func (p *plan) trackIn(s *Scope, val any) {
	if s == nil || val == nil {
		return
	}
	if p.fixed && p.disposer == nil {
		return
	}
	s.track(p.key, val, p.disposer)
}

// wrap applies the decorator chain in ascending registration order, so the
// last-registered decorator ends up outermost. Disposable wrappers are
// tracked after the value they wrap and therefore torn down before it.
func (p *plan) wrap(exec *execution, sink *Scope, val any) (any, error) {
	for _, dec := range p.decorators {
		wrapped, err := dec.apply(exec, val)
		if err != nil {
			return nil, err
		}
		if sink != nil && wrapped != val {
			sink.track(dec.desc.key, wrapped, dec.desc.disposer)
		}
		val = wrapped
	}
	return val, nil
}

// =============================================================================
// PLAN NODES
// =============================================================================

// planNode is one step of a construction recipe. Building must not touch the
// registry; the only shared mutations are slot fills and disposal records in
// live scopes.
type planNode interface {
	build(exec *execution) (any, error)
}

// instanceNode returns a fixed value.
type instanceNode struct {
	value any
}

func (n *instanceNode) build(*execution) (any, error) {
	return n.value, nil
}

// factoryNode invokes a factory with materialized arguments.
type factoryNode struct {
	info *factoryInfo
	args []*argPlan
}

func (n *factoryNode) build(exec *execution) (any, error) {
	args := make([]reflect.Value, len(n.args))
	for i, a := range n.args {
		v, err := a.materialize(exec)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return n.info.call(args)
}

// structNode constructs a struct and fills its inject-tagged fields.
type structNode struct {
	info   *structInfo
	fields []*fieldPlan
}

type fieldPlan struct {
	index int
	arg   *argPlan
}

func (n *structNode) build(exec *execution) (any, error) {
	ptr := reflect.New(n.info.typ)
	elem := ptr.Elem()
	for _, f := range n.fields {
		if f.arg.kind == argZero {
			continue
		}
		v, err := f.arg.materialize(exec)
		if err != nil {
			return nil, err
		}
		elem.Field(f.index).Set(v)
	}
	if n.info.ptr {
		return ptr.Interface(), nil
	}
	return elem.Interface(), nil
}

// sequenceNode produces one element per matching descriptor, in registration
// order, each under its own reuse policy.
type sequenceNode struct {
	elems []*plan
}

func (n *sequenceNode) build(exec *execution) (any, error) {
	out := make([]any, 0, len(n.elems))
	for _, e := range n.elems {
		v, err := e.execute(exec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// decoratorPlan is a compiled wrapper: the decorator factory plus the index
// of the parameter that receives the instance being wrapped.
type decoratorPlan struct {
	desc  *Descriptor
	info  *factoryInfo
	inner int
	args  []*argPlan // args[inner] is nil; supplied at apply time
}

func (d *decoratorPlan) apply(exec *execution, val any) (any, error) {
	args := make([]reflect.Value, len(d.args))
	for i, a := range d.args {
		if i == d.inner {
			if val == nil {
				args[i] = reflect.Zero(d.info.fnType.In(i))
			} else {
				args[i] = reflect.ValueOf(val)
			}
			continue
		}
		v, err := a.materialize(exec)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return d.info.call(args)
}

// =============================================================================
// ARGUMENTS
// =============================================================================

// argKind says how one factory argument or struct field is produced.
type argKind uint8

const (
	argService  argKind = iota // execute a sub-plan
	argFixed                   // bound constant value
	argScope                   // the resolving scope handle
	argDeferred                // thunk for a bound key
	argZero                    // optional dependency with no registration
)

type argPlan struct {
	kind argKind
	typ  reflect.Type
	sub  *plan
	val  reflect.Value
	key  Key
}

func (a *argPlan) materialize(exec *execution) (reflect.Value, error) {
	switch a.kind {
	case argFixed:
		return a.val, nil
	case argScope:
		return reflect.ValueOf(exec.scope), nil
	case argDeferred:
		return reflect.ValueOf(newDeferred(exec.scope, a.key)), nil
	case argZero:
		return reflect.Zero(a.typ), nil
	default:
		v, err := a.sub.execute(exec)
		if err != nil {
			return reflect.Value{}, err
		}
		if v == nil {
			return reflect.Zero(a.typ), nil
		}
		return reflect.ValueOf(v), nil
	}
}
