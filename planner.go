package cask

import (
	"fmt"
	"reflect"
)

// planner compiles executable plans against one registry snapshot. Planning
// never touches live scopes; two resolvers racing to compile the same shape
// both succeed, and the plan cache keeps whichever committed first.
type planner struct {
	snap *snapshot
	cfg  *config
}

// compileCtx tracks one planning pass: the chain of keys currently under
// construction, for cycle detection, and the requesting context condition
// predicates are evaluated against.
type compileCtx struct {
	chain  []Key
	parent Key
	direct bool
}

// planFor returns the cached plan for (key, shape), compiling it on a miss.
func (p *planner) planFor(key Key, sh shape) (*plan, error) {
	ck := planKey{key: key, shape: sh}
	if cached, ok := p.snap.plans.get(ck); ok {
		return cached, nil
	}

	var compiled *plan
	var err error
	if sh&shapeAll != 0 {
		compiled, err = p.compileSequence(key, sh)
	} else {
		compiled, err = p.compile(key, sh, compileCtx{direct: true})
	}
	if err != nil {
		return nil, err
	}

	return p.snap.plans.put(ck, compiled), nil
}

// compile picks a descriptor for key and turns it into a plan.
func (p *planner) compile(key Key, sh shape, cc compileCtx) (*plan, error) {
	if containsKey(cc.chain, key) {
		return nil, ErrCyclicDependency(append(append([]Key{}, cc.chain...), key))
	}
	desc, err := p.selectDescriptor(key, cc)
	if err != nil {
		return nil, err
	}
	return p.compileDescriptor(desc, sh, cc)
}

// compileDescriptor compiles a plan for an already-chosen descriptor. The
// plan is keyed by the descriptor's own key: a tagged request served by an
// untagged fallback shares that registration's slots and decorators. The
// chain check repeats against the descriptor key because selection may have
// landed on a different key than was requested.
func (p *planner) compileDescriptor(desc *Descriptor, sh shape, cc compileCtx) (*plan, error) {
	if containsKey(cc.chain, desc.key) {
		return nil, ErrCyclicDependency(append(append([]Key{}, cc.chain...), desc.key))
	}
	depCtx := compileCtx{
		chain:  append(cc.chain, desc.key),
		parent: desc.key,
	}

	node, err := p.compileNode(desc, depCtx)
	if err != nil {
		return nil, err
	}

	pl := &plan{
		key:       desc.key,
		reuse:     desc.reuse,
		scopeName: desc.scopeName,
		node:      node,
		disposer:  desc.disposer,
		fixed:     desc.source == sourceInstance,
	}
	if sh&shapeUndecorated == 0 {
		pl.decorators, err = p.compileDecorators(desc, cc, depCtx)
		if err != nil {
			return nil, err
		}
	}

	return pl, nil
}

func (p *planner) compileNode(desc *Descriptor, depCtx compileCtx) (planNode, error) {
	switch desc.source {
	case sourceInstance:
		return &instanceNode{value: desc.instance}, nil

	case sourceFactory:
		args, err := p.compileFactoryArgs(desc, desc.factory, -1, depCtx)
		if err != nil {
			return nil, err
		}
		return &factoryNode{info: desc.factory, args: args}, nil

	case sourceType:
		structure := desc.structure
		if structure == nil {
			var err error
			structure, err = analyzeStruct(desc.implType)
			if err != nil {
				return nil, ErrConstructorSelection(desc.key, err.Error())
			}
		}
		fields, err := p.compileFields(desc, structure, depCtx)
		if err != nil {
			return nil, err
		}
		return &structNode{info: structure, fields: fields}, nil

	default:
		return nil, ErrConstructorSelection(desc.key, "descriptor has no construction source")
	}
}

// compileFactoryArgs plans every parameter of a factory. inner names the
// parameter a decorator receives its wrapped instance through, or -1.
func (p *planner) compileFactoryArgs(desc *Descriptor, info *factoryInfo, inner int, depCtx compileCtx) ([]*argPlan, error) {
	args := make([]*argPlan, len(info.params))
	for _, param := range info.params {
		i := param.index
		if i == inner {
			continue
		}

		if b, ok := findBinding(desc.bindings, i, param.typ); ok {
			a, err := p.compileBinding(desc, b, param.typ, param.kind, depCtx)
			if err != nil {
				return nil, err
			}
			args[i] = a
			continue
		}

		switch param.kind {
		case paramScope:
			args[i] = &argPlan{kind: argScope, typ: param.typ}
		case paramDeferred:
			return nil, ErrConstructorSelection(desc.key,
				fmt.Sprintf("parameter %d is a *Deferred with no bound key", i))
		default:
			sub, err := p.compile(Key{Type: param.typ}, shapeDefault, depCtx)
			if err != nil {
				return nil, err
			}
			args[i] = &argPlan{kind: argService, typ: param.typ, sub: sub}
		}
	}
	return args, nil
}

// compileBinding plans one explicitly overridden argument: a fixed value, or
// a redirect to another key.
func (p *planner) compileBinding(desc *Descriptor, b argBinding, typ reflect.Type, kind paramKind, depCtx compileCtx) (*argPlan, error) {
	if b.hasValue {
		if b.value == nil {
			return &argPlan{kind: argFixed, typ: typ, val: reflect.Zero(typ)}, nil
		}
		rv := reflect.ValueOf(b.value)
		if !rv.Type().AssignableTo(typ) {
			return nil, ErrConstructorSelection(desc.key,
				fmt.Sprintf("bound value of type %T is not assignable to %s", b.value, typ))
		}
		return &argPlan{kind: argFixed, typ: typ, val: rv}, nil
	}

	target := b.key
	if target.Type == nil {
		target.Type = typ
	}
	if kind == paramDeferred {
		if target.Type == deferredType {
			return nil, ErrConstructorSelection(desc.key, "deferred binding must name a concrete key")
		}
		return &argPlan{kind: argDeferred, typ: typ, key: target}, nil
	}

	sub, err := p.compile(target, shapeDefault, depCtx)
	if err != nil {
		return nil, err
	}
	return &argPlan{kind: argService, typ: typ, sub: sub}, nil
}

// compileFields plans the inject-tagged fields of a wired struct.
func (p *planner) compileFields(desc *Descriptor, structure *structInfo, depCtx compileCtx) ([]*fieldPlan, error) {
	var fields []*fieldPlan
	for _, f := range structure.fields {
		if b, ok := findBinding(desc.bindings, f.index, f.typ); ok {
			a, err := p.compileBinding(desc, b, f.typ, paramService, depCtx)
			if err != nil {
				return nil, err
			}
			fields = append(fields, &fieldPlan{index: f.index, arg: a})
			continue
		}

		depKey := f.key()
		sub, err := p.compile(depKey, shapeDefault, depCtx)
		if err != nil {
			if f.optional && unresolvedAt(err, depKey) {
				fields = append(fields, &fieldPlan{index: f.index, arg: &argPlan{kind: argZero, typ: f.typ}})
				continue
			}
			return nil, err
		}
		fields = append(fields, &fieldPlan{index: f.index, arg: &argPlan{kind: argService, typ: f.typ, sub: sub}})
	}
	return fields, nil
}

// compileDecorators plans the decorator chain for a descriptor, in ascending
// registration order, skipping decorators whose condition rejects the request.
func (p *planner) compileDecorators(desc *Descriptor, cc, depCtx compileCtx) ([]*decoratorPlan, error) {
	req := RequestInfo{Key: desc.key, Parent: cc.parent, Direct: cc.direct}

	var out []*decoratorPlan
	for _, dec := range p.snap.decoratorsFor(desc.key) {
		if !dec.eligible(req) {
			continue
		}
		inner := dec.factory.innerParamIndex(desc.key.Type)
		if inner < 0 {
			return nil, ErrConstructorSelection(desc.key,
				"decorator factory has no parameter for the wrapped instance")
		}
		decCtx := compileCtx{chain: depCtx.chain, parent: dec.key}
		args, err := p.compileFactoryArgs(dec, dec.factory, inner, decCtx)
		if err != nil {
			return nil, err
		}
		out = append(out, &decoratorPlan{desc: dec, info: dec.factory, inner: inner, args: args})
	}
	return out, nil
}

// compileSequence plans the all-candidates shape: one element per descriptor,
// in registration order. An untagged request spans every tag of the type; a
// tagged request spans only that tag's registrations.
func (p *planner) compileSequence(key Key, sh shape) (*plan, error) {
	req := RequestInfo{Key: key, Direct: true}

	var list []*Descriptor
	if key.Tag != nil {
		list = p.snap.lookup(key)
	} else {
		list = p.snap.lookupType(key.Type)
	}

	elems := make([]*plan, 0, len(list))
	for _, d := range list {
		if !d.eligible(req) {
			continue
		}
		pl, err := p.compileDescriptor(d, sh&^shapeAll, compileCtx{direct: true})
		if err != nil {
			return nil, err
		}
		elems = append(elems, pl)
	}

	return &plan{key: key, reuse: Transient, node: &sequenceNode{elems: elems}}, nil
}

// =============================================================================
// CANDIDATE SELECTION
// =============================================================================

// selectDescriptor applies the lookup and tie-break rules: exact tag matches
// win outright, a tagged request with no exact match falls back to untagged
// registrations of the type, then templates, then auto-wiring.
func (p *planner) selectDescriptor(key Key, cc compileCtx) (*Descriptor, error) {
	req := RequestInfo{Key: key, Parent: cc.parent, Direct: cc.direct}

	if cands := eligible(p.snap.lookup(key), req); len(cands) > 0 {
		return p.pick(key, cands)
	}
	if key.Tag != nil {
		if cands := eligible(p.snap.lookup(key.Untagged()), req); len(cands) > 0 {
			return p.pick(key, cands)
		}
	}

	derived, covered, err := p.snap.specialize(key)
	if err != nil {
		return nil, err
	}
	if covered && derived != nil && derived.eligible(req) {
		return derived, nil
	}

	if d, err := p.autowire(key); err != nil || d != nil {
		return d, err
	}

	if cc.direct {
		return nil, ErrUnresolvedService(key)
	}
	return nil, ErrUnresolvedDependency(key, cc.parent)
}

func eligible(list []*Descriptor, req RequestInfo) []*Descriptor {
	var out []*Descriptor
	for _, d := range list {
		if d.eligible(req) {
			out = append(out, d)
		}
	}
	return out
}

// pick resolves multi-candidate ambiguity with the configured selector, or
// reports it. Candidates arrive in registration order.
func (p *planner) pick(key Key, cands []*Descriptor) (*Descriptor, error) {
	if len(cands) == 1 {
		return cands[0], nil
	}
	switch p.cfg.selector {
	case SelectLastRegistered:
		return cands[len(cands)-1], nil
	case SelectFirstRegistered:
		return cands[0], nil
	default:
		sources := make([]string, len(cands))
		for i, d := range cands {
			sources[i] = fmt.Sprintf("%s(order=%d)", d.source, d.order)
		}
		return nil, ErrAmbiguousRegistration(key, len(cands)).WithContext("sources", sources)
	}
}

// autowire synthesizes a transient descriptor for an unregistered concrete
// type and caches it as a derived registration of the snapshot. Tagged
// requests never auto-wire: a tag is an explicit claim that a registration
// exists.
func (p *planner) autowire(key Key) (*Descriptor, error) {
	if key.Tag != nil || key.Type == nil || !constructible(key.Type) {
		return nil, nil
	}
	if d, ok := p.snap.loadDerived(key); ok {
		return d, nil
	}
	structure, err := analyzeStruct(key.Type)
	if err != nil {
		return nil, ErrConstructorSelection(key, err.Error())
	}
	d := &Descriptor{
		key:       key,
		source:    sourceType,
		implType:  key.Type,
		structure: structure,
		reuse:     Transient,
		derived:   true,
	}
	return p.snap.storeDerived(key, d), nil
}

func containsKey(chain []Key, key Key) bool {
	for _, k := range chain {
		if k == key {
			return true
		}
	}
	return false
}

// unresolvedAt reports whether err is an unresolved-service error for exactly
// this key, rather than a failure deeper in its dependencies.
func unresolvedAt(err error, key Key) bool {
	var e *Error
	if !AsError(err, &e) || e.Code != CodeUnresolvedService {
		return false
	}
	k, _ := e.Context("key")
	return k == key.String()
}
