package cask

import (
	"fmt"
	"reflect"
	"strings"
)

// injectTag is the struct tag consulted when wiring a type by its fields.
//
// Supported forms:
//
//	type Handler struct {
//	    Repo   Repository `inject:""`             // required, by type
//	    Cache  Cache      `inject:"tag=redis"`    // required, tagged registration
//	    Audit  *Auditor   `inject:"optional"`     // zero value when unregistered
//	    name   string                             // untagged fields are left alone
//	}
const injectTag = "inject"

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	scopeType    = reflect.TypeOf((*Scope)(nil))
	deferredType = reflect.TypeOf((*Deferred)(nil))
)

// paramKind distinguishes ordinary service parameters from the parameter
// types the engine fulfils itself.
type paramKind uint8

const (
	paramService  paramKind = iota
	paramScope              // *Scope: the scope the resolution runs in
	paramDeferred           // *Deferred: a thunk for a bound key
)

// paramSpec describes one factory parameter.
type paramSpec struct {
	typ   reflect.Type
	kind  paramKind
	index int
}

// factoryInfo holds analyzed factory metadata: the callable, its parameters,
// and its result shape.
type factoryInfo struct {
	fn       reflect.Value
	fnType   reflect.Type
	params   []paramSpec
	returns  reflect.Type
	hasError bool
}

// analyzeFactory inspects a factory function registered for key. The factory
// must be a non-variadic function returning the service value, optionally
// followed by an error.
func analyzeFactory(key Key, factory any) (*factoryInfo, error) {
	fnValue := reflect.ValueOf(factory)
	fnType := fnValue.Type()

	if fnType.Kind() != reflect.Func {
		return nil, ErrConstructorSelection(key, fmt.Sprintf("factory is %s, not a function", fnType))
	}
	if fnType.IsVariadic() {
		return nil, ErrConstructorSelection(key, "variadic factories are not supported")
	}

	info := &factoryInfo{
		fn:     fnValue,
		fnType: fnType,
	}

	for i := 0; i < fnType.NumIn(); i++ {
		param := paramSpec{typ: fnType.In(i), index: i}
		switch param.typ {
		case scopeType:
			param.kind = paramScope
		case deferredType:
			param.kind = paramDeferred
		}
		info.params = append(info.params, param)
	}

	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) == errorType {
			return nil, ErrConstructorSelection(key, "factory must return a service value, not only an error")
		}
		info.returns = fnType.Out(0)
	case 2:
		if fnType.Out(1) != errorType {
			return nil, ErrConstructorSelection(key, "the second return value must be an error")
		}
		info.returns = fnType.Out(0)
		info.hasError = true
	default:
		return nil, ErrConstructorSelection(key, "factory must return a value, or a value and an error")
	}

	if !info.returns.AssignableTo(key.Type) {
		return nil, ErrConstructorSelection(key,
			fmt.Sprintf("factory returns %s, which is not assignable to %s", info.returns, key.Type))
	}

	return info, nil
}

// innerParamIndex finds the parameter a decorator factory receives the
// wrapped instance through: the first parameter the target type assigns to.
// Returns -1 when the factory has no such parameter.
func (f *factoryInfo) innerParamIndex(target reflect.Type) int {
	for _, p := range f.params {
		if p.kind == paramService && target.AssignableTo(p.typ) {
			return p.index
		}
	}
	return -1
}

// call invokes the factory with already-resolved arguments and unpacks the
// (value, error) result shape.
func (f *factoryInfo) call(args []reflect.Value) (any, error) {
	out := f.fn.Call(args)
	if f.hasError {
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
	}
	return out[0].Interface(), nil
}

// =============================================================================
// STRUCT WIRING
// =============================================================================

// fieldSpec describes one inject-tagged field of a wired struct.
type fieldSpec struct {
	index    int
	name     string
	typ      reflect.Type
	tag      string
	hasTag   bool
	optional bool
}

func (f fieldSpec) key() Key {
	if f.hasTag {
		return Key{Type: f.typ, Tag: f.tag}
	}
	return Key{Type: f.typ}
}

// structInfo holds the analyzed shape of a type constructed by field
// injection: the struct itself and every field the engine must fill.
type structInfo struct {
	typ    reflect.Type // the struct type, pointer stripped
	ptr    bool         // construct and return a pointer
	fields []fieldSpec
}

// constructible reports whether t can be built by field injection: a struct,
// or pointer to struct.
func constructible(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// analyzeStruct inspects a constructible type and collects its inject-tagged
// fields. Untagged fields are ignored entirely.
func analyzeStruct(t reflect.Type) (*structInfo, error) {
	info := &structInfo{typ: t}
	if t.Kind() == reflect.Ptr {
		info.ptr = true
		info.typ = t.Elem()
	}
	if info.typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct or pointer to struct", t)
	}

	for i := 0; i < info.typ.NumField(); i++ {
		field := info.typ.Field(i)
		tag, ok := field.Tag.Lookup(injectTag)
		if !ok {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("inject tag on unexported field %s.%s", info.typ, field.Name)
		}

		spec := fieldSpec{index: i, name: field.Name, typ: field.Type}
		for _, part := range strings.Split(tag, ",") {
			part = strings.TrimSpace(part)
			switch {
			case part == "":
				// bare `inject:""`: required, by type
			case part == "optional":
				spec.optional = true
			case strings.HasPrefix(part, "tag="):
				spec.tag = strings.TrimPrefix(part, "tag=")
				spec.hasTag = true
			default:
				return nil, fmt.Errorf("field %s.%s: unknown inject directive %q", info.typ, field.Name, part)
			}
		}
		info.fields = append(info.fields, spec)
	}

	return info, nil
}
