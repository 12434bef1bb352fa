package cask

import (
	"reflect"
	"sort"
)

// DescriptorInfo is a read-only view of one registration.
type DescriptorInfo struct {
	Key         Key
	Reuse       Reuse
	ScopeName   string
	Order       int64
	Source      string // "factory", "instance", or "type"
	Conditional bool
	Decorator   bool
	Derived     bool
	Metadata    any
}

// DescriptorQuery defines criteria for listing registrations.
// Zero-valued fields match everything.
type DescriptorQuery struct {
	// Type filters by exact service type. nil matches all types.
	Type reflect.Type

	// Tag filters by tag. nil matches all tags, including untagged.
	Tag any

	// Reuse filters by reuse policy. nil matches all policies.
	Reuse *Reuse

	// Scope filters ScopedWithin registrations by their anchor scope name.
	// Empty string matches all.
	Scope string

	// Conditional filters by whether a registration carries a condition.
	// nil matches all.
	Conditional *bool

	// IncludeDecorators also lists decorator registrations.
	IncludeDecorators bool

	// IncludeDerived also lists descriptors materialized during resolution:
	// template specializations and auto-wired structs.
	IncludeDerived bool
}

func (q DescriptorQuery) matches(d *Descriptor) bool {
	if q.Type != nil && d.key.Type != q.Type {
		return false
	}
	if q.Tag != nil && d.key.Tag != q.Tag {
		return false
	}
	if q.Reuse != nil && d.reuse != *q.Reuse {
		return false
	}
	if q.Scope != "" && d.scopeName != q.Scope {
		return false
	}
	if q.Conditional != nil && (d.condition != nil) != *q.Conditional {
		return false
	}
	return true
}

// Query returns information about registrations matching the criteria,
// ordered by registration sequence.
//
// Example:
//
//	// All scoped registrations for Database.
//	scoped := cask.Scoped
//	infos := cask.Query(c, cask.DescriptorQuery{
//	    Type:  cask.TypeOf[Database](),
//	    Reuse: &scoped,
//	})
func Query(c *Container, q DescriptorQuery) []DescriptorInfo {
	snap := c.registry.snap()

	var out []DescriptorInfo
	for _, list := range snap.providers {
		for _, d := range list {
			if q.matches(d) {
				out = append(out, infoOf(d))
			}
		}
	}
	if q.IncludeDecorators {
		for _, list := range snap.decorators {
			for _, d := range list {
				if q.matches(d) {
					out = append(out, infoOf(d))
				}
			}
		}
	}
	if q.IncludeDerived {
		snap.derived.Range(func(_, v any) bool {
			if d := v.(*Descriptor); q.matches(d) {
				out = append(out, infoOf(d))
			}
			return true
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// FindByReuse returns all registrations with the given reuse policy.
func FindByReuse(c *Container, r Reuse) []DescriptorInfo {
	return Query(c, DescriptorQuery{Reuse: &r})
}

// FindByType returns all registrations for a service type, any tag.
func FindByType(c *Container, serviceType reflect.Type) []DescriptorInfo {
	return Query(c, DescriptorQuery{Type: serviceType})
}

// FindGrouped returns the type's registrations bucketed by tag, each bucket
// in registration order. Untagged registrations appear under the nil tag.
func FindGrouped(c *Container, serviceType reflect.Type) map[any][]DescriptorInfo {
	buckets := c.registry.snap().grouped(serviceType)

	out := make(map[any][]DescriptorInfo, len(buckets))
	for tag, list := range buckets {
		infos := make([]DescriptorInfo, 0, len(list))
		for _, d := range list {
			infos = append(infos, infoOf(d))
		}
		out[tag] = infos
	}
	return out
}

// FindConditional returns all registrations guarded by a condition.
func FindConditional(c *Container) []DescriptorInfo {
	cond := true
	return Query(c, DescriptorQuery{Conditional: &cond})
}

// Descriptors returns every provider registration in registration order.
func (c *Container) Descriptors() []DescriptorInfo {
	return Query(c, DescriptorQuery{})
}

// Inspect returns the registrations covering a service type, including the
// untagged candidates a tagged request would fall back to. Descriptors are
// returned in registration order; decorators are not included.
func (c *Container) Inspect(serviceType reflect.Type, opts ...ResolveOption) []DescriptorInfo {
	key, _ := buildRequest(serviceType, opts)
	snap := c.registry.snap()

	var out []DescriptorInfo
	for _, d := range snap.lookup(key) {
		out = append(out, infoOf(d))
	}
	if key.Tag != nil {
		for _, d := range snap.lookup(key.Untagged()) {
			out = append(out, infoOf(d))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func infoOf(d *Descriptor) DescriptorInfo {
	return DescriptorInfo{
		Key:         d.key,
		Reuse:       d.reuse,
		ScopeName:   d.scopeName,
		Order:       d.order,
		Source:      d.source.String(),
		Conditional: d.condition != nil,
		Decorator:   d.decorator,
		Derived:     d.derived,
		Metadata:    d.metadata,
	}
}
