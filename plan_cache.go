package cask

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultPlanCacheSize bounds the number of compiled plans kept per snapshot.
const defaultPlanCacheSize = 1024

// shape distinguishes call-site variants that compile to different plans for
// the same key.
type shape uint8

const (
	shapeDefault     shape = 0
	shapeUndecorated shape = 1 << 0 // decorator bypass requested
	shapeAll         shape = 1 << 1 // one element per matching descriptor
)

// planKey addresses one compiled plan: the requested key plus the call-site
// shape.
type planKey struct {
	key   Key
	shape shape
}

// planCache memoizes compiled plans for one registry snapshot. Entries never
// outlive the snapshot: any registry mutation publishes a new snapshot with
// an empty cache, so stale plans are unreachable rather than invalidated.
type planCache struct {
	entries *lru.Cache[planKey, *plan]
}

func newPlanCache(size int) *planCache {
	if size < 1 {
		return &planCache{}
	}
	entries, err := lru.New[planKey, *plan](size)
	if err != nil {
		return &planCache{}
	}
	return &planCache{entries: entries}
}

func (c *planCache) get(k planKey) (*plan, bool) {
	if c.entries == nil {
		return nil, false
	}
	return c.entries.Get(k)
}

// put publishes a freshly compiled plan. When two resolvers race to compile
// the same shape, the first insert wins; a loser gets the committed plan
// back and its own copy is discarded, keeping every caller on one shared
// plan.
func (c *planCache) put(k planKey, p *plan) *plan {
	if c.entries == nil {
		return p
	}
	if previous, ok, _ := c.entries.PeekOrAdd(k, p); ok {
		return previous
	}
	return p
}

func (c *planCache) len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}
