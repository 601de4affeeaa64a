package workers

import "sync"

// attrCache is a bounded cache indexed both by key and by an opaque
// "attribute" each entry is filed under. Eviction drops every entry
// filed under one attribute at once, rather than by individual
// recency — the cache warmer uses the originating block number (as a
// string) as the attribute, so indexing a new block can cheaply evict
// everything a fixed window behind it. A recency-based LRU doesn't fit
// this eviction rule (it evicts whatever's oldest one key at a time,
// not "everything from block N-K"), so this stays a plain map pair
// rather than reaching for the LRU library used elsewhere in this
// module.
type attrCache[V any] struct {
	mu       sync.RWMutex
	maxCount int
	values   map[string]V
	byAttr   map[string][]string
}

// newAttrCache builds a cache with the given bound. maxCount == 0
// disables the cache entirely (Add is a no-op); a negative maxCount
// means unbounded (callers never evict).
func newAttrCache[V any](maxCount int) *attrCache[V] {
	return &attrCache[V]{
		maxCount: maxCount,
		values:   make(map[string]V),
		byAttr:   make(map[string][]string),
	}
}

func (c *attrCache[V]) disabled() bool { return c.maxCount == 0 }

// Add files value under key, tagged with attribute.
func (c *attrCache[V]) Add(key, attribute string, value V) {
	if c.disabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.byAttr[attribute] = append(c.byAttr[attribute], key)
}

// Get returns the value filed under key, if present.
func (c *attrCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Evict drops every entry filed under attribute.
func (c *attrCache[V]) Evict(attribute string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.byAttr[attribute]
	if !ok {
		return
	}
	for _, k := range keys {
		delete(c.values, k)
	}
	delete(c.byAttr, attribute)
}

// Len reports the number of values currently cached.
func (c *attrCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
