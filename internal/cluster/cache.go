package cluster

import (
	"sync"
	"time"
)

// Listener observes accepted attribute updates. It runs after the value is
// stored, on the goroutine that applied the update.
type Listener func(Report)

// AttributeCache is the per-cluster store of last-known attribute values.
type AttributeCache struct {
	mu        sync.RWMutex
	values    map[uint16]any
	updated   map[uint16]time.Time
	listeners []Listener
}

// NewAttributeCache creates an empty cache.
func NewAttributeCache() *AttributeCache {
	return &AttributeCache{
		values:  make(map[uint16]any),
		updated: make(map[uint16]time.Time),
	}
}

// Get returns the cached value of an attribute.
func (c *AttributeCache) Get(id uint16) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[id]
	return v, ok
}

// UpdatedAt returns when an attribute was last stored.
func (c *AttributeCache) UpdatedAt(id uint16) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.updated[id]
	return t, ok
}

// Apply stores the value and then notifies listeners.
func (c *AttributeCache) Apply(r Report) {
	c.mu.Lock()
	c.values[r.AttrID] = r.Value
	c.updated[r.AttrID] = time.Now()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(r)
	}
}

// ApplyIf stores r only when keep accepts the current value, deciding and
// storing under one lock so a concurrent update cannot slip in between.
// Listeners run as for Apply. It reports whether r was stored.
func (c *AttributeCache) ApplyIf(r Report, keep func(cur any, known bool) bool) bool {
	c.mu.Lock()
	cur, known := c.values[r.AttrID]
	if !keep(cur, known) {
		c.mu.Unlock()
		return false
	}
	c.values[r.AttrID] = r.Value
	c.updated[r.AttrID] = time.Now()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(r)
	}
	return true
}

// ForgetIf drops an attribute back to unknown if it still holds expect.
// Listeners are not notified.
func (c *AttributeCache) ForgetIf(id uint16, expect any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.values[id]; !ok || cur != expect {
		return false
	}
	delete(c.values, id)
	delete(c.updated, id)
	return true
}

// Listen registers a listener for every future update.
func (c *AttributeCache) Listen(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Snapshot returns a copy of all cached values.
func (c *AttributeCache) Snapshot() map[uint16]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint16]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Restore loads persisted values without notifying listeners.
func (c *AttributeCache) Restore(values map[uint16]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.values[k] = v
	}
}
