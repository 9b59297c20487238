package world

import (
	"sync"
)

// Cache is a guild-keyed in-memory store for one entity kind. It is pure
// bookkeeping: no call performs I/O, which is what lets every domain manager
// reuse it without coupling to storage.
//
// All methods are safe for concurrent use. The zero value is ready to use.
type Cache[E Entity] struct {
	mu     sync.RWMutex
	guilds map[string]map[string]E
}

// NewCache returns an initialised [Cache].
func NewCache[E Entity]() *Cache[E] {
	return &Cache[E]{guilds: make(map[string]map[string]E)}
}

// Get returns the entity with the given ID in the given guild. The second
// return value reports whether it was present.
func (c *Cache[E]) Get(guildID, id string) (E, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.guilds[guildID][id]
	return e, ok
}

// Put inserts or replaces an entity in its guild's cache. Callers mutating
// state must pair Put with [Tracker.MarkDirty].
func (c *Cache[E]) Put(e E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.guilds == nil {
		c.guilds = make(map[string]map[string]E)
	}
	g := c.guilds[e.Guild()]
	if g == nil {
		g = make(map[string]E)
		c.guilds[e.Guild()] = g
	}
	g[e.EntityID()] = e
}

// Remove deletes an entity from its guild's cache. Removing an absent entity
// is a no-op. Callers must pair Remove with [Tracker.MarkDeleted].
func (c *Cache[E]) Remove(guildID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.guilds[guildID], id)
}

// All returns every cached entity for the given guild, in no particular order.
func (c *Cache[E]) All(guildID string) []E {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g := c.guilds[guildID]
	out := make([]E, 0, len(g))
	for _, e := range g {
		out = append(out, e)
	}
	return out
}

// Len returns the number of cached entities for the given guild.
func (c *Cache[E]) Len(guildID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.guilds[guildID])
}

// Clear drops all cached entities for the given guild. Used when a guild is
// (re)activated so a stale cache never shadows freshly loaded rows.
func (c *Cache[E]) Clear(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.guilds, guildID)
}

// Guilds returns the IDs of all guilds that currently have at least one
// cached entity.
func (c *Cache[E]) Guilds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.guilds))
	for id, g := range c.guilds {
		if len(g) > 0 {
			out = append(out, id)
		}
	}
	return out
}
