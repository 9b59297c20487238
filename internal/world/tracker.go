package world

import (
	"sync"
)

// Tracker records which entity IDs have changed or been removed per guild
// since the last successful flush. It drives incremental persistence: the
// coordinator deletes everything in the deleted set, upserts everything in
// the dirty set, and forgets only the IDs it actually flushed.
//
// Invariants maintained here:
//   - an ID marked deleted is removed from the dirty set, so a delete is
//     never shadowed by a stale upsert;
//   - marking an ID dirty after it was marked deleted (a re-create) clears
//     the pending deletion.
//
// All methods are safe for concurrent use. The zero value is ready to use.
//
// Each dirty mark carries a generation counter bumped on every MarkDirty.
// [Tracker.ForgetDirty] only drops a mark whose generation still matches the
// caller's snapshot, so an entity mutated while a flush was writing its
// previous state stays staged for the next cycle.
type Tracker struct {
	mu      sync.Mutex
	dirty   map[string]map[string]uint64
	deleted map[string]map[string]struct{}
}

// NewTracker returns an initialised [Tracker].
func NewTracker() *Tracker {
	return &Tracker{
		dirty:   make(map[string]map[string]uint64),
		deleted: make(map[string]map[string]struct{}),
	}
}

// MarkDirty stages an entity for upsert at the next flush. Any pending
// deletion of the same ID is discarded. Re-marking an already dirty ID bumps
// its generation so an in-flight flush cannot forget the newer state.
func (t *Tracker) MarkDirty(guildID, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.deleted[guildID], id)
	if t.dirty == nil {
		t.dirty = make(map[string]map[string]uint64)
	}
	g := t.dirty[guildID]
	if g == nil {
		g = make(map[string]uint64)
		t.dirty[guildID] = g
	}
	g[id]++
}

// MarkDeleted stages an entity for deletion at the next flush and discards
// any pending upsert of the same ID.
func (t *Tracker) MarkDeleted(guildID, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.dirty[guildID], id)
	addTo(&t.deleted, guildID, id)
}

// Dirty returns a snapshot of the IDs staged for upsert in the given guild.
func (t *Tracker) Dirty(guildID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return keys(t.dirty[guildID])
}

// SnapshotDirty returns the guild's dirty IDs together with each mark's
// current generation. A flush takes the snapshot, writes those entities, and
// hands the same snapshot back to [Tracker.ForgetDirty].
func (t *Tracker) SnapshotDirty(guildID string) map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]uint64, len(t.dirty[guildID]))
	for id, gen := range t.dirty[guildID] {
		snap[id] = gen
	}
	return snap
}

// Deleted returns a snapshot of the IDs staged for deletion in the given guild.
func (t *Tracker) Deleted(guildID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return keys(t.deleted[guildID])
}

// IsDirty reports whether the ID is currently staged for upsert.
func (t *Tracker) IsDirty(guildID, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.dirty[guildID][id]
	return ok
}

// ForgetDirty drops dirty marks after a successful flush. A mark is removed
// only when its generation still matches the snapshot: an entity re-marked
// while the flush was in flight keeps its newer mark and is written again
// next cycle.
func (t *Tracker) ForgetDirty(guildID string, snap map[string]uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, gen := range snap {
		if t.dirty[guildID][id] == gen {
			delete(t.dirty[guildID], id)
		}
	}
}

// ForgetDeleted removes the given IDs from the guild's deleted set after a
// successful flush.
func (t *Tracker) ForgetDeleted(guildID string, ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		delete(t.deleted[guildID], id)
	}
}

// Clear drops all staged IDs for the given guild. Used on guild (re)load.
func (t *Tracker) Clear(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.dirty, guildID)
	delete(t.deleted, guildID)
}

// Guilds returns the IDs of all guilds with at least one staged change.
func (t *Tracker) Guilds() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{})
	for g, ids := range t.dirty {
		if len(ids) > 0 {
			seen[g] = struct{}{}
		}
	}
	for g, ids := range t.deleted {
		if len(ids) > 0 {
			seen[g] = struct{}{}
		}
	}
	return keys(seen)
}

func addTo(sets *map[string]map[string]struct{}, guildID, id string) {
	if *sets == nil {
		*sets = make(map[string]map[string]struct{})
	}
	s := (*sets)[guildID]
	if s == nil {
		s = make(map[string]struct{})
		(*sets)[guildID] = s
	}
	s[id] = struct{}{}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
