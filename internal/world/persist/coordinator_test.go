package persist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wardstone-rpg/wardstone/internal/world"
)

func decodeLocation(data []byte) (world.Location, error) {
	var loc world.Location
	err := json.Unmarshal(data, &loc)
	return loc, err
}

func newTestCoordinator(rows RowStore) (*Coordinator[world.Location], *world.Cache[world.Location], *world.Tracker) {
	cache := world.NewCache[world.Location]()
	tracker := world.NewTracker()
	c := NewCoordinator(world.KindLocation, cache, tracker, rows, decodeLocation)
	return c, cache, tracker
}

func putLocation(cache *world.Cache[world.Location], tracker *world.Tracker, guildID, id, name string) {
	cache.Put(world.Location{ID: id, GuildID: guildID, Name: name})
	tracker.MarkDirty(guildID, id)
}

func TestCoordinator_SaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")
	putLocation(cache, tracker, "g1", "l2", "Citadel")

	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := store.Len("g1"); got != 2 {
		t.Fatalf("stored rows = %d, want 2", got)
	}
	if len(tracker.Dirty("g1")) != 0 {
		t.Error("dirty set not emptied after successful save")
	}

	// A fresh coordinator over the same store sees the same entities.
	c2, cache2, _ := newTestCoordinator(store)
	if err := c2.Load(ctx, "g1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := cache2.Get("g1", "l1")
	if !ok || got.Name != "Harbor" {
		t.Errorf("loaded l1 = %+v, ok=%v; want Harbor", got, ok)
	}
	if cache2.Len("g1") != 2 {
		t.Errorf("loaded %d entities, want 2", cache2.Len("g1"))
	}
}

func TestCoordinator_DeletedEntityAbsentAfterReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cache.Remove("g1", "l1")
	tracker.MarkDeleted("g1", "l1")
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("Save after delete: %v", err)
	}

	if err := c.Load(ctx, "g1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cache.Get("g1", "l1"); ok {
		t.Error("deleted entity reappeared after reload")
	}
}

func TestCoordinator_FailedSaveKeepsStagedChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")
	store.UpsertErr = errors.New("connection reset")

	err := c.Save(ctx, "g1")
	if err == nil {
		t.Fatal("Save succeeded despite upsert failure")
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("error %v does not wrap ErrStorageUnavailable", err)
	}
	if !tracker.IsDirty("g1", "l1") {
		t.Error("dirty mark lost after failed save; retry would miss the entity")
	}

	// Next cycle succeeds and drains the set.
	store.UpsertErr = nil
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("retry Save: %v", err)
	}
	if tracker.IsDirty("g1", "l1") {
		t.Error("dirty mark kept after successful retry")
	}
	if store.Len("g1") != 1 {
		t.Errorf("stored rows = %d, want 1", store.Len("g1"))
	}
}

func TestCoordinator_FailedDeleteKeepsDeletedSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cache.Remove("g1", "l1")
	tracker.MarkDeleted("g1", "l1")
	store.DeleteErr = errors.New("connection reset")

	if err := c.Save(ctx, "g1"); err == nil {
		t.Fatal("Save succeeded despite delete failure")
	}
	if len(tracker.Deleted("g1")) != 1 {
		t.Error("deleted mark lost after failed save")
	}

	store.DeleteErr = nil
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("retry Save: %v", err)
	}
	if store.Len("g1") != 0 {
		t.Errorf("stored rows = %d, want 0", store.Len("g1"))
	}
}

// hookedRowStore runs a callback before delegating an upsert, so tests can
// interleave cache mutations with an in-flight flush.
type hookedRowStore struct {
	*MemRowStore
	beforeUpsert func()
}

func (s *hookedRowStore) UpsertBatch(ctx context.Context, batch []Row) error {
	if s.beforeUpsert != nil {
		s.beforeUpsert()
	}
	return s.MemRowStore.UpsertBatch(ctx, batch)
}

func TestCoordinator_MutationDuringFlushStaysDirty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &hookedRowStore{MemRowStore: NewMemRowStore()}
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")

	// An update lands while the flush is writing the previous state: the
	// flushed bytes predate the mutation, so the mark must survive.
	store.beforeUpsert = func() {
		cache.Put(world.Location{ID: "l1", GuildID: "g1", Name: "Harbor, Rebuilt"})
		tracker.MarkDirty("g1", "l1")
	}
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !tracker.IsDirty("g1", "l1") {
		t.Fatal("mark added during flush was lost; cache and storage diverge")
	}

	store.beforeUpsert = nil
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if tracker.IsDirty("g1", "l1") {
		t.Error("entity still dirty after flushing the newer state")
	}
	rows, err := store.LoadGuild(ctx, "g1", world.KindLocation)
	if err != nil {
		t.Fatalf("LoadGuild: %v", err)
	}
	loc, err := decodeLocation(rows[0].Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loc.Name != "Harbor, Rebuilt" {
		t.Errorf("stored name = %q, want the post-flush mutation", loc.Name)
	}
}

func TestCoordinator_FailedUpsertKeepsDeletedSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")
	putLocation(cache, tracker, "g1", "l2", "Citadel")
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cache.Remove("g1", "l1")
	tracker.MarkDeleted("g1", "l1")
	putLocation(cache, tracker, "g1", "l2", "Citadel, Besieged")
	store.UpsertErr = errors.New("connection reset")

	if err := c.Save(ctx, "g1"); err == nil {
		t.Fatal("Save succeeded despite upsert failure")
	}
	if len(tracker.Deleted("g1")) != 1 {
		t.Error("deleted mark forgotten before the cycle finished")
	}
	if !tracker.IsDirty("g1", "l2") {
		t.Error("dirty mark lost after failed save")
	}

	store.UpsertErr = nil
	if err := c.Save(ctx, "g1"); err != nil {
		t.Fatalf("retry Save: %v", err)
	}
	if store.Len("g1") != 1 {
		t.Errorf("stored rows = %d, want 1", store.Len("g1"))
	}
	if len(tracker.Deleted("g1")) != 0 || len(tracker.Dirty("g1")) != 0 {
		t.Error("staged sets not drained after successful retry")
	}
}

func TestCoordinator_LoadSkipsMalformedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	store.Put(Row{GuildID: "g1", ID: "good", Kind: world.KindLocation,
		Data: []byte(`{"id":"good","guild_id":"g1","name":"Harbor"}`)})
	store.Put(Row{GuildID: "g1", ID: "bad", Kind: world.KindLocation,
		Data: []byte(`{not json`)})

	c, cache, _ := newTestCoordinator(store)
	if err := c.Load(ctx, "g1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := cache.Get("g1", "good"); !ok {
		t.Error("well-formed row not loaded")
	}
	if _, ok := cache.Get("g1", "bad"); ok {
		t.Error("malformed row loaded")
	}
}

func TestCoordinator_LoadClearsStaleState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	// Stale in-memory state from a previous activation.
	putLocation(cache, tracker, "g1", "stale", "Ghost Town")

	if err := c.Load(ctx, "g1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cache.Get("g1", "stale"); ok {
		t.Error("stale entity survived reactivation")
	}
	if len(tracker.Dirty("g1")) != 0 {
		t.Error("stale dirty marks survived reactivation")
	}
}

func TestCoordinator_SaveAllFlushesEveryGuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemRowStore()
	c, cache, tracker := newTestCoordinator(store)

	putLocation(cache, tracker, "g1", "l1", "Harbor")
	putLocation(cache, tracker, "g2", "l2", "Citadel")

	if err := c.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if store.Len("g1") != 1 || store.Len("g2") != 1 {
		t.Errorf("stored rows g1=%d g2=%d, want 1 and 1", store.Len("g1"), store.Len("g2"))
	}
	if len(tracker.Guilds()) != 0 {
		t.Errorf("guilds with staged changes = %v, want none", tracker.Guilds())
	}
}

func TestCoordinator_EmptyGuildIDPanics(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestCoordinator(NewMemRowStore())

	defer func() {
		if recover() == nil {
			t.Error("Load with empty guild ID did not panic")
		}
	}()
	_ = c.Load(context.Background(), "")
}
