package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wardstone-rpg/wardstone/internal/observe"
	"github.com/wardstone-rpg/wardstone/internal/world"
)

// DecodeFunc reconstructs an entity from its persisted JSON payload.
type DecodeFunc[E world.Entity] func(data []byte) (E, error)

// Coordinator owns the load → mutate → save lifecycle for one entity kind.
// It is the only component that touches both the in-memory side (cache +
// tracker) and the [RowStore].
//
// Flush semantics are at-least-once: a failed save leaves the dirty and
// deleted sets intact so the next cycle retries, and because upserts fully
// replace rows and deletes are idempotent, a redundant re-flush after a
// crash is harmless.
type Coordinator[E world.Entity] struct {
	kind    world.Kind
	cache   *world.Cache[E]
	tracker *world.Tracker
	rows    RowStore
	decode  DecodeFunc[E]
	logger  *slog.Logger
	metrics *observe.Metrics
}

// CoordinatorOption configures a [Coordinator].
type CoordinatorOption func(*coordinatorConfig)

type coordinatorConfig struct {
	logger  *slog.Logger
	metrics *observe.Metrics
}

// WithLogger sets the logger used for per-row warnings. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *coordinatorConfig) { c.logger = l }
}

// WithMetrics records flush durations and entity counts to m.
func WithMetrics(m *observe.Metrics) CoordinatorOption {
	return func(c *coordinatorConfig) { c.metrics = m }
}

// NewCoordinator creates a [Coordinator] for one entity kind. decode must
// reverse the entity's JSON encoding; a row it cannot decode is logged and
// skipped during [Coordinator.Load], never fatal to the whole load.
func NewCoordinator[E world.Entity](kind world.Kind, cache *world.Cache[E], tracker *world.Tracker, rows RowStore, decode DecodeFunc[E], opts ...CoordinatorOption) *Coordinator[E] {
	cfg := coordinatorConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Coordinator[E]{
		kind:    kind,
		cache:   cache,
		tracker: tracker,
		rows:    rows,
		decode:  decode,
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}
}

// Load activates a guild: it clears any pre-existing cache and tracker state
// for the guild, bulk-reads the persisted rows, and populates the cache.
//
// A row that fails to decode is logged and skipped. A read failure
// (connection-level, wraps [ErrStorageUnavailable]) is fatal and aborts the
// activation with the guild's state cleared.
//
// Passing an empty guild ID is a programming error and panics.
func (c *Coordinator[E]) Load(ctx context.Context, guildID string) error {
	mustGuild(guildID)

	// Defensive against stale re-activation: state from a previous life of
	// this guild must never shadow freshly loaded rows.
	c.cache.Clear(guildID)
	c.tracker.Clear(guildID)

	rows, err := c.rows.LoadGuild(ctx, guildID, c.kind)
	if err != nil {
		return fmt.Errorf("persist: activate guild %q: %w", guildID, err)
	}

	loaded := 0
	for _, r := range rows {
		e, err := c.decode(r.Data)
		if err != nil {
			c.logger.Warn("skipping malformed entity row",
				"guild_id", guildID, "entity_id", r.ID, "kind", c.kind, "err", err)
			continue
		}
		c.cache.Put(e)
		loaded++
	}

	c.logger.Debug("guild loaded",
		"guild_id", guildID, "kind", c.kind, "entities", loaded, "skipped", len(rows)-loaded)
	return nil
}

// Save flushes the guild's staged changes: deletions first (one batched
// statement), then upserts of every dirty entity still in the cache. Only
// when the whole cycle succeeds are the flushed marks forgotten; on failure
// both sets are left intact for the next cycle, and a mark refreshed by a
// concurrent mutation mid-flush survives even a successful cycle.
//
// Passing an empty guild ID is a programming error and panics.
func (c *Coordinator[E]) Save(ctx context.Context, guildID string) error {
	mustGuild(guildID)

	start := time.Now()

	deleted := c.tracker.Deleted(guildID)
	if len(deleted) > 0 {
		if err := c.rows.DeleteBatch(ctx, guildID, c.kind, deleted); err != nil {
			return fmt.Errorf("persist: save guild %q: %w", guildID, err)
		}
	}

	snap := c.tracker.SnapshotDirty(guildID)
	batch := make([]Row, 0, len(snap))
	flushed := make(map[string]uint64, len(snap))
	for id, gen := range snap {
		e, ok := c.cache.Get(guildID, id)
		if !ok {
			// Evicted without a delete mark; nothing to write.
			flushed[id] = gen
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			// Encoding can only fail for unmarshalable field types, which a
			// retry will never fix. Log and drop the mark.
			c.logger.Error("dropping unencodable entity from dirty set",
				"guild_id", guildID, "entity_id", id, "kind", c.kind, "err", err)
			flushed[id] = gen
			continue
		}
		batch = append(batch, Row{GuildID: guildID, ID: id, Kind: c.kind, Data: data})
		flushed[id] = gen
	}

	if err := c.rows.UpsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("persist: save guild %q: %w", guildID, err)
	}
	// Marks are forgotten only once the full cycle has succeeded, and only
	// at the generation that was flushed: an entity re-marked while the batch
	// was in flight stays staged for the next cycle.
	c.tracker.ForgetDeleted(guildID, deleted)
	c.tracker.ForgetDirty(guildID, flushed)

	if c.metrics != nil {
		c.metrics.RecordFlush(ctx, string(c.kind), len(batch), len(deleted), time.Since(start))
	}
	c.logger.Debug("guild flushed",
		"guild_id", guildID, "kind", c.kind, "upserted", len(batch), "deleted", len(deleted))
	return nil
}

// SaveAll flushes every guild with staged changes, one goroutine per guild.
// Guilds share no mutable state, so the flushes are independent; the first
// error cancels the remaining ones and is returned.
func (c *Coordinator[E]) SaveAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, guildID := range c.tracker.Guilds() {
		g.Go(func() error {
			return c.Save(ctx, guildID)
		})
	}
	return g.Wait()
}

func mustGuild(guildID string) {
	if guildID == "" {
		panic("persist: guild ID must not be empty")
	}
}
