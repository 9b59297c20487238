// Package persist flushes guild caches to durable storage and loads them
// back. It defines the per-guild load → mutate → save lifecycle on top of a
// [RowStore], with a PostgreSQL implementation and an in-memory one for
// tests and single-node runs.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/wardstone-rpg/wardstone/internal/world"
)

// ErrStorageUnavailable wraps connection-level storage failures. A load that
// fails with it aborts guild activation; a save that fails with it leaves
// the dirty and deleted sets intact so the next cycle retries.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Row is one persisted entity, keyed by (guild ID, entity ID). Data holds
// the JSON-encoded entity.
type Row struct {
	GuildID   string
	ID        string
	Kind      world.Kind
	Data      []byte
	UpdatedAt time.Time
}

// RowStore is the durable storage contract consumed by [Coordinator].
//
// UpsertBatch must fully replace existing rows (not merge) so that a
// redundant re-flush after a crash is idempotent. DeleteBatch must treat
// already-absent IDs as deleted.
type RowStore interface {
	// LoadGuild returns every persisted row of the given kind for the guild.
	LoadGuild(ctx context.Context, guildID string, kind world.Kind) ([]Row, error)

	// UpsertBatch inserts or fully replaces the given rows.
	UpsertBatch(ctx context.Context, rows []Row) error

	// DeleteBatch removes the rows with the given IDs from the guild.
	DeleteBatch(ctx context.Context, guildID string, kind world.Kind, ids []string) error
}
