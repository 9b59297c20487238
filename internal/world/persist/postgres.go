package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wardstone-rpg/wardstone/internal/world"
)

// Schema is the SQL DDL for the world_entities table. Execute it via
// [PostgresRowStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS world_entities (
    guild_id   TEXT NOT NULL,
    id         TEXT NOT NULL,
    kind       TEXT NOT NULL,
    data       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (guild_id, id)
);
CREATE INDEX IF NOT EXISTS idx_world_entities_guild_kind ON world_entities(guild_id, kind);
`

// DB is the database interface used by [PostgresRowStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresRowStore is a [RowStore] backed by a PostgreSQL database. Entity
// payloads are stored as JSONB in a single world_entities table shared by all
// kinds, keyed by (guild_id, id).
type PostgresRowStore struct {
	db DB
}

// Compile-time interface check.
var _ RowStore = (*PostgresRowStore)(nil)

// NewPostgresRowStore creates a [PostgresRowStore] using the given database
// connection or pool. The caller is responsible for calling
// [PostgresRowStore.Migrate] before issuing queries.
func NewPostgresRowStore(db DB) *PostgresRowStore {
	return &PostgresRowStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresRowStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("persist: migrate: %w", err)
	}
	return nil
}

// LoadGuild implements [RowStore.LoadGuild]. A failure here is
// connection-level and wraps [ErrStorageUnavailable]: per-row problems do
// not exist at this layer because the payload is opaque bytes.
func (s *PostgresRowStore) LoadGuild(ctx context.Context, guildID string, kind world.Kind) ([]Row, error) {
	const query = `
		SELECT guild_id, id, kind, data, updated_at
		FROM world_entities
		WHERE guild_id = $1 AND kind = $2`

	rows, err := s.db.Query(ctx, query, guildID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("persist: load guild %q: %w: %w", guildID, ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var k string
		if err := rows.Scan(&r.GuildID, &r.ID, &k, &r.Data, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("persist: load guild %q scan: %w: %w", guildID, ErrStorageUnavailable, err)
		}
		r.Kind = world.Kind(k)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: load guild %q: %w: %w", guildID, ErrStorageUnavailable, err)
	}
	return out, nil
}

// UpsertBatch implements [RowStore.UpsertBatch]. Each row is fully replaced
// on conflict so re-flushing after a partial failure is idempotent. All rows
// are sent in a single batch round trip.
func (s *PostgresRowStore) UpsertBatch(ctx context.Context, batch []Row) error {
	if len(batch) == 0 {
		return nil
	}

	const query = `
		INSERT INTO world_entities (guild_id, id, kind, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (guild_id, id) DO UPDATE SET
			kind = EXCLUDED.kind,
			data = EXCLUDED.data,
			updated_at = now()`

	b := &pgx.Batch{}
	for _, r := range batch {
		b.Queue(query, r.GuildID, r.ID, string(r.Kind), r.Data)
	}

	res := s.db.SendBatch(ctx, b)
	defer res.Close()

	for range batch {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("persist: upsert batch: %w: %w", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// DeleteBatch implements [RowStore.DeleteBatch] with a single statement.
// Deleting IDs that are already gone is not an error.
func (s *PostgresRowStore) DeleteBatch(ctx context.Context, guildID string, kind world.Kind, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	const query = `
		DELETE FROM world_entities
		WHERE guild_id = $1 AND kind = $2 AND id = ANY($3)`

	if _, err := s.db.Exec(ctx, query, guildID, string(kind), ids); err != nil {
		return fmt.Errorf("persist: delete batch: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}
