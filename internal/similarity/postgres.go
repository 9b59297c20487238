package similarity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/wardstone-rpg/wardstone/pkg/provider/embeddings"
)

// SchemaTemplate is the SQL DDL for the approved_content table. The vector
// dimension depends on the embedding model, so it is interpolated by
// [PostgresIndex.Migrate]. Requires the pgvector extension.
const SchemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS approved_content (
    request_id TEXT PRIMARY KEY,
    guild_id   TEXT NOT NULL,
    summary    TEXT NOT NULL,
    embedding  vector(%d) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approved_content_guild ON approved_content(guild_id);
CREATE INDEX IF NOT EXISTS idx_approved_content_embedding
    ON approved_content USING hnsw (embedding vector_cosine_ops);
`

// DB is the database interface used by [PostgresIndex]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ Index = (*PostgresIndex)(nil)

// PostgresIndex is an [Index] backed by a PostgreSQL table with a pgvector
// HNSW index for approximate nearest-neighbour search.
type PostgresIndex struct {
	db         DB
	embedder   embeddings.Provider
	dimensions int
}

// NewPostgresIndex creates a [PostgresIndex]. dimensions must match the
// embedder's output dimensionality.
func NewPostgresIndex(db DB, embedder embeddings.Provider, dimensions int) (*PostgresIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("similarity: dimensions must be positive, got %d", dimensions)
	}
	return &PostgresIndex{db: db, embedder: embedder, dimensions: dimensions}, nil
}

// Migrate executes the DDL for the approved_content table.
func (s *PostgresIndex) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(SchemaTemplate, s.dimensions)); err != nil {
		return fmt.Errorf("similarity: migrate: %w", err)
	}
	return nil
}

// Add implements [Index.Add].
func (s *PostgresIndex) Add(ctx context.Context, e Entry) error {
	vec, err := s.embedder.Embed(ctx, e.Summary)
	if err != nil {
		return fmt.Errorf("similarity: embed %q: %w", e.RequestID, err)
	}

	const query = `
		INSERT INTO approved_content (request_id, guild_id, summary, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			summary = EXCLUDED.summary,
			embedding = EXCLUDED.embedding`

	if _, err := s.db.Exec(ctx, query, e.RequestID, e.GuildID, e.Summary, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("similarity: index %q: %w", e.RequestID, err)
	}
	return nil
}

// Search implements [Index.Search]. Results are ordered by ascending cosine
// distance (most similar first).
func (s *PostgresIndex) Search(ctx context.Context, guildID, text string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed query: %w", err)
	}

	const query = `
		SELECT request_id, guild_id, summary, 1 - (embedding <=> $1) AS score
		FROM approved_content
		WHERE guild_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, pgvector.NewVector(vec), guildID, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity: search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.RequestID, &m.GuildID, &m.Summary, &m.Score); err != nil {
			return nil, fmt.Errorf("similarity: search scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity: search: %w", err)
	}
	return out, nil
}
