package genreq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the generation_requests table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment. The table
// is append-mostly: rows are created and transitioned, never deleted.
const Schema = `
CREATE TABLE IF NOT EXISTS generation_requests (
    id              TEXT PRIMARY KEY,
    guild_id        TEXT NOT NULL,
    request_type    TEXT NOT NULL,
    status          TEXT NOT NULL,
    created_by      TEXT NOT NULL DEFAULT '',
    params          JSONB NOT NULL DEFAULT '{}',
    raw_output      TEXT NOT NULL DEFAULT '',
    parsed_data     JSONB,
    issues          JSONB NOT NULL DEFAULT '[]',
    moderator_id    TEXT NOT NULL DEFAULT '',
    moderator_notes TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    moderated_at    TIMESTAMPTZ,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_generation_requests_guild_status
    ON generation_requests(guild_id, status);
CREATE INDEX IF NOT EXISTS idx_generation_requests_guild_type_status
    ON generation_requests(guild_id, request_type, status);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] using the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("genreq: migrate: %w", err)
	}
	return nil
}

// Create implements [Store.Create].
func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	if req.ID == "" || req.GuildID == "" {
		return fmt.Errorf("genreq: create: id and guild_id are required")
	}
	if !req.Type.IsValid() {
		return fmt.Errorf("genreq: create: request type %q is invalid", req.Type)
	}

	params := req.Params
	if params == nil {
		params = []byte("{}")
	}

	const query = `
		INSERT INTO generation_requests (id, guild_id, request_type, status, created_by, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	req.Status = StatusPendingValidation
	err := s.db.QueryRow(ctx, query,
		req.ID, req.GuildID, string(req.Type), string(req.Status), req.CreatedBy, params,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("genreq: create: request %q already exists", req.ID)
		}
		return fmt.Errorf("genreq: create: %w", err)
	}
	return nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	const query = selectColumns + ` FROM generation_requests WHERE id = $1`

	req, err := scanRequest(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("genreq: get %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("genreq: get %q: %w", id, err)
	}
	return req, nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Request, error) {
	if f.GuildID == "" {
		return nil, fmt.Errorf("genreq: list: guild_id is required")
	}

	query := selectColumns + ` FROM generation_requests WHERE guild_id = $1`
	args := []any{f.GuildID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		query += ` AND status = ` + next(string(f.Status))
	}
	if f.Type != "" {
		query += ` AND request_type = ` + next(string(f.Type))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + next(f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("genreq: list: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("genreq: list scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("genreq: list: %w", err)
	}
	return out, nil
}

// SetRawOutput implements [Store.SetRawOutput].
func (s *PostgresStore) SetRawOutput(ctx context.Context, id string, raw string) error {
	const query = `
		UPDATE generation_requests SET raw_output = $2, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("genreq: set raw output %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("genreq: set raw output %q: %w", id, ErrNotFound)
	}
	return nil
}

// Transition implements [Store.Transition]. The status guard in the WHERE
// clause makes the transition atomic: of two racing transitions on the same
// request, at most one matches the stored status.
func (s *PostgresStore) Transition(ctx context.Context, id string, from, to Status, upd Update) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("genreq: transition %q: %s → %s: %w", id, from, to, ErrInvalidTransition)
	}

	issuesJSON, err := json.Marshal(emptyIssues(upd.Issues))
	if err != nil {
		return fmt.Errorf("genreq: marshal issues: %w", err)
	}

	const query = `
		UPDATE generation_requests SET
			status = $3,
			raw_output = COALESCE($4, raw_output),
			parsed_data = COALESCE($5, parsed_data),
			issues = CASE WHEN $6 THEN $7::jsonb ELSE issues END,
			moderator_id = COALESCE($8, moderator_id),
			moderator_notes = COALESCE($9, moderator_notes),
			moderated_at = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN now() ELSE moderated_at END,
			updated_at = now()
		WHERE id = $1 AND status = $2`

	tag, err := s.db.Exec(ctx, query,
		id, string(from), string(to),
		upd.RawOutput, upd.ParsedData, upd.Issues != nil, issuesJSON,
		upd.ModeratorID, upd.ModeratorNotes,
	)
	if err != nil {
		return fmt.Errorf("genreq: transition %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing request from a status conflict.
		cur, getErr := s.Get(ctx, id)
		if getErr != nil {
			return fmt.Errorf("genreq: transition %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("genreq: transition %q: status is %s, not %s: %w", id, cur.Status, from, ErrInvalidTransition)
	}
	return nil
}

const selectColumns = `
	SELECT id, guild_id, request_type, status, created_by, params,
	       raw_output, parsed_data, issues, moderator_id, moderator_notes,
	       created_at, moderated_at, updated_at`

// scanRequest reads one request row. Works for both pgx.Row and pgx.Rows.
func scanRequest(row pgx.Row) (*Request, error) {
	var (
		req        Request
		typ, st    string
		issuesJSON []byte
		moderated  *time.Time
	)
	err := row.Scan(
		&req.ID, &req.GuildID, &typ, &st, &req.CreatedBy, &req.Params,
		&req.RawOutput, &req.ParsedData, &issuesJSON, &req.ModeratorID, &req.ModeratorNotes,
		&req.CreatedAt, &moderated, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Type = Type(typ)
	req.Status = Status(st)
	if moderated != nil {
		req.ModeratedAt = *moderated
	}
	if err := json.Unmarshal(issuesJSON, &req.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal issues: %w", err)
	}
	return &req, nil
}

// emptyIssues returns s if non-nil, otherwise an empty non-nil slice so
// marshalling produces "[]" instead of "null".
func emptyIssues(s []Issue) []Issue {
	if s == nil {
		return []Issue{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
