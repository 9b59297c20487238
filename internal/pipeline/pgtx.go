package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardstone-rpg/wardstone/internal/world"
)

// QuestSchema is the SQL DDL for quests and their ordered steps. Execute it
// via [PgxTxRunner.Migrate] or apply it manually during deployment.
const QuestSchema = `
CREATE TABLE IF NOT EXISTS quests (
    id                TEXT PRIMARY KEY,
    guild_id          TEXT NOT NULL,
    title             TEXT NOT NULL,
    synopsis          TEXT NOT NULL,
    giver_npc_id      TEXT NOT NULL DEFAULT '',
    source_request_id TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_quests_guild ON quests(guild_id);

CREATE TABLE IF NOT EXISTS quest_steps (
    quest_id    TEXT NOT NULL REFERENCES quests(id) ON DELETE CASCADE,
    ordinal     INT NOT NULL,
    title       TEXT NOT NULL,
    goal        TEXT NOT NULL,
    location_id TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (quest_id, ordinal)
);
`

// PgxTxRunner is a [TxRunner] backed by a pgx connection pool. Each RunInTx
// call is one database transaction; entity writes land in the same
// world_entities table the persistence layer flushes to, so a committed
// application is indistinguishable from a normal save.
type PgxTxRunner struct {
	pool *pgxpool.Pool
}

var _ TxRunner = (*PgxTxRunner)(nil)

// NewPgxTxRunner creates a [PgxTxRunner].
func NewPgxTxRunner(pool *pgxpool.Pool) *PgxTxRunner {
	return &PgxTxRunner{pool: pool}
}

// Migrate executes the [QuestSchema] DDL against the database.
func (r *PgxTxRunner) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, QuestSchema); err != nil {
		return fmt.Errorf("pipeline: migrate quest schema: %w", err)
	}
	return nil
}

// RunInTx implements [TxRunner].
func (r *PgxTxRunner) RunInTx(ctx context.Context, guildID string, fn func(EntityWriter) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgxWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pipeline: commit tx: %w", err)
	}
	return nil
}

// pgxWriter writes entities inside one transaction. World entities are
// upserted as full JSONB rows, matching the persistence layer's format, so
// re-applying after a crash between commit and the APPLIED status write is
// harmless.
type pgxWriter struct {
	tx pgx.Tx
}

var _ EntityWriter = (*pgxWriter)(nil)

const upsertEntity = `
	INSERT INTO world_entities (guild_id, id, kind, data, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (guild_id, id) DO UPDATE
	SET kind = EXCLUDED.kind, data = EXCLUDED.data, updated_at = now()`

func (w *pgxWriter) CreateLocation(ctx context.Context, loc world.Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("pipeline: encode location %q: %w", loc.ID, err)
	}
	if _, err := w.tx.Exec(ctx, upsertEntity, loc.GuildID, loc.ID, string(world.KindLocation), data); err != nil {
		return fmt.Errorf("pipeline: write location %q: %w", loc.ID, err)
	}
	return nil
}

func (w *pgxWriter) CreateNPC(ctx context.Context, n world.NPC) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pipeline: encode npc %q: %w", n.ID, err)
	}
	if _, err := w.tx.Exec(ctx, upsertEntity, n.GuildID, n.ID, string(world.KindNPC), data); err != nil {
		return fmt.Errorf("pipeline: write npc %q: %w", n.ID, err)
	}
	return nil
}

func (w *pgxWriter) CreateQuest(ctx context.Context, q QuestRecord) error {
	const query = `
		INSERT INTO quests (id, guild_id, title, synopsis, giver_npc_id, source_request_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	if _, err := w.tx.Exec(ctx, query,
		q.ID, q.GuildID, q.Title, q.Synopsis, q.GiverNPCID, q.SourceRequestID); err != nil {
		return fmt.Errorf("pipeline: write quest %q: %w", q.ID, err)
	}
	return nil
}

func (w *pgxWriter) CreateQuestSteps(ctx context.Context, steps []QuestStepRecord) error {
	for _, s := range steps {
		const query = `
			INSERT INTO quest_steps (quest_id, ordinal, title, goal, location_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (quest_id, ordinal) DO NOTHING`
		if _, err := w.tx.Exec(ctx, query,
			s.QuestID, s.Ordinal, s.Title, s.Goal, s.LocationID); err != nil {
			return fmt.Errorf("pipeline: write quest step %d of %q: %w", s.Ordinal, s.QuestID, err)
		}
	}
	return nil
}
