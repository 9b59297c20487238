package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/similarity"
	"github.com/wardstone-rpg/wardstone/internal/world"
)

// QuestRecord is a quest row as written during application. Quests are
// relational rather than cached world entities: steps reference their quest
// and the quest references the request that produced it.
type QuestRecord struct {
	ID              string
	GuildID         string
	Title           string
	Synopsis        string
	GiverNPCID      string
	SourceRequestID string
}

// QuestStepRecord is one ordered step of a quest.
type QuestStepRecord struct {
	QuestID    string
	Ordinal    int
	Title      string
	Goal       string
	LocationID string
}

// EntityWriter is the write surface available inside an application
// transaction. Every write either all commits or all rolls back.
type EntityWriter interface {
	CreateLocation(ctx context.Context, loc world.Location) error
	CreateNPC(ctx context.Context, n world.NPC) error
	CreateQuest(ctx context.Context, q QuestRecord) error
	CreateQuestSteps(ctx context.Context, steps []QuestStepRecord) error
}

// TxRunner runs fn inside a single transaction. If fn returns an error the
// transaction is rolled back and no write is visible.
type TxRunner interface {
	RunInTx(ctx context.Context, guildID string, fn func(EntityWriter) error) error
}

// Installer places committed entities into the live in-memory world. The
// rows are already durable when Install is called, so installed entities
// must not be marked dirty.
type Installer interface {
	InstallLocation(loc world.Location)
	InstallNPC(n world.NPC)
}

// Transactor turns an approved request's payload into live game data. All
// entity writes for one request happen in a single transaction; a partial
// application is never visible.
type Transactor struct {
	requests  genreq.Store
	tx        TxRunner
	installer Installer
	index     similarity.Index
	holder    Holder
	logger    *slog.Logger
	newID     func() string
}

// TransactorConfig wires a [Transactor]. Requests, Tx and Installer are
// required.
type TransactorConfig struct {
	Requests  genreq.Store
	Tx        TxRunner
	Installer Installer
	Index     similarity.Index
	Holder    Holder
	Logger    *slog.Logger

	// NewID overrides entity ID generation, for tests.
	NewID func() string
}

// NewTransactor creates a transactor.
func NewTransactor(cfg TransactorConfig) *Transactor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Transactor{
		requests:  cfg.Requests,
		tx:        cfg.Tx,
		installer: cfg.Installer,
		index:     cfg.Index,
		holder:    cfg.Holder,
		logger:    cfg.Logger,
		newID:     cfg.NewID,
	}
}

var _ Applier = (*Transactor)(nil)

// Apply commits the approved request's content. It fails fast unless the
// request is currently APPROVED with a validated payload, so a request can
// never be applied twice.
//
// On transaction failure the request moves to APPLICATION_FAILED with the
// cause recorded, and can be re-driven manually after the fault is fixed.
// The APPLIED status write happens after the commit; a crash in between
// leaves an APPROVED request whose rows already exist, which the idempotent
// writes make safe to re-apply.
func (t *Transactor) Apply(ctx context.Context, requestID string) error {
	req, err := t.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("pipeline: apply: %w", err)
	}
	if req.Status != genreq.StatusApproved {
		return fmt.Errorf("pipeline: apply: request %s is %s, not %s: %w",
			requestID, req.Status, genreq.StatusApproved, genreq.ErrInvalidTransition)
	}
	if len(req.ParsedData) == 0 {
		return fmt.Errorf("pipeline: apply: request %s has no validated payload", requestID)
	}
	payload, err := DecodePayload(req.Type, req.ParsedData)
	if err != nil {
		return t.fail(ctx, req, fmt.Errorf("pipeline: apply: decode payload: %w", err))
	}

	install, txErr := t.write(ctx, req, payload)
	if txErr != nil {
		return t.fail(ctx, req, fmt.Errorf("pipeline: apply: %w", txErr))
	}

	err = t.requests.Transition(ctx, req.ID,
		genreq.StatusApproved, genreq.StatusApplied, genreq.Update{})
	if err != nil {
		return fmt.Errorf("pipeline: apply: mark applied: %w", err)
	}

	install()

	if t.index != nil {
		if err := t.index.Add(ctx, similarity.Entry{
			RequestID: req.ID,
			GuildID:   req.GuildID,
			Summary:   payload.Summary(),
		}); err != nil {
			t.logger.Warn("similarity indexing failed",
				"request_id", req.ID, "error", err)
		}
	}
	if t.holder != nil {
		t.holder.ReleaseHold(req.GuildID, req.ID)
	}
	return nil
}

// write runs the per-type entity writes in one transaction and returns the
// cache install step to run after the request is marked APPLIED.
func (t *Transactor) write(ctx context.Context, req *genreq.Request, payload Payload) (func(), error) {
	switch p := payload.(type) {
	case NPCProfile:
		n := world.NPC{
			ID:          t.newID(),
			GuildID:     req.GuildID,
			Name:        p.Name,
			Persona:     p.Persona,
			Disposition: p.Disposition,
			LocationID:  p.LocationID,
			Stats:       p.Stats,
		}
		err := t.tx.RunInTx(ctx, req.GuildID, func(w EntityWriter) error {
			return w.CreateNPC(ctx, n)
		})
		if err != nil {
			return nil, err
		}
		return func() { t.installer.InstallNPC(n) }, nil

	case LocationContent:
		loc := world.Location{
			ID:          t.newID(),
			GuildID:     req.GuildID,
			Name:        p.Name,
			Description: p.Description,
			Region:      p.Region,
			Exits:       p.Exits,
		}
		residents := make([]world.NPC, len(p.Residents))
		for i, seed := range p.Residents {
			residents[i] = world.NPC{
				ID:         t.newID(),
				GuildID:    req.GuildID,
				Name:       seed.Name,
				Persona:    seed.Persona,
				LocationID: loc.ID,
			}
		}
		err := t.tx.RunInTx(ctx, req.GuildID, func(w EntityWriter) error {
			if err := w.CreateLocation(ctx, loc); err != nil {
				return err
			}
			for _, n := range residents {
				if err := w.CreateNPC(ctx, n); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return func() {
			t.installer.InstallLocation(loc)
			for _, n := range residents {
				t.installer.InstallNPC(n)
			}
		}, nil

	case Quest:
		q := QuestRecord{
			ID:              t.newID(),
			GuildID:         req.GuildID,
			Title:           p.Title,
			Synopsis:        p.Synopsis,
			GiverNPCID:      p.GiverNPCID,
			SourceRequestID: req.ID,
		}
		steps := make([]QuestStepRecord, len(p.Steps))
		for i, s := range p.Steps {
			steps[i] = QuestStepRecord{
				QuestID:    q.ID,
				Ordinal:    i + 1,
				Title:      s.Title,
				Goal:       s.Goal,
				LocationID: s.LocationID,
			}
		}
		err := t.tx.RunInTx(ctx, req.GuildID, func(w EntityWriter) error {
			if err := w.CreateQuest(ctx, q); err != nil {
				return err
			}
			return w.CreateQuestSteps(ctx, steps)
		})
		if err != nil {
			return nil, err
		}
		return func() {}, nil

	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
}

// fail moves the request to APPLICATION_FAILED with the cause recorded, then
// returns cause.
func (t *Transactor) fail(ctx context.Context, req *genreq.Request, cause error) error {
	issues := append(append([]genreq.Issue(nil), req.Issues...), genreq.Issue{
		Location: "application",
		Kind:     genreq.KindApplication,
		Message:  cause.Error(),
	})
	err := t.requests.Transition(ctx, req.ID,
		genreq.StatusApproved, genreq.StatusApplicationFailed,
		genreq.Update{Issues: issues})
	if err != nil {
		t.logger.Error("recording application failure failed",
			"request_id", req.ID, "error", err)
	}
	if t.holder != nil {
		t.holder.ReleaseHold(req.GuildID, req.ID)
	}
	return cause
}
