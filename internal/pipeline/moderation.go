package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/observe"
	"github.com/wardstone-rpg/wardstone/internal/similarity"
)

// Notifier delivers a human-readable message to a moderation channel. The
// gate treats delivery as best effort: a failed notification is logged and
// the request stays queued regardless.
type Notifier interface {
	Notify(ctx context.Context, channelID, message string) error
}

// ChannelResolver maps a guild to its moderation channel ID. An empty return
// means the guild has no channel configured and no notification is sent.
type ChannelResolver func(guildID string) string

// Holder places and releases gameplay holds tied to a generation request.
// While a request is awaiting moderation the party that asked for it cannot
// act on the pending content; the hold is released when the request reaches
// a terminal state.
type Holder interface {
	HoldForModeration(guildID, partyID, requestID string) error
	ReleaseHold(guildID, requestID string)
}

// Applier commits an approved request's content into the live game data.
// Implemented by [Transactor].
type Applier interface {
	Apply(ctx context.Context, requestID string) error
}

// Gate is the human checkpoint between validated content and the live world.
// Nothing generated reaches game data without passing through it.
type Gate struct {
	requests genreq.Store
	applier  Applier
	notifier Notifier
	channel  ChannelResolver
	index    similarity.Index
	holder   Holder
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// GateConfig wires a [Gate]. Requests and Applier are required; everything
// else degrades gracefully when nil.
type GateConfig struct {
	Requests genreq.Store
	Applier  Applier
	Notifier Notifier
	Channel  ChannelResolver
	Index    similarity.Index
	Holder   Holder
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// NewGate creates a moderation gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		requests: cfg.Requests,
		applier:  cfg.Applier,
		notifier: cfg.Notifier,
		channel:  cfg.Channel,
		index:    cfg.Index,
		holder:   cfg.Holder,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Enqueue moves a validated request into the moderation queue, persisting
// the parsed payload and any non-blocking issues in the same transition. The
// moderation channel is notified afterwards, best effort.
func (g *Gate) Enqueue(ctx context.Context, req *genreq.Request, upd genreq.Update) error {
	err := g.requests.Transition(ctx, req.ID,
		genreq.StatusPendingValidation, genreq.StatusPendingModeration, upd)
	if err != nil {
		return fmt.Errorf("pipeline: enqueue for moderation: %w", err)
	}
	if g.metrics != nil {
		g.metrics.RecordModerationQueued(ctx, req.GuildID, 1)
	}
	g.notify(ctx, req.GuildID, fmt.Sprintf(
		"New %s content awaiting review (request %s, %d validation notes).",
		req.Type, req.ID, len(upd.Issues)))
	return nil
}

// ListPending returns the guild's moderation queue, newest first, capped at
// limit entries. A limit of 0 returns the whole queue.
func (g *Gate) ListPending(ctx context.Context, guildID string, limit int) ([]*genreq.Request, error) {
	return g.requests.List(ctx, genreq.Filter{
		GuildID: guildID,
		Status:  genreq.StatusPendingModeration,
		Limit:   limit,
	})
}

// Approve records the moderator's decision and applies the content. The
// approval itself is durable before application starts: if applying fails,
// the request lands in APPLICATION_FAILED with the cause recorded, never
// back in the queue.
func (g *Gate) Approve(ctx context.Context, id, moderatorID, notes string) error {
	req, err := g.requests.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: approve: %w", err)
	}
	upd := genreq.Update{ModeratorID: &moderatorID}
	if notes != "" {
		upd.ModeratorNotes = &notes
	}
	err = g.requests.Transition(ctx, id,
		genreq.StatusPendingModeration, genreq.StatusApproved, upd)
	if err != nil {
		return fmt.Errorf("pipeline: approve: %w", err)
	}
	if g.metrics != nil {
		g.metrics.RecordModerationQueued(ctx, req.GuildID, -1)
	}
	return g.applier.Apply(ctx, id)
}

// Reject records the moderator's decision and releases any hold. Rejection
// is an expected outcome, not an error.
func (g *Gate) Reject(ctx context.Context, id, moderatorID, notes string) error {
	req, err := g.requests.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: reject: %w", err)
	}
	upd := genreq.Update{ModeratorID: &moderatorID}
	if notes != "" {
		upd.ModeratorNotes = &notes
	}
	err = g.requests.Transition(ctx, id,
		genreq.StatusPendingModeration, genreq.StatusRejected, upd)
	if err != nil {
		return fmt.Errorf("pipeline: reject: %w", err)
	}
	if g.metrics != nil {
		g.metrics.RecordModerationQueued(ctx, req.GuildID, -1)
	}
	if g.holder != nil {
		g.holder.ReleaseHold(req.GuildID, req.ID)
	}
	return nil
}

// Similar returns previously applied content most similar to the pending
// request's payload, so a moderator can spot near-duplicates before
// approving. Returns nil matches when no index is configured.
func (g *Gate) Similar(ctx context.Context, id string, topK int) ([]similarity.Match, error) {
	if g.index == nil {
		return nil, nil
	}
	req, err := g.requests.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pipeline: similar: %w", err)
	}
	if len(req.ParsedData) == 0 {
		return nil, fmt.Errorf("pipeline: similar: request %s has no validated payload", id)
	}
	payload, err := DecodePayload(req.Type, req.ParsedData)
	if err != nil {
		return nil, fmt.Errorf("pipeline: similar: %w", err)
	}
	return g.index.Search(ctx, req.GuildID, payload.Summary(), topK)
}

func (g *Gate) notify(ctx context.Context, guildID, message string) {
	if g.notifier == nil || g.channel == nil {
		return
	}
	channelID := g.channel(guildID)
	if channelID == "" {
		return
	}
	if err := g.notifier.Notify(ctx, channelID, message); err != nil {
		g.logger.Warn("moderation notification failed",
			"guild_id", guildID, "channel_id", channelID, "error", err)
	}
}
