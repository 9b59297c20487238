package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/world"
	"github.com/wardstone-rpg/wardstone/internal/world/persist"
)

// PartyManager owns every party in every active guild, including the
// moderation holds that freeze a party while content it requested awaits
// review.
type PartyManager struct {
	cache   *world.Cache[world.Party]
	tracker *world.Tracker
	coord   *persist.Coordinator[world.Party]
	starter GenerationStarter
	logger  *slog.Logger
	newID   func() string
}

var _ Cleaner = (*PartyManager)(nil)

// NewPartyManager creates a party manager flushing to rows.
func NewPartyManager(rows persist.RowStore, opts ...Option) *PartyManager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cache := world.NewCache[world.Party]()
	tracker := world.NewTracker()
	coordOpts := []persist.CoordinatorOption{persist.WithLogger(o.logger)}
	if o.metrics != nil {
		coordOpts = append(coordOpts, persist.WithMetrics(o.metrics))
	}
	return &PartyManager{
		cache:   cache,
		tracker: tracker,
		coord: persist.NewCoordinator(world.KindParty, cache, tracker, rows,
			decodeJSON[world.Party], coordOpts...),
		starter: o.starter,
		logger:  o.logger,
		newID:   o.newID,
	}
}

// SetGenerationStarter wires the content generation entry point. Called once
// during startup, after the pipeline is built.
func (m *PartyManager) SetGenerationStarter(s GenerationStarter) {
	m.starter = s
}

// Create adds a new party to the guild and marks it for persistence.
func (m *PartyManager) Create(guildID, name string, memberIDs []string) (world.Party, error) {
	if guildID == "" {
		return world.Party{}, fmt.Errorf("manager: create party: guild ID is required")
	}
	if name == "" {
		return world.Party{}, fmt.Errorf("manager: create party: name is required")
	}
	p := world.Party{
		ID:        m.newID(),
		GuildID:   guildID,
		Name:      name,
		MemberIDs: slices.Clone(memberIDs),
	}
	m.cache.Put(p)
	m.tracker.MarkDirty(guildID, p.ID)
	return p, nil
}

// Get returns the party by ID. Returns [ErrNotFound] if absent.
func (m *PartyManager) Get(guildID, id string) (world.Party, error) {
	p, ok := m.cache.Get(guildID, id)
	if !ok {
		return world.Party{}, fmt.Errorf("manager: party %q in guild %q: %w", id, guildID, ErrNotFound)
	}
	return p, nil
}

// List returns all of the guild's parties.
func (m *PartyManager) List(guildID string) []world.Party {
	return m.cache.All(guildID)
}

// Update replaces the stored party and marks it dirty.
func (m *PartyManager) Update(p world.Party) error {
	if _, ok := m.cache.Get(p.GuildID, p.ID); !ok {
		return fmt.Errorf("manager: update party %q in guild %q: %w", p.ID, p.GuildID, ErrNotFound)
	}
	m.cache.Put(p)
	m.tracker.MarkDirty(p.GuildID, p.ID)
	return nil
}

// Move places the party in a new location.
func (m *PartyManager) Move(guildID, partyID, locationID string) error {
	p, ok := m.cache.Get(guildID, partyID)
	if !ok {
		return fmt.Errorf("manager: move party %q in guild %q: %w", partyID, guildID, ErrNotFound)
	}
	p.LocationID = locationID
	m.cache.Put(p)
	m.tracker.MarkDirty(guildID, partyID)
	return nil
}

// Remove deletes a party from the guild.
func (m *PartyManager) Remove(guildID, id string) error {
	if _, ok := m.cache.Get(guildID, id); !ok {
		return fmt.Errorf("manager: remove party %q in guild %q: %w", id, guildID, ErrNotFound)
	}
	m.cache.Remove(guildID, id)
	m.tracker.MarkDeleted(guildID, id)
	return nil
}

// CleanupReferences clears the location reference of every party standing in
// the removed location, marking each dirty.
func (m *PartyManager) CleanupReferences(guildID, locationID string) {
	for _, p := range m.cache.All(guildID) {
		if p.LocationID != locationID {
			continue
		}
		p.LocationID = ""
		m.cache.Put(p)
		m.tracker.MarkDirty(guildID, p.ID)
	}
}

// HoldForModeration freezes the party while the generation request it asked
// for awaits a moderator. A held party refuses further generation requests.
func (m *PartyManager) HoldForModeration(guildID, partyID, requestID string) error {
	p, ok := m.cache.Get(guildID, partyID)
	if !ok {
		return fmt.Errorf("manager: hold party %q in guild %q: %w", partyID, guildID, ErrNotFound)
	}
	if p.Hold != "" && p.Hold != requestID {
		return fmt.Errorf("manager: party %q already on hold for request %q", partyID, p.Hold)
	}
	p.Hold = requestID
	m.cache.Put(p)
	m.tracker.MarkDirty(guildID, partyID)
	return nil
}

// ReleaseHold clears any hold tied to the request. Releasing a hold that no
// party carries is a no-op.
func (m *PartyManager) ReleaseHold(guildID, requestID string) {
	for _, p := range m.cache.All(guildID) {
		if p.Hold != requestID {
			continue
		}
		p.Hold = ""
		m.cache.Put(p)
		m.tracker.MarkDirty(guildID, p.ID)
	}
}

// GenerateQuest starts an AI quest generation request on behalf of the
// party and returns the request ID. A held party cannot start another.
func (m *PartyManager) GenerateQuest(ctx context.Context, guildID, partyID string, params map[string]any, createdBy string) (string, error) {
	if m.starter == nil {
		return "", fmt.Errorf("manager: generate quest: no generation pipeline configured")
	}
	p, ok := m.cache.Get(guildID, partyID)
	if !ok {
		return "", fmt.Errorf("manager: generate quest for party %q in guild %q: %w", partyID, guildID, ErrNotFound)
	}
	if p.Hold != "" {
		return "", fmt.Errorf("manager: party %q is awaiting moderation of request %q", partyID, p.Hold)
	}
	if params == nil {
		params = make(map[string]any)
	}
	params["party_id"] = partyID
	return m.starter.Start(ctx, guildID, genreq.TypeQuest, params, createdBy)
}

// Activate loads the guild's parties from storage, replacing any cached
// state for that guild.
func (m *PartyManager) Activate(ctx context.Context, guildID string) error {
	return m.coord.Load(ctx, guildID)
}

// Flush persists the guild's pending changes.
func (m *PartyManager) Flush(ctx context.Context, guildID string) error {
	return m.coord.Save(ctx, guildID)
}

// FlushAll persists pending changes for every guild with any.
func (m *PartyManager) FlushAll(ctx context.Context) error {
	return m.coord.SaveAll(ctx)
}
