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

// NPCManager owns every NPC in every active guild.
type NPCManager struct {
	cache   *world.Cache[world.NPC]
	tracker *world.Tracker
	coord   *persist.Coordinator[world.NPC]
	starter GenerationStarter
	logger  *slog.Logger
	newID   func() string
}

var _ Cleaner = (*NPCManager)(nil)

// NewNPCManager creates an NPC manager flushing to rows.
func NewNPCManager(rows persist.RowStore, opts ...Option) *NPCManager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cache := world.NewCache[world.NPC]()
	tracker := world.NewTracker()
	coordOpts := []persist.CoordinatorOption{persist.WithLogger(o.logger)}
	if o.metrics != nil {
		coordOpts = append(coordOpts, persist.WithMetrics(o.metrics))
	}
	return &NPCManager{
		cache:   cache,
		tracker: tracker,
		coord: persist.NewCoordinator(world.KindNPC, cache, tracker, rows,
			decodeJSON[world.NPC], coordOpts...),
		starter: o.starter,
		logger:  o.logger,
		newID:   o.newID,
	}
}

// SetGenerationStarter wires the content generation entry point. Called once
// during startup, after the pipeline is built.
func (m *NPCManager) SetGenerationStarter(s GenerationStarter) {
	m.starter = s
}

// Create adds a new NPC to the guild and marks it for persistence.
func (m *NPCManager) Create(guildID, name, persona string) (world.NPC, error) {
	if guildID == "" {
		return world.NPC{}, fmt.Errorf("manager: create npc: guild ID is required")
	}
	if name == "" {
		return world.NPC{}, fmt.Errorf("manager: create npc: name is required")
	}
	n := world.NPC{
		ID:      m.newID(),
		GuildID: guildID,
		Name:    name,
		Persona: persona,
	}
	m.cache.Put(n)
	m.tracker.MarkDirty(guildID, n.ID)
	return n, nil
}

// Get returns the NPC by ID. Returns [ErrNotFound] if absent.
func (m *NPCManager) Get(guildID, id string) (world.NPC, error) {
	n, ok := m.cache.Get(guildID, id)
	if !ok {
		return world.NPC{}, fmt.Errorf("manager: npc %q in guild %q: %w", id, guildID, ErrNotFound)
	}
	return n, nil
}

// List returns all of the guild's NPCs.
func (m *NPCManager) List(guildID string) []world.NPC {
	return m.cache.All(guildID)
}

// IDs returns the guild's NPC IDs, for reference validation.
func (m *NPCManager) IDs(guildID string) []string {
	npcs := m.cache.All(guildID)
	ids := make([]string, len(npcs))
	for i, n := range npcs {
		ids[i] = n.ID
	}
	slices.Sort(ids)
	return ids
}

// Update replaces the stored NPC and marks it dirty.
func (m *NPCManager) Update(n world.NPC) error {
	if _, ok := m.cache.Get(n.GuildID, n.ID); !ok {
		return fmt.Errorf("manager: update npc %q in guild %q: %w", n.ID, n.GuildID, ErrNotFound)
	}
	m.cache.Put(n)
	m.tracker.MarkDirty(n.GuildID, n.ID)
	return nil
}

// Relocate moves the NPC to a new location.
func (m *NPCManager) Relocate(guildID, npcID, locationID string) error {
	n, ok := m.cache.Get(guildID, npcID)
	if !ok {
		return fmt.Errorf("manager: relocate npc %q in guild %q: %w", npcID, guildID, ErrNotFound)
	}
	n.LocationID = locationID
	m.cache.Put(n)
	m.tracker.MarkDirty(guildID, npcID)
	return nil
}

// Remove deletes an NPC from the guild.
func (m *NPCManager) Remove(guildID, id string) error {
	if _, ok := m.cache.Get(guildID, id); !ok {
		return fmt.Errorf("manager: remove npc %q in guild %q: %w", id, guildID, ErrNotFound)
	}
	m.cache.Remove(guildID, id)
	m.tracker.MarkDeleted(guildID, id)
	return nil
}

// CleanupReferences clears the location reference of every NPC standing in
// the removed location, marking each dirty.
func (m *NPCManager) CleanupReferences(guildID, locationID string) {
	for _, n := range m.cache.All(guildID) {
		if n.LocationID != locationID {
			continue
		}
		n.LocationID = ""
		m.cache.Put(n)
		m.tracker.MarkDirty(guildID, n.ID)
	}
}

// Install places an already-persisted NPC into the cache without marking it
// dirty. Used when applying approved generated content.
func (m *NPCManager) Install(n world.NPC) {
	m.cache.Put(n)
}

// GenerateProfile starts an AI generation request for a new NPC profile and
// returns the request ID.
func (m *NPCManager) GenerateProfile(ctx context.Context, guildID string, params map[string]any, createdBy string) (string, error) {
	if m.starter == nil {
		return "", fmt.Errorf("manager: generate npc profile: no generation pipeline configured")
	}
	return m.starter.Start(ctx, guildID, genreq.TypeNPCProfile, params, createdBy)
}

// Activate loads the guild's NPCs from storage, replacing any cached state
// for that guild.
func (m *NPCManager) Activate(ctx context.Context, guildID string) error {
	return m.coord.Load(ctx, guildID)
}

// Flush persists the guild's pending changes.
func (m *NPCManager) Flush(ctx context.Context, guildID string) error {
	return m.coord.Save(ctx, guildID)
}

// FlushAll persists pending changes for every guild with any.
func (m *NPCManager) FlushAll(ctx context.Context) error {
	return m.coord.SaveAll(ctx)
}
