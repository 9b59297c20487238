package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/world"
	"github.com/wardstone-rpg/wardstone/internal/world/persist"
)

// Compile-time interface check.
var _ Cleaner = (*LocationManager)(nil)

// LocationManager owns every location in every active guild.
type LocationManager struct {
	cache    *world.Cache[world.Location]
	tracker  *world.Tracker
	coord    *persist.Coordinator[world.Location]
	cleaners []Cleaner
	starter  GenerationStarter
	logger   *slog.Logger
	newID    func() string
}

// NewLocationManager creates a location manager flushing to rows.
func NewLocationManager(rows persist.RowStore, opts ...Option) *LocationManager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cache := world.NewCache[world.Location]()
	tracker := world.NewTracker()
	coordOpts := []persist.CoordinatorOption{persist.WithLogger(o.logger)}
	if o.metrics != nil {
		coordOpts = append(coordOpts, persist.WithMetrics(o.metrics))
	}
	return &LocationManager{
		cache:   cache,
		tracker: tracker,
		coord: persist.NewCoordinator(world.KindLocation, cache, tracker, rows,
			decodeJSON[world.Location], coordOpts...),
		starter: o.starter,
		logger:  o.logger,
		newID:   o.newID,
	}
}

// RegisterCleaner adds a cleaner consulted before any location is removed.
func (m *LocationManager) RegisterCleaner(c Cleaner) {
	m.cleaners = append(m.cleaners, c)
}

// SetGenerationStarter wires the content generation entry point. Called once
// during startup, after the pipeline is built.
func (m *LocationManager) SetGenerationStarter(s GenerationStarter) {
	m.starter = s
}

// Create adds a new location to the guild and marks it for persistence.
func (m *LocationManager) Create(guildID, name, description string) (world.Location, error) {
	if guildID == "" {
		return world.Location{}, fmt.Errorf("manager: create location: guild ID is required")
	}
	if name == "" {
		return world.Location{}, fmt.Errorf("manager: create location: name is required")
	}
	loc := world.Location{
		ID:          m.newID(),
		GuildID:     guildID,
		Name:        name,
		Description: description,
	}
	m.cache.Put(loc)
	m.tracker.MarkDirty(guildID, loc.ID)
	return loc, nil
}

// Get returns the location by ID. Returns [ErrNotFound] if absent.
func (m *LocationManager) Get(guildID, id string) (world.Location, error) {
	loc, ok := m.cache.Get(guildID, id)
	if !ok {
		return world.Location{}, fmt.Errorf("manager: location %q in guild %q: %w", id, guildID, ErrNotFound)
	}
	return loc, nil
}

// List returns all of the guild's locations.
func (m *LocationManager) List(guildID string) []world.Location {
	return m.cache.All(guildID)
}

// IDs returns the guild's location IDs, for reference validation.
func (m *LocationManager) IDs(guildID string) []string {
	locs := m.cache.All(guildID)
	ids := make([]string, len(locs))
	for i, loc := range locs {
		ids[i] = loc.ID
	}
	slices.Sort(ids)
	return ids
}

// Update replaces the stored location and marks it dirty. The location must
// already exist in the same guild.
func (m *LocationManager) Update(loc world.Location) error {
	if _, ok := m.cache.Get(loc.GuildID, loc.ID); !ok {
		return fmt.Errorf("manager: update location %q in guild %q: %w", loc.ID, loc.GuildID, ErrNotFound)
	}
	m.cache.Put(loc)
	m.tracker.MarkDirty(loc.GuildID, loc.ID)
	return nil
}

// Remove deletes a location. Registered cleaners run first so dependents
// drop their references before the location disappears; sibling locations
// prune their exits the same way.
func (m *LocationManager) Remove(guildID, id string) error {
	if _, ok := m.cache.Get(guildID, id); !ok {
		return fmt.Errorf("manager: remove location %q in guild %q: %w", id, guildID, ErrNotFound)
	}
	m.CleanupReferences(guildID, id)
	for _, c := range m.cleaners {
		c.CleanupReferences(guildID, id)
	}
	m.cache.Remove(guildID, id)
	m.tracker.MarkDeleted(guildID, id)
	return nil
}

// CleanupReferences prunes exits leading to a location that is about to be
// removed, marking each pruned sibling dirty. Exits name their destination,
// so the target's name is resolved while it is still cached; entries holding
// the raw ID are pruned too.
func (m *LocationManager) CleanupReferences(guildID, locationID string) {
	name := ""
	if target, ok := m.cache.Get(guildID, locationID); ok {
		name = target.Name
	}
	for _, loc := range m.cache.All(guildID) {
		if loc.ID == locationID {
			continue
		}
		pruned := slices.DeleteFunc(slices.Clone(loc.Exits), func(exit string) bool {
			return exit == locationID || (name != "" && exit == name)
		})
		if len(pruned) == len(loc.Exits) {
			continue
		}
		if len(pruned) == 0 {
			pruned = nil
		}
		loc.Exits = pruned
		m.cache.Put(loc)
		m.tracker.MarkDirty(guildID, loc.ID)
	}
}

// Install places an already-persisted location into the cache without
// marking it dirty. Used when applying approved generated content.
func (m *LocationManager) Install(loc world.Location) {
	m.cache.Put(loc)
}

// GenerateContent starts an AI generation request for a new location in the
// guild and returns the request ID. The content only becomes live after
// moderation approves it.
func (m *LocationManager) GenerateContent(ctx context.Context, guildID string, params map[string]any, createdBy string) (string, error) {
	if m.starter == nil {
		return "", fmt.Errorf("manager: generate location content: no generation pipeline configured")
	}
	return m.starter.Start(ctx, guildID, genreq.TypeLocationContent, params, createdBy)
}

// Activate loads the guild's locations from storage, replacing any cached
// state for that guild.
func (m *LocationManager) Activate(ctx context.Context, guildID string) error {
	return m.coord.Load(ctx, guildID)
}

// Flush persists the guild's pending changes.
func (m *LocationManager) Flush(ctx context.Context, guildID string) error {
	return m.coord.Save(ctx, guildID)
}

// FlushAll persists pending changes for every guild with any.
func (m *LocationManager) FlushAll(ctx context.Context) error {
	return m.coord.SaveAll(ctx)
}

// decodeJSON is the [persist.DecodeFunc] for JSON-encoded entities.
func decodeJSON[E world.Entity](data []byte) (E, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	return e, nil
}
