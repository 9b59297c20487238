// Package manager owns the live, guild-scoped game world. Each entity kind
// has a manager composing an in-memory cache, change tracking and a
// persistence coordinator: reads and writes hit memory, mutations are
// tracked, and flushes push only what changed.
//
// Cross-entity consistency is the managers' job. Removing a location first
// runs every registered [Cleaner] so dependents drop their references before
// the location itself is marked deleted; a crash mid-cleanup leaves extra
// cleaned dependents but never a dangling reference.
package manager

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/observe"
	"github.com/wardstone-rpg/wardstone/internal/world"
)

// Installer bundles the managers the generation pipeline installs committed
// content into.
type Installer struct {
	Locations *LocationManager
	NPCs      *NPCManager
}

// InstallLocation places a committed location into the live world.
func (i Installer) InstallLocation(loc world.Location) { i.Locations.Install(loc) }

// InstallNPC places a committed NPC into the live world.
func (i Installer) InstallNPC(n world.NPC) { i.NPCs.Install(n) }

// ErrNotFound is returned when the entity does not exist in the guild.
var ErrNotFound = errors.New("entity not found")

// Cleaner removes a guild's references to a location that is about to be
// deleted. Implementations must mark every touched entity dirty.
type Cleaner interface {
	CleanupReferences(guildID, locationID string)
}

// GenerationStarter kicks off an AI content generation request. Implemented
// by the pipeline orchestrator; managers use it so gameplay code can ask for
// new content without reaching into the pipeline.
type GenerationStarter interface {
	Start(ctx context.Context, guildID string, typ genreq.Type, params map[string]any, createdBy string) (string, error)
}

// Option configures a manager.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	newID   func() string
	starter GenerationStarter
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics enables persistence metrics on the manager's coordinator.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIDGenerator overrides entity ID generation, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithGenerationStarter wires the content generation entry point.
func WithGenerationStarter(s GenerationStarter) Option {
	return func(o *options) { o.starter = s }
}
