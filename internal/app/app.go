// Package app wires the wardstone subsystems together and owns their
// lifetimes: database pool, entity managers, the generation pipeline and the
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardstone-rpg/wardstone/internal/config"
	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/health"
	"github.com/wardstone-rpg/wardstone/internal/manager"
	"github.com/wardstone-rpg/wardstone/internal/observe"
	"github.com/wardstone-rpg/wardstone/internal/pipeline"
	"github.com/wardstone-rpg/wardstone/internal/similarity"
	"github.com/wardstone-rpg/wardstone/internal/world/persist"
	"github.com/wardstone-rpg/wardstone/pkg/provider/embeddings"
	"github.com/wardstone-rpg/wardstone/pkg/provider/llm"
)

const (
	defaultFlushInterval   = 30 * time.Second
	defaultGenerateTimeout = 60 * time.Second
	defaultMaxConcurrent   = 4
	httpShutdownGrace      = 15 * time.Second
	httpReadHeaderTimeout  = 10 * time.Second
)

// Providers holds the external AI backends, populated by main.go from
// config. Embeddings may be nil, which disables the similarity index.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider

	// Notifier posts moderation messages. Nil disables notifications.
	Notifier pipeline.Notifier
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger
	metrics   *observe.Metrics

	pool     *pgxpool.Pool
	rows     persist.RowStore
	requests genreq.Store
	tx       pipeline.TxRunner
	index    similarity.Index

	locations *manager.LocationManager
	npcs      *manager.NPCManager
	parties   *manager.PartyManager

	orchestrator *pipeline.Orchestrator
	gate         *pipeline.Gate
	transactor   *pipeline.Transactor

	health *health.Handler
	srv    *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the app logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics wires the OpenTelemetry instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRowStore injects an entity row store instead of connecting to Postgres.
func WithRowStore(s persist.RowStore) Option {
	return func(a *App) { a.rows = s }
}

// WithRequestStore injects a generation request store instead of Postgres.
func WithRequestStore(s genreq.Store) Option {
	return func(a *App) { a.requests = s }
}

// WithTxRunner injects a transaction runner instead of Postgres.
func WithTxRunner(tx pipeline.TxRunner) Option {
	return func(a *App) { a.tx = tx }
}

// WithSimilarityIndex injects a similarity index instead of building one
// from the embeddings provider.
func WithSimilarityIndex(idx similarity.Index) Option {
	return func(a *App) { a.index = idx }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles for any
// storage backend; when all three storage backends are injected no database
// connection is made.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Entity managers ───────────────────────────────────────────────
	a.initManagers()

	// ── 3. Similarity index ──────────────────────────────────────────────
	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init similarity index: %w", err)
	}

	// ── 4. Generation pipeline ───────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// initStorage connects to Postgres and migrates the schema, unless every
// backend was injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.rows != nil && a.requests != nil && a.tx != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool

	if a.rows == nil {
		s := persist.NewPostgresRowStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		a.rows = s
	}
	if a.requests == nil {
		s := genreq.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		a.requests = s
	}
	if a.tx == nil {
		r := pipeline.NewPgxTxRunner(pool)
		if err := r.Migrate(ctx); err != nil {
			return err
		}
		a.tx = r
	}
	return nil
}

func (a *App) initManagers() {
	opts := []manager.Option{manager.WithLogger(a.logger)}
	if a.metrics != nil {
		opts = append(opts, manager.WithMetrics(a.metrics))
	}
	a.locations = manager.NewLocationManager(a.rows, opts...)
	a.npcs = manager.NewNPCManager(a.rows, opts...)
	a.parties = manager.NewPartyManager(a.rows, opts...)

	// Dependents first: NPCs and parties drop their references before a
	// location disappears.
	a.locations.RegisterCleaner(a.npcs)
	a.locations.RegisterCleaner(a.parties)
}

func (a *App) initIndex(ctx context.Context) error {
	if a.index != nil || a.providers.Embeddings == nil {
		return nil
	}
	if a.pool == nil {
		a.index = similarity.NewMemIndex(a.providers.Embeddings)
		return nil
	}
	idx, err := similarity.NewPostgresIndex(a.pool, a.providers.Embeddings, a.cfg.Embeddings.Dimensions)
	if err != nil {
		return err
	}
	if err := idx.Migrate(ctx); err != nil {
		return err
	}
	a.index = idx
	return nil
}

func (a *App) initPipeline() error {
	gen, err := pipeline.NewLLMGenerator(pipeline.LLMGeneratorConfig{
		Provider:      a.providers.LLM,
		Timeout:       orDefault(a.cfg.Generator.Timeout, defaultGenerateTimeout),
		MaxConcurrent: orDefaultInt(a.cfg.Generator.MaxConcurrent, defaultMaxConcurrent),
		Temperature:   a.cfg.Generator.Temperature,
		MaxTokens:     a.cfg.Generator.MaxTokens,
		Metrics:       a.metrics,
	})
	if err != nil {
		return err
	}

	a.transactor = pipeline.NewTransactor(pipeline.TransactorConfig{
		Requests:  a.requests,
		Tx:        a.tx,
		Installer: manager.Installer{Locations: a.locations, NPCs: a.npcs},
		Index:     a.index,
		Holder:    a.parties,
		Logger:    a.logger,
	})

	a.gate = pipeline.NewGate(pipeline.GateConfig{
		Requests: a.requests,
		Applier:  a.transactor,
		Notifier: a.providers.Notifier,
		Channel:  a.cfg.ModerationChannel,
		Index:    a.index,
		Holder:   a.parties,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})

	a.orchestrator = pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Requests:  a.requests,
		Prompts:   pipeline.TemplateBuilder{},
		Generator: gen,
		Validator: pipeline.NewValidator(),
		Gate:      a.gate,
		Holder:    a.parties,
		Known: func(guildID string) pipeline.KnownIDs {
			return pipeline.KnownIDs{
				Locations: a.locations.IDs(guildID),
				NPCs:      a.npcs.IDs(guildID),
			}
		},
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	a.locations.SetGenerationStarter(a.orchestrator)
	a.npcs.SetGenerationStarter(a.orchestrator)
	a.parties.SetGenerationStarter(a.orchestrator)
	return nil
}

func (a *App) initHTTP() {
	a.health = health.NewHandler()
	if a.pool != nil {
		a.health.AddCheck("database", a.pool.Ping)
	}

	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}
}

// Activate loads every configured guild's world into memory and re-drives
// generation requests a previous run left unfinished.
func (a *App) Activate(ctx context.Context) error {
	for _, g := range a.cfg.Guilds {
		if err := a.locations.Activate(ctx, g.ID); err != nil {
			return fmt.Errorf("app: activate guild %q: %w", g.ID, err)
		}
		if err := a.npcs.Activate(ctx, g.ID); err != nil {
			return fmt.Errorf("app: activate guild %q: %w", g.ID, err)
		}
		if err := a.parties.Activate(ctx, g.ID); err != nil {
			return fmt.Errorf("app: activate guild %q: %w", g.ID, err)
		}
		if err := a.orchestrator.Resume(ctx, g.ID); err != nil {
			a.logger.Warn("resuming pending generations failed", "guild_id", g.ID, "error", err)
		}
		a.logger.Info("guild activated", "guild_id", g.ID,
			"locations", len(a.locations.List(g.ID)),
			"npcs", len(a.npcs.List(g.ID)),
			"parties", len(a.parties.List(g.ID)),
		)
	}
	return nil
}

// Run serves HTTP and flushes dirty world state on a fixed cadence until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	interval := orDefault(a.cfg.Server.FlushInterval, defaultFlushInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("app: http server: %w", err)
		case <-ticker.C:
			a.flushAll(ctx)
		}
	}
}

func (a *App) flushAll(ctx context.Context) {
	if err := a.locations.FlushAll(ctx); err != nil {
		a.logger.Error("location flush failed", "error", err)
	}
	if err := a.npcs.FlushAll(ctx); err != nil {
		a.logger.Error("npc flush failed", "error", err)
	}
	if err := a.parties.FlushAll(ctx); err != nil {
		a.logger.Error("party flush failed", "error", err)
	}
}

// Shutdown stops the HTTP server, performs a final flush and closes the
// database pool. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, httpShutdownGrace)
		defer cancel()

		if sErr := a.srv.Shutdown(shutdownCtx); sErr != nil {
			a.logger.Warn("http shutdown error", "error", sErr)
		}

		a.flushAll(shutdownCtx)

		if a.pool != nil {
			a.pool.Close()
		}
	})
	return nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func orDefaultInt(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
