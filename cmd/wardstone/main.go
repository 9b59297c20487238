// Command wardstone is the main entry point for the wardstone simulation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/wardstone-rpg/wardstone/internal/app"
	"github.com/wardstone-rpg/wardstone/internal/config"
	discordnotify "github.com/wardstone-rpg/wardstone/internal/notify/discord"
	"github.com/wardstone-rpg/wardstone/internal/observe"
	"github.com/wardstone-rpg/wardstone/internal/resilience"
	oaembed "github.com/wardstone-rpg/wardstone/pkg/provider/embeddings/openai"
	"github.com/wardstone-rpg/wardstone/pkg/provider/llm"
	"github.com/wardstone-rpg/wardstone/pkg/provider/llm/anyllm"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wardstone: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wardstone: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("wardstone starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"guilds", len(cfg.Guilds),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	metrics, metricsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "wardstone",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		if err := metricsShutdown(context.Background()); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, session, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if session != nil {
		defer session.Close()
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.Activate(ctx); err != nil {
		slog.Error("failed to activate guilds", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies live; anything else logs what a restart
	// would pick up.
	watcher, err := config.NewWatcher(*configPath, func(change config.Change, _ *config.Config) {
		if change.LogLevelChanged {
			logLevel.Set(slogLevel(change.NewLogLevel))
			slog.Info("log level changed", "level", change.NewLogLevel)
		}
		if len(change.GuildsAdded) > 0 || len(change.GuildsRemoved) > 0 ||
			len(change.ChannelsChanged) > 0 || change.RequiresRestart {
			slog.Warn("config changed on disk; restart to apply",
				"guilds_added", change.GuildsAdded,
				"guilds_removed", change.GuildsRemoved,
				"channels_changed", change.ChannelsChanged,
				"requires_restart", change.RequiresRestart)
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config watcher not started", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(context.Background()); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders constructs the LLM, embeddings and notification backends
// from config. The returned session is non-nil when Discord is configured
// and must be closed by the caller.
func buildProviders(cfg *config.Config) (*app.Providers, *discordgo.Session, error) {
	ps := &app.Providers{}

	// ── LLM ───────────────────────────────────────────────────────────────────
	gen, err := newLLMBackend(cfg.Generator.Provider, cfg.Generator.Model,
		cfg.Generator.APIKey, cfg.Generator.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Generator.Provider, err)
	}
	ps.LLM = gen
	slog.Info("provider created", "kind", "llm", "name", cfg.Generator.Provider, "model", cfg.Generator.Model)

	if len(cfg.Generator.Fallbacks) > 0 {
		chain := resilience.NewLLMChain(gen, resilience.BreakerConfig{}, slog.Default())
		for _, fb := range cfg.Generator.Fallbacks {
			backend, err := newLLMBackend(fb.Provider, fb.Model, fb.APIKey, fb.BaseURL)
			if err != nil {
				return nil, nil, fmt.Errorf("create llm fallback %q: %w", fb.Provider, err)
			}
			chain.AddFallback(backend)
			slog.Info("provider created", "kind", "llm-fallback", "name", fb.Provider, "model", fb.Model)
		}
		ps.LLM = chain
	}

	// ── Embeddings (optional) ─────────────────────────────────────────────────
	if cfg.Embeddings.Provider != "" {
		embedder, err := oaembed.New(cfg.Embeddings.APIKey, cfg.Embeddings.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Embeddings.Provider, err)
		}
		ps.Embeddings = embedder
		slog.Info("provider created", "kind", "embeddings", "name", cfg.Embeddings.Provider, "model", cfg.Embeddings.Model)
	}

	// ── Discord notifier (optional) ───────────────────────────────────────────
	// Notifications are plain REST sends; no gateway connection is opened.
	var session *discordgo.Session
	if cfg.Discord.Token != "" {
		session, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("create discord session: %w", err)
		}
		ps.Notifier = discordnotify.NewNotifier(session)
		slog.Info("discord notifier configured")
	}

	return ps, session, nil
}

func newLLMBackend(provider, model, apiKey, baseURL string) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}
	return anyllm.New(provider, model, opts...)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger around a LevelVar so the level can be
// changed at runtime by the config watcher.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
