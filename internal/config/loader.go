package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidGeneratorProviders lists known LLM backend names. Used by [Validate]
// to warn about unrecognised provider names.
var ValidGeneratorProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp",
}

// ValidEmbeddingsProviders lists known embeddings backend names.
var ValidEmbeddingsProviders = []string{"openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Values of the form ${VAR} are expanded from the environment
// before decoding, so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals. No
// environment expansion happens here.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("server.flush_interval must not be negative"))
	}

	// Database
	if cfg.Database.URL == "" {
		errs = append(errs, fmt.Errorf("database.url is required"))
	}

	// Generator
	if cfg.Generator.Provider == "" {
		errs = append(errs, fmt.Errorf("generator.provider is required"))
	} else if !slices.Contains(ValidGeneratorProviders, cfg.Generator.Provider) {
		slog.Warn("unknown generator provider — may be a typo or third-party backend",
			"name", cfg.Generator.Provider,
			"known", ValidGeneratorProviders,
		)
	}
	if cfg.Generator.Model == "" {
		errs = append(errs, fmt.Errorf("generator.model is required"))
	}
	if cfg.Generator.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("generator.max_concurrent must not be negative"))
	}
	if cfg.Generator.Temperature < 0 || cfg.Generator.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generator.temperature %.2f is out of range [0, 2]", cfg.Generator.Temperature))
	}
	for i, fb := range cfg.Generator.Fallbacks {
		if fb.Provider == "" || fb.Model == "" {
			errs = append(errs, fmt.Errorf("generator.fallbacks[%d] needs both provider and model", i))
		}
	}

	// Embeddings ↔ similarity index
	if cfg.Embeddings.Provider != "" {
		if !slices.Contains(ValidEmbeddingsProviders, cfg.Embeddings.Provider) {
			slog.Warn("unknown embeddings provider — may be a typo",
				"name", cfg.Embeddings.Provider,
				"known", ValidEmbeddingsProviders,
			)
		}
		if cfg.Embeddings.Dimensions <= 0 {
			errs = append(errs, fmt.Errorf("embeddings.dimensions is required when embeddings.provider is set"))
		}
	}

	// Guilds
	guildIDsSeen := make(map[string]int, len(cfg.Guilds))
	channelsConfigured := false
	for i, g := range cfg.Guilds {
		prefix := fmt.Sprintf("guilds[%d]", i)
		if g.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := guildIDsSeen[g.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of guilds[%d]", prefix, g.ID, prev))
			}
			guildIDsSeen[g.ID] = i
		}
		if g.ModerationChannelID != "" {
			channelsConfigured = true
		}
	}
	if len(cfg.Guilds) == 0 {
		errs = append(errs, fmt.Errorf("at least one guild must be configured"))
	}

	// Discord ↔ moderation channels
	if channelsConfigured && cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required when any guild sets moderation_channel_id"))
	}
	if !channelsConfigured && cfg.Discord.Token != "" {
		slog.Warn("discord.token is set but no guild configures a moderation channel; no notifications will be sent")
	}

	return errors.Join(errs...)
}
