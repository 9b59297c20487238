package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wardstone-rpg/wardstone/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  flush_interval: 45s
database:
  url: postgres://wardstone@localhost:5432/wardstone
generator:
  provider: openai
  api_key: sk-test
  model: gpt-4o
  temperature: 0.8
  max_tokens: 2048
embeddings:
  provider: openai
  api_key: sk-test
  model: text-embedding-3-small
  dimensions: 1536
discord:
  token: bot-token
guilds:
  - id: "123456789"
    moderation_channel_id: "987654321"
  - id: "223456789"
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.FlushInterval != 45*time.Second {
		t.Errorf("flush_interval = %v", cfg.Server.FlushInterval)
	}
	if cfg.Generator.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.Generator.Model)
	}
	if cfg.Embeddings.Dimensions != 1536 {
		t.Errorf("dimensions = %d", cfg.Embeddings.Dimensions)
	}
	if len(cfg.Guilds) != 2 {
		t.Fatalf("guilds = %d", len(cfg.Guilds))
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
database:
  url: postgres://localhost/wardstone
  shards: 4
generator:
  provider: openai
  model: gpt-4o
guilds:
  - id: g1
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("WARDSTONE_TEST_DB", "postgres://fromenv@localhost/wardstone")
	t.Setenv("WARDSTONE_TEST_KEY", "sk-fromenv")

	yaml := `
database:
  url: ${WARDSTONE_TEST_DB}
generator:
  provider: openai
  api_key: ${WARDSTONE_TEST_KEY}
  model: gpt-4o
guilds:
  - id: g1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://fromenv@localhost/wardstone" {
		t.Errorf("database.url = %q, env not expanded", cfg.Database.URL)
	}
	if cfg.Generator.APIKey != "sk-fromenv" {
		t.Errorf("generator.api_key = %q, env not expanded", cfg.Generator.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
generator:
  temperature: 3.5
guilds: []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{
		"log_level",
		"database.url is required",
		"generator.provider is required",
		"generator.model is required",
		"temperature",
		"at least one guild",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_DuplicateGuildIDs(t *testing.T) {
	t.Parallel()
	yaml := `
database:
  url: postgres://localhost/wardstone
generator:
  provider: openai
  model: gpt-4o
guilds:
  - id: g1
  - id: g1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate guild IDs, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_ModerationChannelRequiresToken(t *testing.T) {
	t.Parallel()
	yaml := `
database:
  url: postgres://localhost/wardstone
generator:
  provider: openai
  model: gpt-4o
guilds:
  - id: g1
    moderation_channel_id: "42"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for moderation channel without discord token, got nil")
	}
	if !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("error should mention discord.token, got: %v", err)
	}
}

func TestValidate_EmbeddingsNeedDimensions(t *testing.T) {
	t.Parallel()
	yaml := `
database:
  url: postgres://localhost/wardstone
generator:
  provider: openai
  model: gpt-4o
embeddings:
  provider: openai
  model: text-embedding-3-small
guilds:
  - id: g1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for embeddings without dimensions, got nil")
	}
	if !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("error should mention dimensions, got: %v", err)
	}
}
