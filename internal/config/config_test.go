package config_test

import (
	"testing"

	"github.com/wardstone-rpg/wardstone/internal/config"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestModerationChannel(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Guilds: []config.GuildConfig{
		{ID: "g1", ModerationChannelID: "chan-1"},
		{ID: "g2"},
	}}

	if got := cfg.ModerationChannel("g1"); got != "chan-1" {
		t.Errorf("g1 channel = %q, want chan-1", got)
	}
	if got := cfg.ModerationChannel("g2"); got != "" {
		t.Errorf("g2 channel = %q, want empty", got)
	}
	if got := cfg.ModerationChannel("unknown"); got != "" {
		t.Errorf("unknown guild channel = %q, want empty", got)
	}
}
