package config

import "reflect"

// Change describes what differs between two loaded configs. Only the log
// level and the guild list can be applied to a running server; everything
// else needs a restart.
type Change struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GuildsAdded and GuildsRemoved list guild IDs that appeared or
	// disappeared. ChannelsChanged lists guilds whose moderation channel
	// moved.
	GuildsAdded     []string
	GuildsRemoved   []string
	ChannelsChanged []string

	// RequiresRestart is set when database, generator, embeddings, discord
	// or server settings changed.
	RequiresRestart bool
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return !c.LogLevelChanged && !c.RequiresRestart &&
		len(c.GuildsAdded) == 0 && len(c.GuildsRemoved) == 0 && len(c.ChannelsChanged) == 0
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) Change {
	var c Change

	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevelChanged = true
		c.NewLogLevel = new.Server.LogLevel
	}

	oldGuilds := make(map[string]GuildConfig, len(old.Guilds))
	for _, g := range old.Guilds {
		oldGuilds[g.ID] = g
	}
	for _, g := range new.Guilds {
		prev, ok := oldGuilds[g.ID]
		if !ok {
			c.GuildsAdded = append(c.GuildsAdded, g.ID)
			continue
		}
		if prev.ModerationChannelID != g.ModerationChannelID {
			c.ChannelsChanged = append(c.ChannelsChanged, g.ID)
		}
		delete(oldGuilds, g.ID)
	}
	for id := range oldGuilds {
		c.GuildsRemoved = append(c.GuildsRemoved, id)
	}

	if old.Database != new.Database ||
		!reflect.DeepEqual(old.Generator, new.Generator) ||
		old.Embeddings != new.Embeddings ||
		old.Discord != new.Discord ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.FlushInterval != new.Server.FlushInterval {
		c.RequiresRestart = true
	}

	return c
}
