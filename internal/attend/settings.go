package attend

import (
	"github.com/cinebot/attend/internal/qualify"
	"github.com/cinebot/attend/internal/tier"
)

// GuildSettings is the attendance policy for one guild.
type GuildSettings struct {
	Mode             qualify.Mode
	ThresholdMinutes int
	Tiers            []tier.Tier
	PanicFrozen      bool
}

// SettingsSource supplies per-guild policy. The engine never caches
// settings; every decision reads the source so config reloads take effect
// immediately.
type SettingsSource interface {
	GuildSettings(guildID string) GuildSettings
}

// StaticSettings is a SettingsSource backed by a fixed map with defaults.
type StaticSettings struct {
	Defaults GuildSettings
	Guilds   map[string]GuildSettings
}

// GuildSettings returns the guild's policy, filling unset fields from the
// defaults.
func (s StaticSettings) GuildSettings(guildID string) GuildSettings {
	gs, ok := s.Guilds[guildID]
	if !ok {
		return s.normalize(s.Defaults)
	}
	if gs.Mode == "" {
		gs.Mode = s.Defaults.Mode
	}
	if gs.ThresholdMinutes <= 0 {
		gs.ThresholdMinutes = s.Defaults.ThresholdMinutes
	}
	return s.normalize(gs)
}

func (s StaticSettings) normalize(gs GuildSettings) GuildSettings {
	if gs.Mode == "" {
		gs.Mode = qualify.ModeCumulative
	}
	if gs.ThresholdMinutes <= 0 {
		gs.ThresholdMinutes = qualify.DefaultThresholdMinutes
	}
	return gs
}
