// Package platform declares the chat-platform collaborator interfaces the
// attendance engine depends on. The engine only consumes platform-reported
// presence and issues role/DM primitives; the actual gateway adapter lives
// outside this repository.
package platform

import "context"

// VoicePresence enumerates current voice-channel membership.
type VoicePresence interface {
	// ChannelMembers returns the user IDs of all non-bot members currently
	// connected to the given voice channel. Implementations should return an
	// error for unknown or non-voice channels; callers treat any failure as
	// "nobody present".
	ChannelMembers(ctx context.Context, guildID, channelID string) ([]string, error)
}

// RoleManager grants and revokes guild roles.
type RoleManager interface {
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
}

// Messenger delivers direct messages to users.
// DMs are best-effort everywhere in this engine; implementations may fail
// freely (user blocked DMs, user left the guild) and callers only log.
type Messenger interface {
	SendDirectMessage(ctx context.Context, userID, content string) error
}
