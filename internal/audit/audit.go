// Package audit provides the best-effort audit-log sink for administrative
// and reward actions. Delivery failures never propagate into the operations
// that produced the entries; callers log and move on.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit-log line.
type Entry struct {
	ID      string    `json:"id"`
	Action  string    `json:"action"`
	GuildID string    `json:"guild_id"`
	UserID  string    `json:"user_id,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// NewEntry builds an entry with a fresh ID and timestamp.
func NewEntry(action, guildID, userID, actorID, detail string) Entry {
	return Entry{
		ID:      uuid.NewString(),
		Action:  action,
		GuildID: guildID,
		UserID:  userID,
		ActorID: actorID,
		Detail:  detail,
		At:      time.Now().UTC(),
	}
}

// Sink delivers audit entries somewhere durable-ish.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// NopSink discards all entries. Used when no webhook is configured.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(ctx context.Context, e Entry) error { return nil }
