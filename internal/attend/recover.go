package attend

import (
	"context"
	"fmt"
	"time"

	"github.com/cinebot/attend/internal/session"
)

// RecoveryStatus describes the outcome of the last crash-recovery pass.
type RecoveryStatus struct {
	Ran               bool      `json:"ran"`
	At                time.Time `json:"at"`
	EventsRecovered   int       `json:"events_recovered"`
	SessionsRecovered int       `json:"sessions_recovered"`
	RowsSkipped       int       `json:"rows_skipped"`
}

// RecoverPersistedSessions rebuilds live state from the snapshot tables
// after a restart. Users whose session was open at the last snapshot are
// credited the full span from that snapshot to "now" under the optimistic
// assumption they stayed connected, and their session is reopened at "now"
// so tracking continues seamlessly. Closed-session totals are restored
// verbatim. Storage failures abort recovery; malformed rows are skipped and
// counted. Call before delivering any voice events.
func (e *Engine) RecoverPersistedSessions(ctx context.Context) (RecoveryStatus, error) {
	now := e.clock.Now()

	events, skipped, err := e.store.ListActiveEvents(ctx, e.logger)
	if err != nil {
		return RecoveryStatus{}, fmt.Errorf("recover events: %w", err)
	}

	status := RecoveryStatus{Ran: true, At: now, RowsSkipped: skipped}
	for _, rec := range events {
		sessions, sessSkipped, err := e.store.ListSessionSnapshots(ctx, rec.Event.GuildID, e.logger)
		if err != nil {
			return RecoveryStatus{}, fmt.Errorf("recover guild %s: %w", rec.Event.GuildID, err)
		}
		status.RowsSkipped += sessSkipped

		restored := make([]session.UserSession, 0, len(sessions))
		for _, s := range sessions {
			if s.SessionStart != nil {
				// The interval between the last snapshot and the crash is
				// unobservable; credit it whole rather than penalizing the
				// user for the outage.
				lost := session.MinutesBetween(s.LastPersistedAt, now)
				s.AccumulatedMinutes += lost
				if lost > s.LongestSessionMinutes {
					s.LongestSessionMinutes = lost
				}
				start := now
				s.SessionStart = &start
			}
			restored = append(restored, s)
		}

		e.tracker.Restore(rec.Event, restored)
		status.EventsRecovered++
		status.SessionsRecovered += len(restored)

		e.logger.Info("event recovered",
			"guild_id", rec.Event.GuildID, "event_date", rec.Event.EventDate,
			"sessions", len(restored), "last_persisted_at", rec.PersistedAt)
	}

	e.recMu.Lock()
	e.recovery = status
	e.recMu.Unlock()

	if status.EventsRecovered == 0 {
		e.logger.Info("no events to recover")
	}
	return status, nil
}

// GetRecoveryStatus returns the outcome of the last recovery pass.
func (e *Engine) GetRecoveryStatus() RecoveryStatus {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.recovery
}
