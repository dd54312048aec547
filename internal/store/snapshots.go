package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cinebot/attend/internal/session"
)

// SaveGuildSnapshot durably replaces one guild's snapshot rows with the
// given point-in-time copy: one active_events upsert plus a full rewrite of
// that guild's session_snapshots rows, all in one transaction. Sessions with
// no open session_start are written too; their accumulated totals must also
// survive a crash. The write is idempotent.
func (s *Store) SaveGuildSnapshot(ctx context.Context, snap session.Snapshot, persistedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	ev := snap.Event
	const upsertEvent = `
	INSERT INTO active_events (guild_id, channel_id, event_date, started_at, persisted_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(guild_id) DO UPDATE SET
		channel_id = excluded.channel_id,
		event_date = excluded.event_date,
		started_at = excluded.started_at,
		persisted_at = excluded.persisted_at
	`
	if _, err := tx.ExecContext(ctx, upsertEvent,
		ev.GuildID,
		ev.ChannelID,
		ev.EventDate,
		ev.StartedAt.UTC().Format(TimeFormat),
		persistedAt.UTC().Format(TimeFormat),
	); err != nil {
		return fmt.Errorf("upsert active event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_snapshots WHERE guild_id = ?`, ev.GuildID); err != nil {
		return fmt.Errorf("clear session snapshots: %w", err)
	}

	const insertSession = `
	INSERT INTO session_snapshots
	(guild_id, user_id, event_date, session_start, accumulated_minutes, longest_session_minutes, persisted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, us := range snap.Sessions {
		row := sessionToRow(us, ev.EventDate, persistedAt)
		if _, err := tx.ExecContext(ctx, insertSession,
			row.GuildID,
			row.UserID,
			row.EventDate,
			row.SessionStart,
			row.AccumulatedMinutes,
			row.LongestSessionMinutes,
			row.PersistedAt,
		); err != nil {
			return fmt.Errorf("insert session snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// DeleteGuildSnapshots removes all snapshot rows for a guild. Called on
// clean finalize and on cancellation; snapshot rows surviving a clean
// finalize are a bug.
func (s *Store) DeleteGuildSnapshots(ctx context.Context, guildID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_events WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("delete active event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_snapshots WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("delete session snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// RecoveredEvent pairs a reconstructed active event with the instant its
// snapshot was written.
type RecoveredEvent struct {
	Event       session.ActiveEvent
	PersistedAt time.Time
}

// ListActiveEvents reads every persisted active-event row. Malformed rows
// are skipped and logged, never fatal: recovery must always make it through
// the readable remainder. Returns the recovered events and the count of
// rows skipped.
func (s *Store) ListActiveEvents(ctx context.Context, logger *slog.Logger) ([]RecoveredEvent, int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT guild_id, channel_id, event_date, started_at, persisted_at
	FROM active_events
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("query active events: %w", err)
	}
	defer rows.Close()

	var (
		result  []RecoveredEvent
		skipped int
	)
	for rows.Next() {
		var r activeEventRow
		if err := rows.Scan(&r.GuildID, &r.ChannelID, &r.EventDate, &r.StartedAt, &r.PersistedAt); err != nil {
			return nil, skipped, fmt.Errorf("scan active event: %w", err)
		}
		ev, persistedAt, err := r.toActiveEvent()
		if err != nil {
			logger.Warn("skipping malformed active event row", "guild_id", r.GuildID, "error", err)
			skipped++
			continue
		}
		result = append(result, RecoveredEvent{Event: ev, PersistedAt: persistedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, skipped, fmt.Errorf("rows error: %w", err)
	}

	return result, skipped, nil
}

// ListSessionSnapshots reads every persisted session row for a guild.
// Malformed rows are skipped and logged; returns the sessions and the count
// of rows skipped.
func (s *Store) ListSessionSnapshots(ctx context.Context, guildID string, logger *slog.Logger) ([]session.UserSession, int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT guild_id, user_id, event_date, session_start, accumulated_minutes, longest_session_minutes, persisted_at
	FROM session_snapshots
	WHERE guild_id = ?
	`, guildID)
	if err != nil {
		return nil, 0, fmt.Errorf("query session snapshots: %w", err)
	}
	defer rows.Close()

	var (
		result  []session.UserSession
		skipped int
	)
	for rows.Next() {
		var r sessionRow
		if err := rows.Scan(
			&r.GuildID, &r.UserID, &r.EventDate, &r.SessionStart,
			&r.AccumulatedMinutes, &r.LongestSessionMinutes, &r.PersistedAt,
		); err != nil {
			return nil, skipped, fmt.Errorf("scan session snapshot: %w", err)
		}
		us, err := r.toUserSession()
		if err != nil {
			logger.Warn("skipping malformed session row",
				"guild_id", r.GuildID, "user_id", r.UserID, "error", err)
			skipped++
			continue
		}
		result = append(result, us)
	}
	if err := rows.Err(); err != nil {
		return nil, skipped, fmt.Errorf("rows error: %w", err)
	}

	return result, skipped, nil
}

// CountGuildSnapshots returns the number of session snapshot rows for a
// guild (for testing and diagnostics).
func (s *Store) CountGuildSnapshots(ctx context.Context, guildID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_snapshots WHERE guild_id = ?`, guildID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count session snapshots: %w", err)
	}
	return count, nil
}
