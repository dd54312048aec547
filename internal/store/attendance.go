package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertAttendanceSQL = `
INSERT INTO attendance
(guild_id, user_id, event_date, duration_minutes, longest_session_minutes, qualified, credited_by, reason, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(guild_id, user_id, event_date) DO UPDATE SET
	duration_minutes = excluded.duration_minutes,
	longest_session_minutes = excluded.longest_session_minutes,
	qualified = excluded.qualified,
	credited_by = excluded.credited_by,
	reason = excluded.reason,
	recorded_at = excluded.recorded_at
`

// UpsertAttendance writes one attendance record, replacing any existing row
// for the same guild+user+event date. Used by the manual-adjustment paths;
// these are admin-facing writes, so failures propagate to the caller.
func (s *Store) UpsertAttendance(ctx context.Context, rec *AttendanceRecord) error {
	if err := validateAttendance(rec); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, upsertAttendanceSQL, attendanceArgs(rec)...); err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// SaveFinalizedEvent writes the finalize outcome atomically: every user's
// attendance record is upserted and the guild's snapshot rows are deleted in
// the same transaction. Either the event fully finalizes durably or nothing
// changes.
func (s *Store) SaveFinalizedEvent(ctx context.Context, guildID string, recs []AttendanceRecord) error {
	for i := range recs {
		if err := validateAttendance(&recs[i]); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback()

	for i := range recs {
		if _, err := tx.ExecContext(ctx, upsertAttendanceSQL, attendanceArgs(&recs[i])...); err != nil {
			return fmt.Errorf("upsert attendance for %s: %w", recs[i].UserID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_events WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("delete active event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_snapshots WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("delete session snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize tx: %w", err)
	}
	return nil
}

// GetAttendance reads one attendance record.
// Returns ErrNotFound when no row exists.
func (s *Store) GetAttendance(ctx context.Context, guildID, userID, eventDate string) (*AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT guild_id, user_id, event_date, duration_minutes, longest_session_minutes, qualified, credited_by, reason, recorded_at
	FROM attendance
	WHERE guild_id = ? AND user_id = ? AND event_date = ?
	`, guildID, userID, eventDate)

	rec, err := scanAttendance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// CountQualified returns the user's lifetime count of qualified events in
// the guild. This is the read tier assignment is driven by.
func (s *Store) CountQualified(ctx context.Context, guildID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM attendance
	WHERE guild_id = ? AND user_id = ? AND qualified = 1
	`, guildID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count qualified: %w", err)
	}
	return count, nil
}

// ListAttendanceByDate returns every attendance record for one guild+event
// date, ordered by user ID for stable output.
func (s *Store) ListAttendanceByDate(ctx context.Context, guildID, eventDate string) ([]AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT guild_id, user_id, event_date, duration_minutes, longest_session_minutes, qualified, credited_by, reason, recorded_at
	FROM attendance
	WHERE guild_id = ? AND event_date = ?
	ORDER BY user_id ASC
	`, guildID, eventDate)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	result := []AttendanceRecord{}
	for rows.Next() {
		rec, err := scanAttendance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// GuildStats holds aggregated attendance figures for one guild.
type GuildStats struct {
	EventDates       int `json:"event_dates"`
	AttendanceRows   int `json:"attendance_rows"`
	QualifiedRows    int `json:"qualified_rows"`
	DistinctAttendees int `json:"distinct_attendees"`
}

// GetGuildStats aggregates the guild's durable attendance ledger.
func (s *Store) GetGuildStats(ctx context.Context, guildID string) (*GuildStats, error) {
	stats := &GuildStats{}
	err := s.db.QueryRowContext(ctx, `
	SELECT
		COUNT(DISTINCT event_date),
		COUNT(*),
		COALESCE(SUM(CASE WHEN qualified = 1 THEN 1 ELSE 0 END), 0),
		COUNT(DISTINCT user_id)
	FROM attendance
	WHERE guild_id = ?
	`, guildID).Scan(&stats.EventDates, &stats.AttendanceRows, &stats.QualifiedRows, &stats.DistinctAttendees)
	if err != nil {
		return nil, fmt.Errorf("guild stats: %w", err)
	}
	return stats, nil
}

func attendanceArgs(rec *AttendanceRecord) []any {
	qualified := 0
	if rec.Qualified {
		qualified = 1
	}
	return []any{
		rec.GuildID,
		rec.UserID,
		rec.EventDate,
		rec.DurationMinutes,
		rec.LongestSessionMinutes,
		qualified,
		nullable(rec.CreditedBy),
		nullable(rec.Reason),
		rec.RecordedAt.UTC().Format(TimeFormat),
	}
}

func scanAttendance(scan func(dest ...any) error) (*AttendanceRecord, error) {
	var (
		rec        AttendanceRecord
		qualified  int
		creditedBy sql.NullString
		reason     sql.NullString
		recordedAt string
	)
	if err := scan(
		&rec.GuildID, &rec.UserID, &rec.EventDate,
		&rec.DurationMinutes, &rec.LongestSessionMinutes, &qualified,
		&creditedBy, &reason, &recordedAt,
	); err != nil {
		return nil, err
	}

	rec.Qualified = qualified != 0
	rec.CreditedBy = creditedBy.String
	rec.Reason = reason.String

	ts, err := time.Parse(TimeFormat, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
	}
	rec.RecordedAt = ts

	return &rec, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
