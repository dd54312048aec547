package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.createSnapshotTables(ctx); err != nil {
		return err
	}
	if err := s.createAttendanceTable(ctx); err != nil {
		return err
	}
	return nil
}

// createSnapshotTables creates the crash-recovery snapshot tables.
// Rows in these tables are transient by design: they exist only to survive
// a process crash and are deleted on clean finalize.
func (s *Store) createSnapshotTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS active_events (
		guild_id     TEXT PRIMARY KEY,
		channel_id   TEXT NOT NULL,
		event_date   TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		persisted_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		guild_id                TEXT NOT NULL,
		user_id                 TEXT NOT NULL,
		event_date              TEXT NOT NULL,
		session_start           TEXT,
		accumulated_minutes     INTEGER NOT NULL,
		longest_session_minutes INTEGER NOT NULL,
		persisted_at            TEXT NOT NULL,
		PRIMARY KEY (guild_id, user_id)
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create snapshot tables: %w", err)
	}
	return nil
}

func (s *Store) createAttendanceTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS attendance (
		guild_id                TEXT NOT NULL,
		user_id                 TEXT NOT NULL,
		event_date              TEXT NOT NULL,
		duration_minutes        INTEGER NOT NULL,
		longest_session_minutes INTEGER NOT NULL,
		qualified               INTEGER NOT NULL,
		credited_by             TEXT,
		reason                  TEXT,
		recorded_at             TEXT NOT NULL,
		PRIMARY KEY (guild_id, user_id, event_date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_qualified
		ON attendance(guild_id, user_id, qualified);
	CREATE INDEX IF NOT EXISTS idx_attendance_guild_date
		ON attendance(guild_id, event_date);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create attendance table: %w", err)
	}
	return nil
}
