package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cinebot/attend/internal/session"
)

// activeEventRow is the internal type representing an active_events row.
type activeEventRow struct {
	GuildID     string
	ChannelID   string
	EventDate   string
	StartedAt   string
	PersistedAt string
}

// sessionRow is the internal type representing a session_snapshots row.
type sessionRow struct {
	GuildID               string
	UserID                string
	EventDate             string
	SessionStart          sql.NullString
	AccumulatedMinutes    int
	LongestSessionMinutes int
	PersistedAt           string
}

// toActiveEvent converts a database row to a session.ActiveEvent plus the
// instant it was persisted.
func (r *activeEventRow) toActiveEvent() (session.ActiveEvent, time.Time, error) {
	startedAt, err := time.Parse(TimeFormat, r.StartedAt)
	if err != nil {
		return session.ActiveEvent{}, time.Time{}, fmt.Errorf("parse started_at %q: %w", r.StartedAt, err)
	}
	persistedAt, err := time.Parse(TimeFormat, r.PersistedAt)
	if err != nil {
		return session.ActiveEvent{}, time.Time{}, fmt.Errorf("parse persisted_at %q: %w", r.PersistedAt, err)
	}
	if _, err := time.Parse(session.DateFormat, r.EventDate); err != nil {
		return session.ActiveEvent{}, time.Time{}, fmt.Errorf("parse event_date %q: %w", r.EventDate, err)
	}

	return session.ActiveEvent{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		EventDate: r.EventDate,
		StartedAt: startedAt,
	}, persistedAt, nil
}

// toUserSession converts a database row to a session.UserSession.
func (r *sessionRow) toUserSession() (session.UserSession, error) {
	persistedAt, err := time.Parse(TimeFormat, r.PersistedAt)
	if err != nil {
		return session.UserSession{}, fmt.Errorf("parse persisted_at %q: %w", r.PersistedAt, err)
	}

	s := session.UserSession{
		GuildID:               r.GuildID,
		UserID:                r.UserID,
		AccumulatedMinutes:    r.AccumulatedMinutes,
		LongestSessionMinutes: r.LongestSessionMinutes,
		LastPersistedAt:       persistedAt,
	}

	if r.SessionStart.Valid && r.SessionStart.String != "" {
		start, err := time.Parse(TimeFormat, r.SessionStart.String)
		if err != nil {
			return session.UserSession{}, fmt.Errorf("parse session_start %q: %w", r.SessionStart.String, err)
		}
		s.SessionStart = &start
	}

	if s.AccumulatedMinutes < 0 || s.LongestSessionMinutes < 0 {
		return session.UserSession{}, fmt.Errorf("%w: negative minutes", ErrInvalidRecord)
	}

	return s, nil
}

// sessionToRow converts a session snapshot copy to a database row.
func sessionToRow(s session.UserSession, eventDate string, persistedAt time.Time) *sessionRow {
	r := &sessionRow{
		GuildID:               s.GuildID,
		UserID:                s.UserID,
		EventDate:             eventDate,
		AccumulatedMinutes:    s.AccumulatedMinutes,
		LongestSessionMinutes: s.LongestSessionMinutes,
		PersistedAt:           persistedAt.UTC().Format(TimeFormat),
	}
	if s.SessionStart != nil {
		r.SessionStart = sql.NullString{String: s.SessionStart.UTC().Format(TimeFormat), Valid: true}
	}
	return r
}

// AttendanceRecord is the durable per-guild+user+event-date attendance row.
// It is upserted on finalize and by manual adjustments; normal operation
// never deletes one.
type AttendanceRecord struct {
	GuildID               string `json:"guild_id"`
	UserID                string `json:"user_id"`
	EventDate             string `json:"event_date"` // YYYY-MM-DD
	DurationMinutes       int    `json:"duration_minutes"`
	LongestSessionMinutes int    `json:"longest_session_minutes"`
	Qualified             bool   `json:"qualified"`

	// CreditedBy and Reason are set only by manual adjustments.
	CreditedBy string `json:"credited_by,omitempty"`
	Reason     string `json:"reason,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// validateAttendance checks that required fields are set.
func validateAttendance(rec *AttendanceRecord) error {
	if rec.GuildID == "" {
		return fmt.Errorf("%w: guild_id is required", ErrInvalidRecord)
	}
	if rec.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRecord)
	}
	if _, err := time.Parse(session.DateFormat, rec.EventDate); err != nil {
		return fmt.Errorf("%w: bad event_date %q", ErrInvalidRecord, rec.EventDate)
	}
	if rec.DurationMinutes < 0 || rec.LongestSessionMinutes < 0 {
		return fmt.Errorf("%w: negative minutes", ErrInvalidRecord)
	}
	return nil
}
