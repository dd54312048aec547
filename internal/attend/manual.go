package attend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cinebot/attend/internal/audit"
	"github.com/cinebot/attend/internal/qualify"
	"github.com/cinebot/attend/internal/session"
	"github.com/cinebot/attend/internal/store"
)

// AddManualAttendance credits minutes to a user within the guild's live
// event, as if they had been in the channel that long. Returns false with a
// nil error when the guild has no live event; manual credits never create
// orphan state. Minutes must be positive.
func (e *Engine) AddManualAttendance(ctx context.Context, guildID, userID string, minutes int, actorID, reason string) (bool, error) {
	if minutes <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidMinutes, minutes)
	}
	if !e.tracker.InjectMinutes(guildID, userID, minutes) {
		return false, nil
	}

	e.logger.Info("manual attendance credited",
		"guild_id", guildID, "user_id", userID, "minutes", minutes, "actor_id", actorID)

	// Make the credit durable right away; a failed snapshot only widens the
	// recovery window, the in-memory credit already stands.
	if err := e.PersistAll(ctx); err != nil {
		e.logger.Error("snapshot after manual credit failed", "guild_id", guildID, "error", err)
	}

	e.recordAudit(ctx, audit.NewEntry("manual_attendance", guildID, userID, actorID,
		fmt.Sprintf("credited %d minutes: %s", minutes, reason)))
	return true, nil
}

// CreditHistoricalAttendance adds minutes to an already-finalized event
// date, creating the record if none exists, and re-evaluates qualification
// under the guild's current policy. Returns the stored record.
func (e *Engine) CreditHistoricalAttendance(ctx context.Context, guildID, userID, eventDate string, minutes int, actorID, reason string) (*store.AttendanceRecord, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMinutes, minutes)
	}
	if _, err := time.Parse(session.DateFormat, eventDate); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventDate, eventDate)
	}

	existing, err := e.store.GetAttendance(ctx, guildID, userID, eventDate)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("credit historical attendance: %w", err)
	}

	rec := &store.AttendanceRecord{
		GuildID:    guildID,
		UserID:     userID,
		EventDate:  eventDate,
		CreditedBy: actorID,
		Reason:     reason,
		RecordedAt: e.clock.Now(),
	}
	if existing != nil {
		rec.DurationMinutes = existing.DurationMinutes
		rec.LongestSessionMinutes = existing.LongestSessionMinutes
	}
	rec.DurationMinutes += minutes
	if minutes > rec.LongestSessionMinutes {
		rec.LongestSessionMinutes = minutes
	}

	gs := e.settings.GuildSettings(guildID)
	rec.Qualified = qualify.Qualified(gs.Mode, gs.ThresholdMinutes, rec.DurationMinutes, rec.LongestSessionMinutes)

	if err := e.store.UpsertAttendance(ctx, rec); err != nil {
		return nil, fmt.Errorf("credit historical attendance: %w", err)
	}

	e.logger.Info("historical attendance credited",
		"guild_id", guildID, "user_id", userID, "event_date", eventDate,
		"minutes", minutes, "qualified", rec.Qualified, "actor_id", actorID)
	e.recordAudit(ctx, audit.NewEntry("historical_credit", guildID, userID, actorID,
		fmt.Sprintf("credited %d minutes for %s: %s", minutes, eventDate, reason)))
	return rec, nil
}

// BumpResult reports what BumpAttendance did.
type BumpResult struct {
	// Created is true when a qualifying record was written.
	Created bool
	// PreviouslyQualified is true when the user already qualified for the
	// date and nothing was written.
	PreviouslyQualified bool
}

// BumpAttendance marks a user as qualified for an event date regardless of
// tracked time, raising their recorded duration to the guild threshold if
// needed. Already-qualified users are left untouched.
func (e *Engine) BumpAttendance(ctx context.Context, guildID, userID, eventDate, actorID, reason string) (BumpResult, error) {
	if _, err := time.Parse(session.DateFormat, eventDate); err != nil {
		return BumpResult{}, fmt.Errorf("%w: %q", ErrInvalidEventDate, eventDate)
	}

	existing, err := e.store.GetAttendance(ctx, guildID, userID, eventDate)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return BumpResult{}, fmt.Errorf("bump attendance: %w", err)
	}
	if existing != nil && existing.Qualified {
		return BumpResult{PreviouslyQualified: true}, nil
	}

	gs := e.settings.GuildSettings(guildID)
	rec := &store.AttendanceRecord{
		GuildID:    guildID,
		UserID:     userID,
		EventDate:  eventDate,
		Qualified:  true,
		CreditedBy: actorID,
		Reason:     reason,
		RecordedAt: e.clock.Now(),
	}
	if existing != nil {
		rec.DurationMinutes = existing.DurationMinutes
		rec.LongestSessionMinutes = existing.LongestSessionMinutes
	}
	if rec.DurationMinutes < gs.ThresholdMinutes {
		rec.DurationMinutes = gs.ThresholdMinutes
	}
	if rec.LongestSessionMinutes < gs.ThresholdMinutes {
		rec.LongestSessionMinutes = gs.ThresholdMinutes
	}

	if err := e.store.UpsertAttendance(ctx, rec); err != nil {
		return BumpResult{}, fmt.Errorf("bump attendance: %w", err)
	}

	e.logger.Info("attendance bumped",
		"guild_id", guildID, "user_id", userID, "event_date", eventDate, "actor_id", actorID)
	e.recordAudit(ctx, audit.NewEntry("attendance_bump", guildID, userID, actorID,
		fmt.Sprintf("marked qualified for %s: %s", eventDate, reason)))
	return BumpResult{Created: true}, nil
}
