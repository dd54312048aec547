// Package attend orchestrates timed attendance tracking: live event
// lifecycle, voice presence handling, periodic durable snapshots, crash
// recovery, qualification, and manual adjustments.
package attend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cinebot/attend/internal/audit"
	"github.com/cinebot/attend/internal/platform"
	"github.com/cinebot/attend/internal/qualify"
	"github.com/cinebot/attend/internal/session"
	"github.com/cinebot/attend/internal/store"
	"github.com/cinebot/attend/internal/tier"
)

// DefaultSnapshotInterval is how often live state is dumped to storage.
// Losing one interval's worth of precision on crash is the accepted bound.
const DefaultSnapshotInterval = 5 * time.Minute

// Storage is the durable store surface the engine needs.
// Implemented by *store.Store.
type Storage interface {
	SaveGuildSnapshot(ctx context.Context, snap session.Snapshot, persistedAt time.Time) error
	DeleteGuildSnapshots(ctx context.Context, guildID string) error
	ListActiveEvents(ctx context.Context, logger *slog.Logger) ([]store.RecoveredEvent, int, error)
	ListSessionSnapshots(ctx context.Context, guildID string, logger *slog.Logger) ([]session.UserSession, int, error)
	SaveFinalizedEvent(ctx context.Context, guildID string, recs []store.AttendanceRecord) error
	UpsertAttendance(ctx context.Context, rec *store.AttendanceRecord) error
	GetAttendance(ctx context.Context, guildID, userID, eventDate string) (*store.AttendanceRecord, error)
	CountQualified(ctx context.Context, guildID, userID string) (int, error)
}

// Engine owns the live session state and drives everything around it.
type Engine struct {
	tracker  *session.Tracker
	store    Storage
	settings SettingsSource
	voice    platform.VoicePresence
	sink     audit.Sink
	assigner *tier.Assigner
	clock    Clock
	logger   *slog.Logger
	interval time.Duration

	// persistence loop state
	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// recovery diagnostics
	recMu    sync.Mutex
	recovery RecoveryStatus

	// runtime panic-freeze overlay on top of configured settings
	panicMu  sync.Mutex
	panicked map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithVoicePresence enables retroactive crediting at event start.
func WithVoicePresence(v platform.VoicePresence) Option {
	return func(e *Engine) { e.voice = v }
}

// WithAuditSink enables audit entries for administrative actions.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithTierAssigner enables UpdateTierRole.
func WithTierAssigner(a *tier.Assigner) Option {
	return func(e *Engine) { e.assigner = a }
}

// WithClock sets the time source (for testing).
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSnapshotInterval sets the persistence interval.
func WithSnapshotInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// New creates an Engine. Call RecoverPersistedSessions before delivering
// voice events, then StartSessionPersistence.
func New(st Storage, settings SettingsSource, opts ...Option) *Engine {
	e := &Engine{
		tracker:  session.New(),
		store:    st,
		settings: settings,
		sink:     audit.NopSink{},
		clock:    DefaultClock,
		logger:   slog.Default(),
		interval: DefaultSnapshotInterval,
		panicked: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartEvent begins tracking a guild's event, overwriting any event already
// live for that guild. Every non-bot user currently in the channel is
// retroactively credited as having joined at event start; channel lookup
// failures degrade to zero retroactive credits, never an error. A snapshot
// is written immediately so a crash right after start loses nothing.
// Returns the count of retroactively credited users.
func (e *Engine) StartEvent(ctx context.Context, guildID, channelID, eventDate string) (int, error) {
	if _, err := time.Parse(session.DateFormat, eventDate); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEventDate, eventDate)
	}

	now := e.clock.Now()
	e.tracker.StartEvent(guildID, channelID, eventDate, now)

	credited := 0
	if e.voice != nil {
		members, err := e.voice.ChannelMembers(ctx, guildID, channelID)
		if err != nil {
			e.logger.Warn("channel member lookup failed, no retroactive credits",
				"guild_id", guildID, "channel_id", channelID, "error", err)
		} else {
			for _, userID := range members {
				if e.tracker.Join(guildID, userID, now) {
					credited++
				}
			}
		}
	}

	e.logger.Info("event started",
		"guild_id", guildID, "channel_id", channelID, "event_date", eventDate, "retro_credits", credited)

	// Snapshot failures only widen the recovery window; never surface them.
	if err := e.PersistAll(ctx); err != nil {
		e.logger.Error("initial snapshot failed", "guild_id", guildID, "error", err)
	}

	return credited, nil
}

// IsEventActive reports whether the guild has a live event.
func (e *Engine) IsEventActive(guildID string) bool {
	return e.tracker.IsActive(guildID)
}

// GetActiveEvent returns the guild's live event, if any.
func (e *Engine) GetActiveEvent(guildID string) (session.ActiveEvent, bool) {
	return e.tracker.ActiveEvent(guildID)
}

// ActiveEvents returns every live event (for diagnostics).
func (e *Engine) ActiveEvents() []session.ActiveEvent {
	return e.tracker.ActiveEvents()
}

// HandleVoiceJoin records a user entering the tracked channel.
// No-op when the guild has no live event.
func (e *Engine) HandleVoiceJoin(guildID, userID string) {
	if e.tracker.Join(guildID, userID, e.clock.Now()) {
		e.logger.Debug("voice join", "guild_id", guildID, "user_id", userID)
	}
}

// HandleVoiceLeave records a user leaving the tracked channel, crediting
// floored whole minutes. No-op when the user has no open session.
func (e *Engine) HandleVoiceLeave(guildID, userID string) {
	if minutes, ok := e.tracker.Leave(guildID, userID, e.clock.Now()); ok {
		e.logger.Debug("voice leave", "guild_id", guildID, "user_id", userID, "minutes", minutes)
	}
}

// FinalizeResult summarizes a finalized event.
type FinalizeResult struct {
	EventDate string
	Users     int
	Qualified int
}

// FinalizeEvent ends the guild's event: open sessions are closed at "now",
// each user is judged under the guild's qualification policy, attendance
// records and snapshot cleanup are written in one transaction, and
// in-memory state is cleared. Returns ErrNoActiveEvent when the guild has
// nothing live; calling twice is therefore a safe no-op.
func (e *Engine) FinalizeEvent(ctx context.Context, guildID string) (*FinalizeResult, error) {
	now := e.clock.Now()

	ev, totals, ok := e.tracker.CloseAll(guildID, now)
	if !ok {
		e.logger.Info("finalize called with no active event", "guild_id", guildID)
		return nil, ErrNoActiveEvent
	}

	gs := e.settings.GuildSettings(guildID)

	recs := make([]store.AttendanceRecord, 0, len(totals))
	qualified := 0
	for _, tot := range totals {
		q := qualify.Qualified(gs.Mode, gs.ThresholdMinutes, tot.AccumulatedMinutes, tot.LongestSessionMinutes)
		if q {
			qualified++
		}
		recs = append(recs, store.AttendanceRecord{
			GuildID:               guildID,
			UserID:                tot.UserID,
			EventDate:             ev.EventDate,
			DurationMinutes:       tot.AccumulatedMinutes,
			LongestSessionMinutes: tot.LongestSessionMinutes,
			Qualified:             q,
			RecordedAt:            now,
		})
	}

	if err := e.store.SaveFinalizedEvent(ctx, guildID, recs); err != nil {
		// Put the closed totals back so the caller can retry; the durable
		// snapshot rows are still in place for crash recovery.
		restored := make([]session.UserSession, 0, len(totals))
		for _, tot := range totals {
			restored = append(restored, session.UserSession{
				GuildID:               guildID,
				UserID:                tot.UserID,
				AccumulatedMinutes:    tot.AccumulatedMinutes,
				LongestSessionMinutes: tot.LongestSessionMinutes,
			})
		}
		e.tracker.Restore(ev, restored)
		return nil, fmt.Errorf("finalize event: %w", err)
	}

	e.logger.Info("event finalized",
		"guild_id", guildID, "event_date", ev.EventDate,
		"users", len(recs), "qualified", qualified,
		"mode", gs.Mode, "threshold_minutes", gs.ThresholdMinutes)

	return &FinalizeResult{EventDate: ev.EventDate, Users: len(recs), Qualified: qualified}, nil
}

// CancelEvent drops the guild's live event without writing any attendance,
// removing both in-memory state and the durable snapshot rows.
func (e *Engine) CancelEvent(ctx context.Context, guildID string, actorID string) error {
	if !e.tracker.Drop(guildID) {
		return ErrNoActiveEvent
	}
	if err := e.store.DeleteGuildSnapshots(ctx, guildID); err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}

	e.logger.Info("event cancelled", "guild_id", guildID, "actor_id", actorID)
	e.recordAudit(ctx, audit.NewEntry("event_cancel", guildID, "", actorID, "event cancelled, no attendance written"))
	return nil
}

// QualifiedEventCount returns the user's lifetime qualified-event count.
func (e *Engine) QualifiedEventCount(ctx context.Context, guildID, userID string) (int, error) {
	return e.store.CountQualified(ctx, guildID, userID)
}

// UpdateTierRole reconciles the user's reward role from their lifetime
// qualified count, honoring both the configured and the runtime panic
// freeze.
func (e *Engine) UpdateTierRole(ctx context.Context, guildID, userID string) (tier.Result, error) {
	if e.assigner == nil {
		return tier.Result{}, ErrNoTierAssigner
	}
	gs := e.settings.GuildSettings(guildID)
	set := tier.Settings{
		Tiers:       gs.Tiers,
		PanicFrozen: gs.PanicFrozen || e.isPanicFrozen(guildID),
	}
	return e.assigner.UpdateTierRole(ctx, guildID, userID, set)
}

// SetPanicFreeze toggles the runtime freeze on role changes for a guild.
func (e *Engine) SetPanicFreeze(guildID string, frozen bool) {
	e.panicMu.Lock()
	defer e.panicMu.Unlock()
	if frozen {
		e.panicked[guildID] = true
	} else {
		delete(e.panicked, guildID)
	}
}

func (e *Engine) isPanicFrozen(guildID string) bool {
	e.panicMu.Lock()
	defer e.panicMu.Unlock()
	return e.panicked[guildID]
}

// recordAudit delivers an audit entry, logging delivery failures.
// Audit is best-effort everywhere.
func (e *Engine) recordAudit(ctx context.Context, entry audit.Entry) {
	if err := e.sink.Record(ctx, entry); err != nil {
		e.logger.Warn("audit entry failed", "action", entry.Action, "error", err)
	}
}
