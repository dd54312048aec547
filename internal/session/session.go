// Package session provides the in-memory attendance state for live events.
// It tracks one active event per guild and one session per guild+user, and
// owns all of the minute arithmetic. It performs no I/O; durability is the
// caller's concern.
package session

import (
	"sync"
	"time"
)

// DateFormat is the calendar-date format used for event dates.
// Reward eligibility is per calendar day, so events are keyed by date
// strings rather than timestamps.
const DateFormat = "2006-01-02"

// ActiveEvent is the per-guild record of a live tracked event.
// At most one exists per guild at a time.
type ActiveEvent struct {
	GuildID   string
	ChannelID string
	EventDate string // YYYY-MM-DD
	StartedAt time.Time
}

// UserSession is one user's transient attendance state within a live event.
// A currently open session contributes nothing to the accumulated or longest
// totals until it closes.
type UserSession struct {
	GuildID string
	UserID  string

	// SessionStart is non-nil while the user is inside the tracked channel.
	SessionStart *time.Time

	// AccumulatedMinutes is the sum of all closed-session durations,
	// floored to whole minutes per session.
	AccumulatedMinutes int

	// LongestSessionMinutes is the maximum single closed-session duration.
	LongestSessionMinutes int

	// LastPersistedAt is the instant of the last successful snapshot write.
	// Recovery uses it to estimate time lost to a crash.
	LastPersistedAt time.Time
}

// Totals is the closed-out result for one user at finalize time.
type Totals struct {
	UserID                string
	AccumulatedMinutes    int
	LongestSessionMinutes int
}

// Snapshot is a point-in-time copy of one guild's live state, taken for
// persistence. Sessions are value copies; mutating them does not affect the
// tracker.
type Snapshot struct {
	Event    ActiveEvent
	Sessions []UserSession
}

// MinutesBetween returns the whole minutes elapsed from start to end,
// floored. Flooring is deliberate anti-gaming: an interval under 60 seconds
// credits zero minutes. Negative intervals also credit zero.
func MinutesBetween(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Tracker owns all live attendance state across guilds.
// It is safe for concurrent use; every mutation and read happens under one
// mutex, so a persistence snapshot can never observe a torn write.
type Tracker struct {
	mu       sync.Mutex
	events   map[string]*ActiveEvent             // guildID -> event
	sessions map[string]map[string]*UserSession  // guildID -> userID -> session
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		events:   make(map[string]*ActiveEvent),
		sessions: make(map[string]map[string]*UserSession),
	}
}

// StartEvent installs a live event for the guild, overwriting any existing
// one and discarding that guild's sessions.
func (t *Tracker) StartEvent(guildID, channelID, eventDate string, startedAt time.Time) ActiveEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := &ActiveEvent{
		GuildID:   guildID,
		ChannelID: channelID,
		EventDate: eventDate,
		StartedAt: startedAt,
	}
	t.events[guildID] = ev
	t.sessions[guildID] = make(map[string]*UserSession)
	return *ev
}

// ActiveEvent returns a copy of the guild's live event, if any.
func (t *Tracker) ActiveEvent(guildID string) (ActiveEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev, ok := t.events[guildID]
	if !ok {
		return ActiveEvent{}, false
	}
	return *ev, true
}

// IsActive reports whether the guild has a live event.
func (t *Tracker) IsActive(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.events[guildID]
	return ok
}

// ActiveEvents returns copies of every live event.
func (t *Tracker) ActiveEvents() []ActiveEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]ActiveEvent, 0, len(t.events))
	for _, ev := range t.events {
		result = append(result, *ev)
	}
	return result
}

// HasAnyActive reports whether any guild has a live event.
// The persistence interval uses this to skip writes entirely when idle.
func (t *Tracker) HasAnyActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events) > 0
}

// Join opens a session for the user at the given instant, creating the
// session lazily on first join. Returns false if the guild has no live
// event. A join while a session is already open overwrites the start time;
// this matches the documented platform behavior for duplicate voice-state
// updates.
func (t *Tracker) Join(guildID, userID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.events[guildID]; !ok {
		return false
	}
	s := t.sessionLocked(guildID, userID)
	start := at
	s.SessionStart = &start
	return true
}

// Leave closes the user's open session at the given instant, crediting
// floor(elapsed/1m) minutes. Returns the credited minutes and false if the
// user had no open session.
func (t *Tracker) Leave(guildID, userID string, at time.Time) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.sessions[guildID]
	if !ok {
		return 0, false
	}
	s, ok := users[userID]
	if !ok || s.SessionStart == nil {
		return 0, false
	}
	return s.closeLocked(at), true
}

// InjectMinutes adds minutes directly to the user's accumulated total,
// creating the session if absent, and raises the longest-session figure if
// the injected amount exceeds it. Returns false if the guild has no live
// event: manual credits fail closed rather than creating orphan state.
func (t *Tracker) InjectMinutes(guildID, userID string, minutes int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.events[guildID]; !ok {
		return false
	}
	if minutes <= 0 {
		return true
	}
	s := t.sessionLocked(guildID, userID)
	s.AccumulatedMinutes += minutes
	if minutes > s.LongestSessionMinutes {
		s.LongestSessionMinutes = minutes
	}
	return true
}

// CloseAll synthesizes a leave at the given instant for every open session
// in the guild and returns final totals for every tracked user, then clears
// the guild's state. Returns the event that was live and false if none was.
func (t *Tracker) CloseAll(guildID string, at time.Time) (ActiveEvent, []Totals, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev, ok := t.events[guildID]
	if !ok {
		return ActiveEvent{}, nil, false
	}

	users := t.sessions[guildID]
	totals := make([]Totals, 0, len(users))
	for _, s := range users {
		if s.SessionStart != nil {
			s.closeLocked(at)
		}
		totals = append(totals, Totals{
			UserID:                s.UserID,
			AccumulatedMinutes:    s.AccumulatedMinutes,
			LongestSessionMinutes: s.LongestSessionMinutes,
		})
	}

	event := *ev
	delete(t.events, guildID)
	delete(t.sessions, guildID)
	return event, totals, true
}

// Drop discards the guild's event and sessions without closing anything.
// Used for explicit event cancellation.
func (t *Tracker) Drop(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.events[guildID]
	delete(t.events, guildID)
	delete(t.sessions, guildID)
	return ok
}

// SnapshotAll returns point-in-time copies of every guild's live state.
func (t *Tracker) SnapshotAll() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Snapshot, 0, len(t.events))
	for guildID, ev := range t.events {
		snap := Snapshot{Event: *ev}
		for _, s := range t.sessions[guildID] {
			cpy := *s
			if s.SessionStart != nil {
				start := *s.SessionStart
				cpy.SessionStart = &start
			}
			snap.Sessions = append(snap.Sessions, cpy)
		}
		result = append(result, snap)
	}
	return result
}

// MarkPersisted records a successful snapshot write for the guild.
// Only sessions that still exist are touched; a finalize that raced the
// write simply leaves nothing to mark.
func (t *Tracker) MarkPersisted(guildID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sessions[guildID] {
		s.LastPersistedAt = at
	}
}

// Restore installs recovered state for a guild, replacing anything present.
// Sessions are copied; the caller's slice is not retained.
func (t *Tracker) Restore(ev ActiveEvent, sessions []UserSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	evCopy := ev
	t.events[ev.GuildID] = &evCopy
	users := make(map[string]*UserSession, len(sessions))
	for _, s := range sessions {
		cpy := s
		if s.SessionStart != nil {
			start := *s.SessionStart
			cpy.SessionStart = &start
		}
		users[s.UserID] = &cpy
	}
	t.sessions[ev.GuildID] = users
}

// Session returns a copy of the user's session, if one exists.
func (t *Tracker) Session(guildID, userID string) (UserSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.sessions[guildID]
	if !ok {
		return UserSession{}, false
	}
	s, ok := users[userID]
	if !ok {
		return UserSession{}, false
	}
	cpy := *s
	if s.SessionStart != nil {
		start := *s.SessionStart
		cpy.SessionStart = &start
	}
	return cpy, true
}

// sessionLocked returns the user's session, creating it if absent.
// Must be called with mu held and a live event present.
func (t *Tracker) sessionLocked(guildID, userID string) *UserSession {
	users := t.sessions[guildID]
	if users == nil {
		users = make(map[string]*UserSession)
		t.sessions[guildID] = users
	}
	s, ok := users[userID]
	if !ok {
		s = &UserSession{GuildID: guildID, UserID: userID}
		users[userID] = s
	}
	return s
}

// closeLocked closes an open session at the given instant and returns the
// credited minutes. Must be called with mu held and SessionStart non-nil.
func (s *UserSession) closeLocked(at time.Time) int {
	minutes := MinutesBetween(*s.SessionStart, at)
	s.AccumulatedMinutes += minutes
	if minutes > s.LongestSessionMinutes {
		s.LongestSessionMinutes = minutes
	}
	s.SessionStart = nil
	return minutes
}
