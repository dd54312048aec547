package attend

import "errors"

// Sentinel errors for the attend package. Invalid-state calls (finalizing
// with no event, crediting with no event) are expected caller races and are
// reported with these values rather than panics.
var (
	// ErrNoActiveEvent is returned when an operation requires a live event
	// and the guild has none.
	ErrNoActiveEvent = errors.New("no active event")

	// ErrInvalidEventDate is returned for event dates not in YYYY-MM-DD form.
	ErrInvalidEventDate = errors.New("invalid event date")

	// ErrInvalidMinutes is returned for non-positive manual minute credits.
	ErrInvalidMinutes = errors.New("minutes must be positive")

	// ErrNoTierAssigner is returned when tier updates are requested but no
	// assigner was configured.
	ErrNoTierAssigner = errors.New("no tier assigner configured")
)
