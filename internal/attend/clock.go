package attend

import "time"

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultClock is used by the production engine.
var DefaultClock Clock = realClock{}
