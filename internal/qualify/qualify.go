// Package qualify implements the attendance qualification decision.
// It is pure arithmetic shared by event finalization and the manual
// historical-credit path so both produce identical outcomes.
package qualify

// Mode selects how a user's minutes are judged against the threshold.
type Mode string

const (
	// ModeCumulative qualifies on total minutes summed across all sessions.
	// Users may piece the required time together across comings and goings.
	ModeCumulative Mode = "cumulative"

	// ModeContinuous qualifies on the single longest unbroken session.
	// Short disconnect-reconnect cycles do not count even if their sum
	// clears the bar.
	ModeContinuous Mode = "continuous"
)

// DefaultThresholdMinutes is the qualification threshold used when a guild
// has not configured one.
const DefaultThresholdMinutes = 30

// ParseMode maps a configured string to a Mode.
// Unknown or empty values fall back to ModeCumulative.
func ParseMode(s string) Mode {
	if Mode(s) == ModeContinuous {
		return ModeContinuous
	}
	return ModeCumulative
}

// Qualified reports whether the given totals meet the threshold under mode.
// A threshold of zero or less falls back to DefaultThresholdMinutes.
func Qualified(mode Mode, thresholdMinutes, durationMinutes, longestSessionMinutes int) bool {
	if thresholdMinutes <= 0 {
		thresholdMinutes = DefaultThresholdMinutes
	}
	if mode == ModeContinuous {
		return longestSessionMinutes >= thresholdMinutes
	}
	return durationMinutes >= thresholdMinutes
}
