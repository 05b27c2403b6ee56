// Package periodic provides a small rate-limiting gate used to keep
// noisy log lines from firing on every scheduler tick (spec §4.3).
package periodic

import "time"

// Gate returns true at most once per interval of wall-clock time. It
// is a value-type timer, not global state (spec §9: "Periodic log
// gates: implement as small value-type timers owned by the
// coordinator").
type Gate struct {
	interval time.Duration
	last     time.Time
}

// New creates a Gate that fires immediately on its first Poll and
// thereafter at most once per interval.
func New(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Poll reports whether interval has elapsed since the last true
// result, resetting the clock when it does.
func (g *Gate) Poll() bool {
	now := time.Now()
	if g.last.IsZero() || now.Sub(g.last) >= g.interval {
		g.last = now
		return true
	}
	return false
}

// Reset clears the gate so the next Poll fires immediately.
func (g *Gate) Reset() {
	g.last = time.Time{}
}
