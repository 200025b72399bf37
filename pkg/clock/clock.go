// Package clock provides the wall-clock capability consulted by the time
// schedule and the FSM. It is always injected explicitly at construction —
// never a process-wide singleton — so tests can supply a controllable clock
// without mutating global state.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the capability every time-schedule and FSM computation consults.
// It is satisfied by both the real clock and a mock.
type Clock = clock.Clock

// New returns the real, system-backed clock.
func New() Clock {
	return clock.New()
}

// NewMock returns a deterministic clock for tests, starting at the Unix
// epoch until Set or Add is called.
func NewMock() *clock.Mock {
	return clock.NewMock()
}

// UnixSeconds returns the current time from c as Unix seconds, the unit the
// time-schedule formulas operate on.
func UnixSeconds(c Clock) int64 {
	return c.Now().Unix()
}

// FromUnixSeconds converts a schedule timestamp back to a time.Time in UTC.
func FromUnixSeconds(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
