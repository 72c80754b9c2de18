// Package period computes wall-clock-aligned window boundaries.
//
// Windows are aligned to a fixed duration (e.g. 5 minutes) in a configured
// IANA time zone, not UTC. The alignment must be computed in the zone's
// local wall clock so that zones with non-whole-hour offsets still produce
// windows that start on clean local-minute boundaries.
package period

import (
	"fmt"
	"time"
)

// Clock computes window boundaries for a fixed duration in a fixed zone.
type Clock struct {
	loc      *time.Location
	duration time.Duration
}

// New creates a Clock for the given IANA zone name and window duration.
func New(zone string, duration time.Duration) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", zone, err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("window duration must be positive, got %s", duration)
	}
	if duration%time.Minute != 0 {
		return nil, fmt.Errorf("window duration must be a whole number of minutes, got %s", duration)
	}
	return &Clock{loc: loc, duration: duration}, nil
}

// WindowFor returns the epoch-second start of the window containing ts
// (unix seconds), floored to a multiple of the window duration in the
// configured zone's local minute-of-hour arithmetic.
func (c *Clock) WindowFor(ts int64) int64 {
	t := time.Unix(ts, 0).In(c.loc)

	durMinutes := int(c.duration / time.Minute)
	minuteOfHour := t.Minute()
	flooredMinute := (minuteOfHour / durMinutes) * durMinutes

	floored := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), flooredMinute, 0, 0, c.loc)
	return floored.Unix()
}

// CurrentWindow returns WindowFor(now).
func (c *Clock) CurrentWindow(now time.Time) int64 {
	return c.WindowFor(now.Unix())
}

// Duration returns the configured window duration.
func (c *Clock) Duration() time.Duration {
	return c.duration
}

// NextWindow returns the start of the window following the one containing ts.
func (c *Clock) NextWindow(ts int64) int64 {
	return c.WindowFor(ts) + int64(c.duration/time.Second)
}

// Boundaries returns the absolute times, in the local process clock (UTC
// offset preserved via time.Time, not re-zoned), of the key coordinator
// transition points for the window starting at startEpoch: arm (T-30s),
// prepare (T-5s), decide (T+0), and close (T+0+sweepBudget).
type Boundaries struct {
	Arm     time.Time
	Prepare time.Time
	Decide  time.Time
	Close   time.Time
}

// BoundariesFor computes the transition timestamps for a window, given the
// sweep time budget that bounds how long "sweeping" may run past T+0.
//
// T+0 is the moment the window closes — startEpoch + the window duration —
// since that is when the oracle close-price becomes available and the
// winning outcome is determined. Arm/prepare happen shortly before close so
// discovery, subscriptions, and signing metadata are ready by T+0.
func (c *Clock) BoundariesFor(startEpoch int64, sweepBudget time.Duration) Boundaries {
	closeAt := time.Unix(startEpoch, 0).Add(c.duration)
	return Boundaries{
		Arm:     closeAt.Add(-30 * time.Second),
		Prepare: closeAt.Add(-5 * time.Second),
		Decide:  closeAt,
		Close:   closeAt.Add(sweepBudget),
	}
}
