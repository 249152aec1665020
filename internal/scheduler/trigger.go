// Package scheduler dispatches target cycles on a wall-clock aligned
// schedule onto a fixed-size worker pool.
package scheduler

import (
	"fmt"
	"time"
)

// Trigger fires every Period at Offset past the period boundary,
// e.g. {5m, 10s} fires at hh:00:10, hh:05:10, hh:10:10 UTC.
type Trigger struct {
	Period time.Duration
	Offset time.Duration
}

// FromLegacy maps the trigger_second / trigger_minutes pair onto a Trigger.
func FromLegacy(second, minutes int) Trigger {
	return Trigger{
		Period: time.Duration(minutes) * time.Minute,
		Offset: time.Duration(second) * time.Second,
	}
}

// Validate checks Period > 0 and 0 <= Offset < Period.
func (t Trigger) Validate() error {
	if t.Period <= 0 {
		return fmt.Errorf("trigger period must be > 0, got %v", t.Period)
	}
	if t.Offset < 0 || t.Offset >= t.Period {
		return fmt.Errorf("trigger offset must be in [0, %v), got %v", t.Period, t.Offset)
	}
	return nil
}

// Next returns the first firing time strictly after now.
func (t Trigger) Next(now time.Time) time.Time {
	next := now.Truncate(t.Period).Add(t.Offset)
	for !next.After(now) {
		next = next.Add(t.Period)
	}
	return next
}

func (t Trigger) String() string {
	return fmt.Sprintf("every %v at +%v", t.Period, t.Offset)
}
