// Package scheduling holds the pure slot arithmetic used by the booking service:
// working-hours windows, slot generation and half-open overlap checks.
package scheduling

import (
	"iter"
	"time"
)

const DefaultGranularity = 15 * time.Minute

// GenerateSlots yields candidate slots of the given duration on date's calendar
// day, starting at working-hours start and stepping by granularity. A slot is
// only yielded when it ends at or before working-hours end. The sequence is
// empty when duration does not fit strictly inside the window.
func GenerateSlots(date time.Time, wh WorkingHours, duration, granularity time.Duration) iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		if duration <= 0 || granularity <= 0 || wh.Start >= wh.End {
			return
		}
		if duration >= wh.Length() {
			return
		}

		window := wh.Window(date)
		for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(granularity) {
			if !yield(Interval{Start: t, End: t.Add(duration)}) {
				return
			}
		}
	}
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
