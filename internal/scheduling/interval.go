package scheduling

import "time"

// LegacyAppointmentLength is assumed for stored appointments without an end time.
const LegacyAppointmentLength = 30 * time.Minute

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether a and b share any instant. Intervals that only touch
// (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// HasConflict reports whether candidate overlaps any member of booked.
func HasConflict(candidate Interval, booked []Interval) bool {
	for _, b := range booked {
		if Overlaps(candidate, b) {
			return true
		}
	}
	return false
}

// BookedInterval builds the occupied interval of a stored appointment,
// falling back to LegacyAppointmentLength when end is missing.
func BookedInterval(start time.Time, end *time.Time) Interval {
	if end == nil || end.IsZero() {
		return Interval{Start: start, End: start.Add(LegacyAppointmentLength)}
	}
	return Interval{Start: start, End: *end}
}
