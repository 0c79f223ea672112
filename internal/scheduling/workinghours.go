package scheduling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidWallClock    = errors.New("wall-clock time must be HH:MM")
	ErrInvalidWorkingHours = errors.New("working hours start must be before end")
)

// WallClock is a local time of day in minutes since midnight.
type WallClock int

// ParseWallClock parses "HH:MM" in 24h format.
func ParseWallClock(s string) (WallClock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWallClock, s)
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWallClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWallClock, s)
	}

	return WallClock(h*60 + m), nil
}

func (c WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On places the wall-clock time on the calendar day of date, in date's location.
func (c WallClock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, date.Location())
}

// WorkingHours is a doctor's daily availability window.
type WorkingHours struct {
	Start WallClock
	End   WallClock
}

func NewWorkingHours(start, end WallClock) (WorkingHours, error) {
	if start >= end {
		return WorkingHours{}, fmt.Errorf("%w: %s-%s", ErrInvalidWorkingHours, start, end)
	}
	return WorkingHours{Start: start, End: end}, nil
}

// ParseWorkingHours parses a "HH:MM" pair and checks start < end.
func ParseWorkingHours(start, end string) (WorkingHours, error) {
	s, err := ParseWallClock(start)
	if err != nil {
		return WorkingHours{}, err
	}
	e, err := ParseWallClock(end)
	if err != nil {
		return WorkingHours{}, err
	}
	return NewWorkingHours(s, e)
}

// Length is the duration of the daily window.
func (wh WorkingHours) Length() time.Duration {
	return time.Duration(wh.End-wh.Start) * time.Minute
}

// Window returns the working-hours interval on the day of date.
func (wh WorkingHours) Window(date time.Time) Interval {
	return Interval{Start: wh.Start.On(date), End: wh.End.On(date)}
}

// Contains reports whether iv lies fully inside the window of the day iv starts on.
func (wh WorkingHours) Contains(iv Interval) bool {
	w := wh.Window(iv.Start)
	return !iv.Start.Before(w.Start) && !iv.End.After(w.End)
}

func (wh WorkingHours) String() string {
	return wh.Start.String() + "-" + wh.End.String()
}
