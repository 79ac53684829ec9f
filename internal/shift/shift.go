// Package shift resolves the active production shift for an instant from a
// set of time-of-day windows, some of which may cross midnight.
package shift

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of a shift date key.
const DateLayout = "2006-01-02"

const minutesPerDay = 24 * 60

var (
	// ErrUnresolved reports that no configured window matched an instant.
	ErrUnresolved = errors.New("no shift window matches")
	// ErrInvalidWindows reports a malformed window configuration.
	ErrInvalidWindows = errors.New("invalid shift windows")
)

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock is ParseClock for constants; it panics on bad input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock { return Clock(t.Hour()*60 + t.Minute()) }

// Window is one shift's time-of-day interval. End < Start denotes a window
// that crosses midnight.
type Window struct {
	Number int
	Start  Clock
	End    Clock
}

// CrossesMidnight reports whether the window ends on the following day.
func (w Window) CrossesMidnight() bool { return w.End < w.Start }

func (w Window) String() string {
	return fmt.Sprintf("shift %d %s-%s", w.Number, w.Start, w.End)
}

// DefaultWindows is the factory shift plan.
func DefaultWindows() []Window {
	return []Window{
		{Number: 1, Start: MustClock("05:30"), End: MustClock("14:20")},
		{Number: 2, Start: MustClock("14:20"), End: MustClock("00:10")},
		{Number: 3, Start: MustClock("00:10"), End: MustClock("05:30")},
	}
}

// Resolution is the shift active at an instant.
type Resolution struct {
	Number int
	// Date is midnight of the shift date in the resolving location.
	Date time.Time
	// Degraded is set when no window matched and the fallback was used.
	Degraded bool
}

// DateKey returns the shift date as YYYY-MM-DD.
func (r Resolution) DateKey() string { return r.Date.Format(DateLayout) }

// Equal reports whether two resolutions name the same shift instance.
func (r Resolution) Equal(o Resolution) bool {
	return r.Number == o.Number && r.DateKey() == o.DateKey()
}

func (r Resolution) String() string {
	return fmt.Sprintf("shift %d of %s", r.Number, r.DateKey())
}

// Resolve returns the shift active at now. Windows are evaluated by ascending
// shift number. A same-day window is active when start <= t < end. A midnight-crossing
// window is active for today when t >= start and for yesterday when t < end.
// When nothing matches the result is shift 1 of today with Degraded set.
func Resolve(now time.Time, windows []Window) Resolution {
	minutes := ClockOf(now)
	today := midnight(now)
	ordered := append([]Window(nil), windows...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })
	for _, w := range ordered {
		switch {
		case w.End > w.Start:
			if w.Start <= minutes && minutes < w.End {
				return Resolution{Number: w.Number, Date: today}
			}
		case w.End < w.Start:
			if minutes >= w.Start {
				return Resolution{Number: w.Number, Date: today}
			}
			if minutes < w.End {
				return Resolution{Number: w.Number, Date: today.AddDate(0, 0, -1)}
			}
		}
	}
	return Resolution{Number: 1, Date: today, Degraded: true}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Validate checks that windows are numbered uniquely, non-empty, and cover
// every minute of the day exactly once.
func Validate(windows []Window) error {
	if len(windows) == 0 {
		return fmt.Errorf("%w: none configured", ErrInvalidWindows)
	}
	seen := make(map[int]bool, len(windows))
	for _, w := range windows {
		if w.Number <= 0 {
			return fmt.Errorf("%w: shift number must be positive, got %d", ErrInvalidWindows, w.Number)
		}
		if seen[w.Number] {
			return fmt.Errorf("%w: duplicate shift number %d", ErrInvalidWindows, w.Number)
		}
		seen[w.Number] = true
		if w.Start == w.End {
			return fmt.Errorf("%w: %s is empty", ErrInvalidWindows, w)
		}
		if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End >= minutesPerDay {
			return fmt.Errorf("%w: %s out of range", ErrInvalidWindows, w)
		}
	}
	var cover [minutesPerDay]int
	for _, w := range windows {
		for m := w.Start; m != w.End; m = (m + 1) % minutesPerDay {
			cover[m]++
		}
	}
	for m, n := range cover {
		switch {
		case n == 0:
			return fmt.Errorf("%w: %s is not covered by any window", ErrInvalidWindows, Clock(m))
		case n > 1:
			return fmt.Errorf("%w: %s is covered by %d windows", ErrInvalidWindows, Clock(m), n)
		}
	}
	return nil
}
