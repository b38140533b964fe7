// Package quiethours decides whether a moment falls inside the daily
// window during which only templated acknowledgments are sent.
package quiethours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is an offset from local midnight
type TimeOfDay time.Duration

// Clock builds a TimeOfDay from hour, minute and second
func Clock(hour, minute, second int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM or HH:MM:SS", s)
	}

	limits := []int{23, 59, 59}
	values := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		values[i] = n
	}

	return Clock(values[0], values[1], values[2]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for env config
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// String formats the time as HH:MM (or HH:MM:SS when seconds are set)
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Of returns the time-of-day of t in its own location
func Of(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute(), t.Second())
}

// IsQuiet reports whether now, seen in loc, falls inside [start, end).
// A window with start > end wraps midnight; start == end is empty.
func IsQuiet(now time.Time, loc *time.Location, start, end TimeOfDay) bool {
	if loc != nil {
		now = now.In(loc)
	}
	t := Of(now)

	if start > end {
		return t >= start || t < end
	}
	return start <= t && t < end
}

// Mode forces the window open or closed regardless of the clock
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeDay   Mode = "day"
	ModeQuiet Mode = "quiet"
)

// Window is a configured quiet-hours window
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
	Mode     Mode
}

// IsQuiet evaluates the window at now. It is meant to be called per
// message, never cached across a tick.
func (w Window) IsQuiet(now time.Time) bool {
	switch w.Mode {
	case ModeDay:
		return false
	case ModeQuiet:
		return true
	}
	return IsQuiet(now, w.Location, w.Start, w.End)
}
