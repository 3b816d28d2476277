package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Event is a daily solar event a trigger can be relative to.
type Event int

const (
	Sunrise Event = iota + 1
	Sunset
)

func (e Event) String() string {
	switch e {
	case Sunrise:
		return "sunrise"
	case Sunset:
		return "sunset"
	default:
		return "unknown"
	}
}

// ParseEvent parses "sunrise" or "sunset" (case-insensitive).
func ParseEvent(s string) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunrise":
		return Sunrise, nil
	case "sunset":
		return Sunset, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, s)
	}
}

// SunTimes holds the solar instants of one calendar day.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
}

func (s SunTimes) get(e Event) time.Time {
	if e == Sunrise {
		return s.Sunrise
	}
	return s.Sunset
}

type specKind int

const (
	kindFixed specKind = iota
	kindSolar
)

// TimeSpec is one endpoint of a rule: Fixed(clock) or Solar(event), plus an offset.
type TimeSpec struct {
	kind   specKind
	hour   int
	minute int
	event  Event
	offset time.Duration
}

// Fixed returns a clock-time spec. The caller guarantees 0 ≤ hour < 24, 0 ≤ minute < 60.
func Fixed(hour, minute int, offset time.Duration) TimeSpec {
	return TimeSpec{kind: kindFixed, hour: hour, minute: minute, offset: offset}
}

// Solar returns a spec relative to a solar event.
func Solar(event Event, offset time.Duration) TimeSpec {
	return TimeSpec{kind: kindSolar, event: event, offset: offset}
}

// IsSolar reports whether the spec depends on the day's solar times.
func (t TimeSpec) IsSolar() bool { return t.kind == kindSolar }

// Event returns the solar event of a Solar spec.
func (t TimeSpec) Event() Event { return t.event }

// Offset returns the configured offset.
func (t TimeSpec) Offset() time.Duration { return t.offset }

// String renders the spec the way it is written in the device table.
func (t TimeSpec) String() string {
	var base string
	if t.kind == kindSolar {
		base = t.event.String()
	} else {
		base = fmt.Sprintf("%02d:%02d", t.hour, t.minute)
	}

	switch {
	case t.offset > 0:
		return fmt.Sprintf("%s+%s", base, t.offset)
	case t.offset < 0:
		return fmt.Sprintf("%s-%s", base, -t.offset)
	default:
		return base
	}
}

// instant resolves the spec on the calendar day of today (in today's location).
// The offset is added last, so the result may fall on the previous or next day.
func (t TimeSpec) instant(today time.Time, sun SunTimes) (time.Time, error) {
	var base time.Time

	switch t.kind {
	case kindSolar:
		base = sun.get(t.event)
		if base.IsZero() {
			return time.Time{}, fmt.Errorf("%w: no %s on %s", ErrMissingSolar, t.event, today.Format("2006-01-02"))
		}
		base = base.In(today.Location())
	default:
		base = time.Date(today.Year(), today.Month(), today.Day(), t.hour, t.minute, 0, 0, today.Location())
	}

	return base.Add(t.offset), nil
}

// orderKnown reports whether the order of a and b is known without a date.
func orderKnown(a, b TimeSpec) bool {
	if a.kind != b.kind {
		return false
	}
	return a.kind == kindFixed || a.event == b.event
}

// withinDay reports whether a fixed spec, offset included, stays inside
// [00:00, 24:00). Solar specs are only checked once resolved.
func (t TimeSpec) withinDay() bool {
	if t.kind != kindFixed {
		return true
	}
	k := t.sortKey()
	return k >= 0 && k < 24*time.Hour
}

// sortKey orders two comparable specs.
func (t TimeSpec) sortKey() time.Duration {
	if t.kind == kindFixed {
		return time.Duration(t.hour)*time.Hour + time.Duration(t.minute)*time.Minute + t.offset
	}
	return t.offset
}

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseClock parses a 24h "HH:MM" clock time.
func ParseClock(s string) (hour, minute int, err error) {
	matches := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	hour, _ = strconv.Atoi(matches[1])
	minute, _ = strconv.Atoi(matches[2])

	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return hour, minute, nil
}
