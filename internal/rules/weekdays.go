package rules

import (
	"fmt"
	"strings"
	"time"
)

// Weekdays is a set of days of the week. The empty set means every day.
type Weekdays uint8

// EveryDay is the empty set.
const EveryDay Weekdays = 0

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// NewWeekdays builds a set from the given days.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// ParseWeekdays parses full or three-letter English day names.
func ParseWeekdays(names []string) (Weekdays, error) {
	var w Weekdays
	for _, name := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, name)
		}
		w |= NewWeekdays(d)
	}
	return w, nil
}

// Includes reports whether the rule runs on d.
func (w Weekdays) Includes(d time.Weekday) bool {
	return w == EveryDay || w&(1<<uint(d)) != 0
}

// String lists the days, or "every day".
func (w Weekdays) String() string {
	if w == EveryDay {
		return "every day"
	}
	var days []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w&(1<<uint(d)) != 0 {
			days = append(days, d.String()[:3])
		}
	}
	return strings.Join(days, ",")
}
