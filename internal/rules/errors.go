package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRules is returned when the device table is empty.
	ErrNoRules = errors.New("device table is empty")

	// ErrInvalidClock is returned for clock times that are not "HH:MM".
	ErrInvalidClock = errors.New("invalid clock time")

	// ErrUnknownEvent is returned for solar events other than sunrise/sunset.
	ErrUnknownEvent = errors.New("unknown solar event")

	// ErrAmbiguousTrigger is returned when a trigger sets both or neither of time and event.
	ErrAmbiguousTrigger = errors.New("trigger needs exactly one of time or event")

	// ErrInvalidWeekday is returned for unknown day names.
	ErrInvalidWeekday = errors.New("invalid weekday")

	// ErrInvalidLevel is returned for brightness levels outside 0..255.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrInvertedWindow is returned when the on time does not precede the off time.
	ErrInvertedWindow = errors.New("on time does not precede off time")

	// ErrOutsideDay is returned when an offset moves a trigger out of its
	// calendar day. Windows may not cross midnight.
	ErrOutsideDay = errors.New("trigger falls outside its calendar day")

	// ErrMissingSolar is returned when a solar rule is resolved without that event.
	ErrMissingSolar = errors.New("solar event unavailable")
)

// ConfigError describes a device table entry that cannot be loaded.
type ConfigError struct {
	Index int
	Rule  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("device #%d (%s): %s: %v", e.Index, e.Rule, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
