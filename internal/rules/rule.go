// Package rules turns the static device table into per-day on/off windows.
//
// A Rule is loaded once from configuration and never changes. Every day the
// refresh loop resolves each rule against that day's date and solar times into
// a Window: two absolute instants in the configured timezone.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dokzlo13/insteond/internal/config"
	"github.com/dokzlo13/insteond/internal/insteon"
)

// Rule is one row of the device table.
type Rule struct {
	Index   int // position in the table, used for stagger offsets
	Name    string
	Address insteon.Address
	On      TimeSpec
	Off     TimeSpec
	Days    Weekdays
	Level   byte
}

// Load validates the whole device table. Either every rule loads or none does;
// all problems are reported together.
func Load(devices []config.DeviceConfig) ([]Rule, error) {
	if len(devices) == 0 {
		return nil, ErrNoRules
	}

	var errs []error
	rules := make([]Rule, 0, len(devices))

	for i, d := range devices {
		rule, err := parseRule(i, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

func parseRule(index int, d config.DeviceConfig) (Rule, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = fmt.Sprintf("device-%d", index)
	}

	fail := func(field string, err error) error {
		return &ConfigError{Index: index, Rule: name, Field: field, Err: err}
	}

	rule := Rule{Index: index, Name: name, Level: insteon.LevelFull}

	addr, err := insteon.ParseAddress(d.Address)
	if err != nil {
		return Rule{}, fail("address", err)
	}
	rule.Address = addr

	if rule.On, err = parseTrigger(d.On); err != nil {
		return Rule{}, fail("on", err)
	}
	if rule.Off, err = parseTrigger(d.Off); err != nil {
		return Rule{}, fail("off", err)
	}

	// A trigger pushed into another day would be cancelled by that day's
	// refresh before it fires.
	for _, edge := range []struct {
		field string
		spec  TimeSpec
	}{{"on", rule.On}, {"off", rule.Off}} {
		if !edge.spec.withinDay() {
			return Rule{}, fail(edge.field, fmt.Errorf("%w: %s", ErrOutsideDay, edge.spec))
		}
	}

	if rule.Days, err = ParseWeekdays(d.Days); err != nil {
		return Rule{}, fail("days", err)
	}

	if d.Level != nil {
		if *d.Level < 0 || *d.Level > 255 {
			return Rule{}, fail("level", fmt.Errorf("%w: %d", ErrInvalidLevel, *d.Level))
		}
		rule.Level = byte(*d.Level)
	}

	// Where the order of the two endpoints is known without a date, reject an
	// inverted window here; the rest is checked on every resolve.
	if orderKnown(rule.On, rule.Off) && rule.On.sortKey() >= rule.Off.sortKey() {
		return Rule{}, fail("on/off", fmt.Errorf("%w: %s >= %s", ErrInvertedWindow, rule.On, rule.Off))
	}

	return rule, nil
}

func parseTrigger(t config.TriggerConfig) (TimeSpec, error) {
	offset := time.Duration(t.Offset) * time.Minute

	hasTime := strings.TrimSpace(t.Time) != ""
	hasEvent := strings.TrimSpace(t.Event) != ""
	if hasTime == hasEvent {
		return TimeSpec{}, ErrAmbiguousTrigger
	}

	if hasEvent {
		ev, err := ParseEvent(t.Event)
		if err != nil {
			return TimeSpec{}, err
		}
		return Solar(ev, offset), nil
	}

	hour, minute, err := ParseClock(t.Time)
	if err != nil {
		return TimeSpec{}, err
	}
	return Fixed(hour, minute, offset), nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%s [%s] on=%s off=%s days=%s", r.Name, r.Address, r.On, r.Off, r.Days)
}
