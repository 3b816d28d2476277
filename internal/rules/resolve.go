package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dokzlo13/insteond/internal/insteon"
)

// Window is a rule resolved for one calendar day: the device should be on
// during [On, Off).
type Window struct {
	Index   int
	Rule    string
	Address insteon.Address
	Level   byte
	On      time.Time
	Off     time.Time
}

// Resolve computes the window of rule on the calendar day of today, in today's
// location. ok is false when the rule's day filter excludes today. Resolution
// only depends on its arguments.
func Resolve(rule Rule, today time.Time, sun SunTimes) (w Window, ok bool, err error) {
	if !rule.Days.Includes(today.Weekday()) {
		return Window{}, false, nil
	}

	on, err := rule.On.instant(today, sun)
	if err != nil {
		return Window{}, false, fmt.Errorf("%s: on: %w", rule.Name, err)
	}
	off, err := rule.Off.instant(today, sun)
	if err != nil {
		return Window{}, false, fmt.Errorf("%s: off: %w", rule.Name, err)
	}

	for _, edge := range []struct {
		name string
		at   time.Time
	}{{"on", on}, {"off", off}} {
		if !sameDay(edge.at, today) {
			return Window{}, false, fmt.Errorf("%s: %s: %w: %s",
				rule.Name, edge.name, ErrOutsideDay, edge.at.Format("2006-01-02 15:04"))
		}
	}

	if !on.Before(off) {
		return Window{}, false, fmt.Errorf("%s: %w: on %s, off %s",
			rule.Name, ErrInvertedWindow, on.Format("15:04"), off.Format("15:04"))
	}

	return Window{
		Index:   rule.Index,
		Rule:    rule.Name,
		Address: rule.Address,
		Level:   rule.Level,
		On:      on,
		Off:     off,
	}, true, nil
}

func sameDay(t, day time.Time) bool {
	y1, m1, d1 := t.In(day.Location()).Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Active reports whether now falls inside the window.
func (w Window) Active(now time.Time) bool {
	return !now.Before(w.On) && now.Before(w.Off)
}

// StateAt returns the state the device should be in at now.
func (w Window) StateAt(now time.Time) insteon.State {
	if w.Active(now) {
		return insteon.On
	}
	return insteon.Off
}

// Command builds the command that puts the device in state.
func (w Window) Command(state insteon.State) insteon.Command {
	return insteon.Command{Address: w.Address, State: state, Level: w.Level}
}

// Coalesce merges windows of the same address that overlap or touch, so a
// device shared by several rules gets one on/off pair per continuous period.
// The merged window keeps the lowest rule index and the level of the window
// that starts first, since that is the level the device is switched on with.
// Output is ordered by index, then by on time.
func Coalesce(windows []Window) []Window {
	byAddr := make(map[insteon.Address][]Window)
	var order []insteon.Address
	for _, w := range windows {
		if _, seen := byAddr[w.Address]; !seen {
			order = append(order, w.Address)
		}
		byAddr[w.Address] = append(byAddr[w.Address], w)
	}

	var out []Window
	for _, addr := range order {
		group := byAddr[addr]
		sort.SliceStable(group, func(i, j int) bool { return group[i].On.Before(group[j].On) })

		cur := group[0]
		for _, next := range group[1:] {
			if next.On.After(cur.Off) {
				out = append(out, cur)
				cur = next
				continue
			}
			if next.Off.After(cur.Off) {
				cur.Off = next.Off
			}
			if next.Index < cur.Index {
				cur.Index = next.Index
			}
			cur.Rule = joinNames(cur.Rule, next.Rule)
		}
		out = append(out, cur)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].On.Before(out[j].On)
	})
	return out
}

func joinNames(a, b string) string {
	for _, part := range strings.Split(a, " + ") {
		if part == b {
			return a
		}
	}
	return a + " + " + b
}

// CatchUp returns one command per address: On if any of its windows is active
// at now, Off otherwise. Addresses appear in the order of their first window.
func CatchUp(windows []Window, now time.Time) []insteon.Command {
	index := make(map[insteon.Address]int)
	var cmds []insteon.Command

	for _, w := range windows {
		i, seen := index[w.Address]
		if !seen {
			index[w.Address] = len(cmds)
			cmds = append(cmds, w.Command(w.StateAt(now)))
			continue
		}
		if w.Active(now) && cmds[i].State == insteon.Off {
			cmds[i] = w.Command(insteon.On)
		}
	}
	return cmds
}
