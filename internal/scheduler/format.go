package scheduler

import (
	"fmt"
	"strings"
)

// FormatSchedule returns a human-readable table of the armed triggers.
func (s *Scheduler) FormatSchedule() string {
	triggers := s.Armed()
	now := s.now().In(s.tz)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Schedule for %s (timezone: %s, generation: %s)\n",
		now.Format("2006-01-02"), s.tz.String(), s.Generation()))
	sb.WriteString(fmt.Sprintf("%-3s %-10s %-10s %-5s %s\n", "", "TIME", "ADDRESS", "STATE", "RULE"))
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for _, t := range triggers {
		status := " "
		if !t.At.After(now) {
			status = "✓"
		}

		sb.WriteString(fmt.Sprintf("%-3s %-10s %-10s %-5s %s\n",
			status, t.At.In(s.tz).Format("15:04:05"), t.Command.Address, t.Command.State, t.Rule))
	}

	if len(triggers) == 0 {
		sb.WriteString("No triggers armed\n")
	}

	return sb.String()
}
