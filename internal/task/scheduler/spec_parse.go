package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseSpec turns a schedule string into a cron.Schedule.
//
// Accepted forms:
//   - cron expressions, 5 or 6 fields: "*/5 * * * *", "0 30 9 * * *"
//   - descriptors: "@hourly", "@daily", "@every 55m"
//   - bare Go durations, treated as "@every": "55m", "2h30m"
func ParseSpec(raw string, parser cron.Parser) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', '@every 1h' or a duration like '55m')", raw)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return cron.Every(d), nil
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return sched, nil
}
