package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks the fields that Parse cannot: required values, duration
// syntax, time zones and enum values. All problems are joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Telegram.GroupLog) == "" {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.group_log"))
	}

	durations := map[string]string{
		"telegram.poll_timeout":     c.Telegram.PollTimeout,
		"scheduler.default_timeout": c.Scheduler.DefaultTimeout,
		"reminders.retain_fired":    c.Reminders.RetainFired,
		"notifier.retry_base":       c.Notifier.RetryBase,
		"notifier.retry_max_delay":  c.Notifier.RetryMaxDelay,
		"storage.busy_timeout":      c.Storage.BusyTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	for path, tz := range map[string]string{
		"scheduler.timezone": c.Scheduler.Timezone,
		"reminders.timezone": c.Reminders.Timezone,
	} {
		if tz = strings.TrimSpace(tz); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required when storage.driver is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	for path, n := range map[string]int{
		"scheduler.workers":     c.Scheduler.Workers,
		"scheduler.queue_size":  c.Scheduler.QueueSize,
		"reminders.id_attempts": c.Reminders.IDAttempts,
		"notifier.workers":      c.Notifier.Workers,
		"notifier.queue_size":   c.Notifier.QueueSize,
		"notifier.rate_per_sec": c.Notifier.RatePerSec,
		"notifier.retry_max":    c.Notifier.RetryMax,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s: must be >= 0", path))
		}
	}
	return errors.Join(errs...)
}

// ReminderLocation returns the reference zone for user input.
func (c *Config) ReminderLocation() *time.Location {
	tz := strings.TrimSpace(c.Reminders.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GroupLogChatID returns the operator log chat id, or 0 when unset.
func (c *Config) GroupLogChatID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	return id
}
