package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines audit file
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one reminder lifecycle event. The trail is history only;
// reminders are never restored from it.
type AuditEntry struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Event      string    `json:"event"`
	UserID     int64     `json:"user_id"`
	ReminderID string    `json:"reminder_id"`
	Name       string    `json:"name,omitempty"`
	Repeat     string    `json:"repeat,omitempty"`
	FireAt     time.Time `json:"fire_at"`
	Error      string    `json:"error,omitempty"`
}
