package app

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// auditPrefixes selects the bus events that end up in the audit trail.
var auditPrefixes = []string{"reminder.", "notifier.failed"}

func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	switch d := e.Data.(type) {
	case reminder.Event:
		return storage.AuditEntry{
			At:         e.Time,
			Event:      e.Type,
			UserID:     d.User,
			ReminderID: d.ID,
			Name:       d.Name,
			Repeat:     string(d.Repeat),
			FireAt:     d.Time,
		}, true
	case notifier.NotificationEvent:
		return storage.AuditEntry{
			At:     e.Time,
			Event:  e.Type,
			UserID: d.ChatID,
			Error:  d.Error,
		}, true
	}
	return storage.AuditEntry{}, false
}

// runAudit appends one entry per audited event until ctx is done.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}
