package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

func TestConfigMapping(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Scheduler.DefaultTimeout = "45s"
	cfg.Scheduler.Workers = 3
	cfg.Notifier.RetryBase = "250ms"
	cfg.Notifier.RetryMaxDelay = "5s"
	cfg.Notifier.RatePerSec = 10
	cfg.Reminders.IDAttempts = 8
	cfg.Storage = config.StorageConfig{Driver: " sqlite ", Path: "./x.sqlite", BusyTimeout: "2s"}

	sc, err := mapSchedulerConfig(cfg)
	if err != nil || sc.DefaultTimeout != 45*time.Second || sc.Workers != 3 {
		t.Fatalf("scheduler = %+v, %v", sc, err)
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil || ec.FireTimeout != 45*time.Second || ec.IDAttempts != 8 {
		t.Fatalf("engine = %+v, %v", ec, err)
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || nc.RetryBase != 250*time.Millisecond || nc.RetryMaxDelay != 5*time.Second || nc.RatePerSec != 10 {
		t.Fatalf("notifier = %+v, %v", nc, err)
	}
	st, err := mapStorageConfig(cfg)
	if err != nil || st.Driver != "sqlite" || st.BusyTimeout != 2*time.Second {
		t.Fatalf("storage = %+v, %v", st, err)
	}

	cfg.Notifier.RetryBase = "later"
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("bad retry_base accepted")
	}
}

func TestHousekeepingDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	spec, retain, err := housekeeping(cfg)
	if err != nil || spec != defaultHousekeeping || retain != 0 {
		t.Fatalf("defaults = %q %v %v", spec, retain, err)
	}
	cfg.Reminders.RetainFired = "24h"
	cfg.Scheduler.Housekeeping = "0 3 * * *"
	spec, retain, err = housekeeping(cfg)
	if err != nil || spec != "0 3 * * *" || retain != 24*time.Hour {
		t.Fatalf("custom = %q %v %v", spec, retain, err)
	}
}

func TestApplyHousekeepingRegistersAndRemoves(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop(context.Background())

	a := &App{
		log:    logx.Nop(),
		bus:    bus,
		sched:  sched,
		engine: reminder.NewEngine(reminder.EngineConfig{}, reminder.NewRegistry(), reminder.RandomIDs{}, sched, nil, bus, logx.Nop()),
	}
	has := func() bool {
		for _, s := range sched.Snapshot().Schedules {
			if s.Name == pruneJobName {
				return true
			}
		}
		return false
	}

	cfg := &config.Config{}
	cfg.Reminders.RetainFired = "1h"
	if err := a.applyHousekeeping(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !has() || time.Duration(a.retainFired.Load()) != time.Hour {
		t.Fatal("prune job not registered")
	}

	cfg.Scheduler.Housekeeping = "not a schedule"
	if err := a.applyHousekeeping(cfg); err == nil {
		t.Fatal("bad schedule accepted")
	}

	cfg.Scheduler.Housekeeping = ""
	cfg.Reminders.RetainFired = ""
	if err := a.applyHousekeeping(cfg); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if has() {
		t.Fatal("prune job still registered")
	}
}

type memStore struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
	got     chan struct{}
}

func (s *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *memStore) Close() error { return nil }

func TestRunAuditRecordsReminderAndFailureEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, auditPrefixes...)
	defer unsub()
	store := &memStore{got: make(chan struct{}, 16)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runAudit(ctx, events, store, logx.Nop())

	at := time.Date(2030, 5, 1, 8, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: reminder.EventCreated, Data: reminder.Event{User: 9, ID: "12345", Name: "Pay rent", Repeat: reminder.RepeatWeekly, Time: at}})
	bus.Publish(eventbus.Event{Type: "notifier.sent", Data: notifier.NotificationEvent{ChatID: 9}})
	bus.Publish(eventbus.Event{Type: "notifier.failed", Data: notifier.NotificationEvent{ChatID: 9, Error: "blocked"}})

	for range 2 {
		select {
		case <-store.got:
		case <-time.After(3 * time.Second):
			t.Fatal("audit entries not written")
		}
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 2 {
		t.Fatalf("entries = %+v", store.entries)
	}
	c := store.entries[0]
	if c.Event != reminder.EventCreated || c.UserID != 9 || c.ReminderID != "12345" || c.Repeat != "weekly" || !c.FireAt.Equal(at) {
		t.Fatalf("created entry = %+v", c)
	}
	if f := store.entries[1]; f.Event != "notifier.failed" || f.Error != "blocked" {
		t.Fatalf("failure entry = %+v", f)
	}
}
