package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// Timer registers one-shot jobs. *scheduler.Service implements it.
type Timer interface {
	At(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (*scheduler.Job, error)
}

// Sender delivers the fire-time message to a user. *notifier.Service implements it.
type Sender interface {
	SendTo(ctx context.Context, chatID int64, text string) error
}

type EngineConfig struct {
	// IDAttempts bounds id generation retries on collision.
	IDAttempts int
	// FireTimeout bounds a single fire callback.
	FireTimeout time.Duration
}

// Event is the payload of every "reminder.*" bus event.
type Event struct {
	User     int64     `json:"user"`
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Repeat   Repeat    `json:"repeat"`
	Time     time.Time `json:"time"`
	Previous time.Time `json:"previous,omitempty"`
}

const (
	EventCreated     = "reminder.created"
	EventFired       = "reminder.fired"
	EventRescheduled = "reminder.rescheduled"
	EventDeleted     = "reminder.deleted"
)

type jobKey struct {
	user int64
	id   string
}

// Engine creates, fires and deletes reminders.
//
// Lock order: the Registry lock and the job table lock are never held
// together. Every callback re-reads the reminder by id, so a fire that races a
// delete sees the deletion and does nothing.
type Engine struct {
	reg   *Registry
	ids   IDGenerator
	timer Timer
	send  Sender
	bus   eventbus.Bus
	log   logx.Logger
	cfg   EngineConfig

	now         func() time.Time
	scheduleFor func(Repeat) cron.Schedule

	mu   sync.Mutex
	jobs map[jobKey]*scheduler.Job
}

func NewEngine(cfg EngineConfig, reg *Registry, ids IDGenerator, timer Timer, send Sender, bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.IDAttempts <= 0 {
		cfg.IDAttempts = 16
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	if ids == nil {
		ids = RandomIDs{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		reg:   reg,
		ids:   ids,
		timer: timer,
		send:  send,
		bus:   bus,
		log:   log,
		cfg:   cfg,
		now:   time.Now,
		jobs:  map[jobKey]*scheduler.Job{},

		scheduleFor: Repeat.Schedule,
	}
}

// Create stores a new reminder for user and schedules its first firing.
//
// If scheduling fails the reminder stays in the registry and the error wraps
// ErrScheduleFailed.
func (e *Engine) Create(ctx context.Context, user int64, name string, at time.Time, repeat Repeat) (Reminder, error) {
	if _, err := ParseRepeat(string(repeat)); err != nil {
		return Reminder{}, err
	}
	r := Reminder{Name: name, Time: at.UTC(), Repeat: repeat}
	var err error
	for i := 0; i < e.cfg.IDAttempts; i++ {
		r.ID = e.ids.Next()
		if err = e.reg.Add(user, r); !errors.Is(err, ErrDuplicateID) {
			break
		}
		e.log.Debug("reminder id collision", logx.Int64("user", user), logx.String("id", r.ID))
	}
	if errors.Is(err, ErrDuplicateID) {
		return Reminder{}, ErrIDSpaceExhausted
	}
	if err != nil {
		return Reminder{}, err
	}
	e.publish(EventCreated, user, r, time.Time{})
	e.log.Info("reminder created", logx.Int64("user", user), logx.String("id", r.ID), logx.String("repeat", string(r.Repeat)), logx.Time("at", r.Time))

	if err := e.Schedule(user, r.ID); err != nil {
		return r, err
	}
	return r, nil
}

// Schedule registers a one-shot job for the reminder's current time.
func (e *Engine) Schedule(user int64, id string) error {
	r, ok := e.reg.Get(user, id)
	if !ok {
		return ErrNotFound
	}
	job, err := e.timer.At(jobName(user, id), r.Time, e.cfg.FireTimeout, func(ctx context.Context) error {
		return e.fire(ctx, user, id)
	})
	if err != nil {
		e.log.Error("reminder schedule failed", logx.Int64("user", user), logx.String("id", id), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	// A past instant may already have fired, and that fire may have stored
	// its own successor job; only a job that is still waiting goes in.
	e.mu.Lock()
	if job.Pending() {
		e.jobs[jobKey{user, id}] = job
	}
	e.mu.Unlock()
	// A Delete that ran between Get and At found no job to cancel.
	if !e.reg.Has(user, id) {
		e.forget(user, id, job)
		job.Cancel()
		return ErrNotFound
	}
	return nil
}

func (e *Engine) forget(user int64, id string, job *scheduler.Job) {
	key := jobKey{user, id}
	e.mu.Lock()
	if e.jobs[key] == job {
		delete(e.jobs, key)
	}
	e.mu.Unlock()
}

func (e *Engine) fire(ctx context.Context, user int64, id string) error {
	key := jobKey{user, id}
	e.mu.Lock()
	delete(e.jobs, key)
	e.mu.Unlock()

	r, ok := e.reg.Get(user, id)
	if !ok {
		e.log.Debug("fire skipped; reminder deleted", logx.Int64("user", user), logx.String("id", id))
		return nil
	}
	if e.send != nil {
		if err := e.send.SendTo(ctx, user, "Reminder: "+r.Name); err != nil {
			e.log.Warn("reminder send failed", logx.Int64("user", user), logx.String("id", id), logx.Err(err))
		}
	}
	e.publish(EventFired, user, r, time.Time{})

	sched := e.scheduleFor(r.Repeat)
	if sched == nil {
		e.reg.MarkFired(user, id, e.now())
		return nil
	}
	next, ok := e.reg.Advance(user, id, nextAfter(sched, r.Time, e.now()))
	if !ok {
		// Deleted between send and advance.
		return nil
	}
	if err := e.Schedule(user, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	e.publish(EventRescheduled, user, next, r.Time)
	e.log.Debug("reminder rescheduled", logx.Int64("user", user), logx.String("id", id), logx.Time("next", next.Time))
	return nil
}

// Delete removes the reminder and cancels its pending job.
// It reports false when the id does not exist.
func (e *Engine) Delete(ctx context.Context, user int64, id string) bool {
	removed := e.reg.Remove(user, id)

	key := jobKey{user, id}
	e.mu.Lock()
	job := e.jobs[key]
	delete(e.jobs, key)
	e.mu.Unlock()
	if job != nil {
		job.Cancel()
	}

	if len(removed) == 0 {
		return false
	}
	e.publish(EventDeleted, user, removed[0], time.Time{})
	e.log.Info("reminder deleted", logx.Int64("user", user), logx.String("id", id))
	return true
}

func (e *Engine) List(user int64) []Reminder { return e.reg.List(user) }

// Pending reports whether a fire is outstanding for the reminder.
func (e *Engine) Pending(user int64, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.jobs[jobKey{user, id}]
	return ok
}

// PruneFired drops non-recurring reminders that fired more than olderThan ago.
func (e *Engine) PruneFired(olderThan time.Duration) int {
	cutoff := e.now().Add(-olderThan)
	n := e.reg.Prune(func(_ int64, r Reminder) bool {
		return r.Fired() && r.FiredAt.Before(cutoff)
	})
	if n > 0 {
		e.log.Info("pruned fired reminders", logx.Int("count", n), logx.Duration("older_than", olderThan))
	}
	return n
}

func (e *Engine) publish(typ string, user int64, r Reminder, prev time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: Event{User: user, ID: r.ID, Name: r.Name, Repeat: r.Repeat, Time: r.Time, Previous: prev}})
}

// nextAfter steps sched forward from t until it passes now. Occurrences that
// were missed are skipped, not replayed.
func nextAfter(sched cron.Schedule, t, now time.Time) time.Time {
	next := sched.Next(t)
	for !next.After(now) {
		next = sched.Next(next)
	}
	return next
}

func jobName(user int64, id string) string {
	return fmt.Sprintf("reminder:%d:%s", user, id)
}
