package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// At registers job to run once at the given instant. A past instant fires
// immediately. Registering a name that already has a pending job replaces it.
func (s *Service) At(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (*Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}
	if at.IsZero() {
		return nil, fmt.Errorf("schedule %q: time required", name)
	}
	if job == nil {
		return nil, fmt.Errorf("schedule %q: job required", name)
	}
	if !s.running() {
		return nil, ErrNotStarted
	}

	j := &Job{name: name, at: at, svc: s}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if old := s.once[name]; old != nil && old.stop() {
		s.log.Debug("job replaced", logx.String("name", name), logx.Time("old_at", old.at))
	}
	s.once[name] = j
	j.timer = time.AfterFunc(delay, func() {
		// Lost the race against Cancel, Stop or a replacement.
		if !j.state.CompareAndSwap(jobPending, jobFired) {
			return
		}
		s.forget(j)
		if err := s.enqueue(task{name: name, timeout: timeout, run: job}); err != nil {
			s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
		}
	})
	s.tmu.Unlock()

	s.log.Debug("job registered", logx.String("name", name), logx.Time("at", at), logx.Duration("in", delay))
	return j, nil
}

func (s *Service) forget(j *Job) {
	s.tmu.Lock()
	if s.once[j.name] == j {
		delete(s.once, j.name)
	}
	s.tmu.Unlock()
}

// Pending reports the number of one-shot jobs that have not started.
func (s *Service) Pending() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.once)
}

// AddCron registers a recurring job. spec is a cron expression, a descriptor
// such as "@hourly" or "@every 1h", or a bare Go duration. A run is skipped if
// the previous run of the same name is still in flight. Definitions added
// before Start are kept and registered when the service starts.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrNameRequired
	}
	if _, err := ParseSpec(spec, s.parser); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so repeated registrations never duplicate a schedule.
	s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		running: &atomic.Bool{},
	})
	if s.c == nil {
		return name, nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return name, err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	return name, nil
}

// Remove unschedules the cron definition and the pending one-shot job with the
// given name. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	if j := s.once[name]; j != nil {
		_ = j.stop()
		delete(s.once, name)
		removed = true
	}
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// Call with s.mu held and s.c non-nil.
func (s *Service) addCronLocked(d *scheduleDef) error {
	sched, err := ParseSpec(d.spec, s.parser)
	if err != nil {
		return err
	}
	name, timeout, job, running := d.name, d.timeout, d.job, d.running
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Debug("schedule trigger skipped", logx.String("schedule", name))
			return
		}
		err := s.enqueue(task{name: name, timeout: timeout, run: func(ctx context.Context) error {
			defer running.Store(false)
			return job(ctx)
		}})
		if err != nil {
			running.Store(false)
			s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
		}
	}))
	return nil
}
