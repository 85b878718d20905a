package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:   map[string]*Job{},
	}
}

// Start starts the worker pool and cron triggering. Cron definitions added
// before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log))
	s.ctx = s.sup.Context()
	s.queue = make(chan task, s.cfg.QueueSize)
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.Go0(fmt.Sprintf("scheduler.worker.%d", i), s.worker)
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("workers", s.cfg.Workers), logx.Int("schedules", len(s.defs)))
}

// Stop stops cron triggering, cancels every pending one-shot job and waits for
// running jobs to return (bounded by ctx). Cron definitions are kept.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup, s.queue, s.ctx = nil, nil, nil, nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	dropped := 0
	for name, j := range s.once {
		if j.stop() {
			dropped++
		}
		delete(s.once, name)
	}
	s.tmu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)), logx.Int("dropped_jobs", dropped))
}

func (s *Service) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Service) enqueue(t task) error {
	s.mu.Lock()
	q, ctx := s.queue, s.ctx
	s.mu.Unlock()
	if q == nil {
		return ErrNotStarted
	}
	t.enqueued = time.Now()
	select {
	case q <- t:
		return nil
	case <-ctx.Done():
		return ErrNotStarted
	}
}

func (s *Service) worker(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q:
			s.run(ctx, t)
		}
	}
}

func (s *Service) run(ctx context.Context, t task) {
	start := time.Now()
	timeout := t.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = t.run(runCtx)
	}()

	queueDelay := start.Sub(t.enqueued)
	dur := time.Since(start)
	if err != nil {
		s.log.Warn("task.failed", logx.String("task", t.name), logx.Err(err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "task.failed", Data: TaskEvent{Name: t.name, Started: start, Duration: dur, Error: err.Error()}})
		}
		return
	}
	s.log.Debug("task.completed", logx.String("task", t.name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
}

// TaskEvent is published as "task.failed".
type TaskEvent struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c, loc, q := s.c, s.loc, s.queue
	workers := s.cfg.Workers
	s.mu.Unlock()

	snap := Snapshot{Running: c != nil, Workers: workers, Pending: s.Pending()}
	if loc != nil {
		snap.Timezone = loc.String()
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
