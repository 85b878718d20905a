package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

var (
	// ErrNotStarted is returned when a job is registered while the service is stopped.
	ErrNotStarted   = errors.New("scheduler not started")
	ErrNameRequired = errors.New("name required")
)

// Config controls the scheduler service.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ used for cron specs, e.g. "Europe/Berlin"
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

const (
	jobPending int32 = iota
	jobFired
	jobCanceled
)

// Job is the handle of one At registration.
type Job struct {
	name  string
	at    time.Time
	svc   *Service
	timer *time.Timer
	state atomic.Int32
}

func (j *Job) Name() string { return j.name }

// At returns the instant the job was registered for.
func (j *Job) At() time.Time { return j.at }

// Pending reports whether the job has neither started nor been cancelled.
func (j *Job) Pending() bool { return j != nil && j.state.Load() == jobPending }

// Cancel stops the job if it has not started and reports whether it did.
func (j *Job) Cancel() bool {
	if j == nil || !j.stop() {
		return false
	}
	j.svc.forget(j)
	j.svc.log.Debug("job cancelled", logx.String("name", j.name))
	return true
}

func (j *Job) stop() bool {
	if !j.state.CompareAndSwap(jobPending, jobCanceled) {
		return false
	}
	if j.timer != nil {
		_ = j.timer.Stop()
	}
	return true
}

type task struct {
	name     string
	timeout  time.Duration
	run      func(ctx context.Context) error
	enqueued time.Time
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	running *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	sup   *supervisor.Supervisor
	ctx   context.Context
	queue chan task

	// one-shot jobs by name
	tmu  sync.Mutex
	once map[string]*Job
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Workers   int
	QueueLen  int
	QueueCap  int
	Pending   int
	Schedules []ScheduleInfo
}
