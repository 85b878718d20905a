// Package dialogue runs the three-step conversation that collects a reminder:
// name, then time, then repeat policy.
package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	PromptName          = "Please enter the reminder name:"
	PromptTime          = "When should I remind you? (format: YYYY-MM-DD HH:MM)"
	PromptTimeInvalid   = "Invalid time format. Please enter the time in the format: YYYY-MM-DD HH:MM"
	PromptTimePast      = "That time has already passed. Please enter a future time in the format: YYYY-MM-DD HH:MM"
	PromptRepeat        = "How often should I remind you? (daily, weekly, none)"
	PromptRepeatInvalid = "Please answer daily, weekly or none."
	ReplyCommitFailed   = "Could not save the reminder, please try again with /setrem."
	ReplyCancelled      = "Reminder setup cancelled."

	// MaxNameRunes caps reminder names; longer input is cut with an ellipsis.
	MaxNameRunes = 200
)

// State is one of Idle, AwaitingName, AwaitingTime or AwaitingRepeat.
type State interface{ isState() }

type Idle struct{}

type AwaitingName struct{}

type AwaitingTime struct{ Name string }

type AwaitingRepeat struct {
	Name string
	Time time.Time
}

func (Idle) isState()           {}
func (AwaitingName) isState()   {}
func (AwaitingTime) isState()   {}
func (AwaitingRepeat) isState() {}

// Committer turns a finished draft into a stored, scheduled reminder.
type Committer interface {
	Create(ctx context.Context, user int64, name string, at time.Time, repeat reminder.Repeat) (reminder.Reminder, error)
}

// Reply is what the bot answers to one input. Choices, when set, are the
// accepted answers and may be offered as buttons.
type Reply struct {
	Text      string
	ParseMode string
	Choices   []string
}

func repeatPrompt(text string) Reply {
	choices := make([]string, 0, len(reminder.RepeatChoices))
	for _, c := range reminder.RepeatChoices {
		choices = append(choices, string(c))
	}
	return Reply{Text: text, Choices: choices}
}

func plain(s string) Reply { return Reply{Text: s} }

// Machine keeps one dialogue state per user. Drafts never reach the registry
// before the final step commits.
type Machine struct {
	mu     sync.Mutex
	states map[int64]State

	commit Committer
	loc    *time.Location
	log    logx.Logger
	now    func() time.Time
}

// New returns a Machine that parses times in loc (UTC when nil).
func New(commit Committer, loc *time.Location, log logx.Logger) *Machine {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Machine{states: map[int64]State{}, commit: commit, loc: loc, log: log, now: time.Now}
}

// Start begins (or restarts) the dialogue for user.
func (m *Machine) Start(user int64) Reply {
	m.set(user, AwaitingName{})
	return plain(PromptName)
}

// Cancel abandons the user's dialogue and reports whether one was active.
func (m *Machine) Cancel(user int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, active := m.states[user]
	delete(m.states, user)
	return active
}

// Active returns the user's current state.
func (m *Machine) Active(user int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[user]; ok {
		return st
	}
	return Idle{}
}

// Handle feeds one plain-text message into the user's dialogue. handled is
// false when the user has no dialogue in progress.
func (m *Machine) Handle(ctx context.Context, user int64, text string) (reply Reply, handled bool) {
	switch st := m.Active(user).(type) {
	case Idle:
		return Reply{}, false

	case AwaitingName:
		name := strings.TrimSpace(text)
		if name == "" {
			return plain(PromptName), true
		}
		name = tgui.TruncRunes(name, MaxNameRunes)
		m.set(user, AwaitingTime{Name: name})
		return plain(PromptTime), true

	case AwaitingTime:
		at, err := reminder.ParseTime(text, m.loc)
		if err != nil {
			m.log.Debug("dialogue time rejected", logx.Int64("user", user), logx.String("input", text))
			return plain(PromptTimeInvalid), true
		}
		if !at.After(m.now()) {
			return plain(PromptTimePast), true
		}
		m.set(user, AwaitingRepeat{Name: st.Name, Time: at})
		return repeatPrompt(PromptRepeat), true

	case AwaitingRepeat:
		repeat, err := reminder.ParseRepeat(text)
		if err != nil {
			return repeatPrompt(PromptRepeatInvalid + " " + PromptRepeat), true
		}
		m.set(user, Idle{})
		return m.finish(ctx, user, st, repeat), true
	}
	return Reply{}, false
}

func (m *Machine) finish(ctx context.Context, user int64, draft AwaitingRepeat, repeat reminder.Repeat) Reply {
	r, err := m.commit.Create(ctx, user, draft.Name, draft.Time, repeat)
	switch {
	case err == nil:
		return Reply{Text: string(tgui.Esc("Reminder set! ID: ") + tgui.Code(r.ID)), ParseMode: kit.ParseModeMarkdownV2}
	case errors.Is(err, reminder.ErrScheduleFailed):
		m.log.Warn("reminder stored but not scheduled", logx.Int64("user", user), logx.String("id", r.ID), logx.Err(err))
		return Reply{
			Text:      string(tgui.Esc("Reminder saved with ID ") + tgui.Code(r.ID) + tgui.Esc(", but it could not be scheduled and will not fire. Delete it with /delrem and try again later.")),
			ParseMode: kit.ParseModeMarkdownV2,
		}
	default:
		m.log.Error("reminder commit failed", logx.Int64("user", user), logx.Err(err))
		return plain(ReplyCommitFailed)
	}
}

func (m *Machine) set(user int64, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, idle := st.(Idle); idle {
		delete(m.states, user)
		return
	}
	m.states[user] = st
}
