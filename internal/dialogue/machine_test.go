package dialogue

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// registryCommitter stores drafts without scheduling them.
type registryCommitter struct {
	reg *reminder.Registry
	ids reminder.SequenceIDs
	err error
}

func (c *registryCommitter) Create(ctx context.Context, user int64, name string, at time.Time, repeat reminder.Repeat) (reminder.Reminder, error) {
	if c.err != nil {
		return reminder.Reminder{}, c.err
	}
	r := reminder.Reminder{ID: c.ids.Next(), Name: name, Time: at, Repeat: repeat}
	if err := c.reg.Add(user, r); err != nil {
		return reminder.Reminder{}, err
	}
	return r, nil
}

var clock = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newMachine() (*Machine, *registryCommitter) {
	c := &registryCommitter{reg: reminder.NewRegistry()}
	m := New(c, time.UTC, logx.Nop())
	m.now = func() time.Time { return clock }
	return m, c
}

func send(t *testing.T, m *Machine, user int64, text string) Reply {
	t.Helper()
	r, handled := m.Handle(context.Background(), user, text)
	if !handled {
		t.Fatalf("input %q was not handled", text)
	}
	return r
}

func TestPayRentScenario(t *testing.T) {
	t.Parallel()
	m, c := newMachine()
	const user = 42

	if got := m.Start(user).Text; got != PromptName {
		t.Fatalf("start reply = %q", got)
	}
	if got := send(t, m, user, "Pay rent").Text; got != PromptTime {
		t.Fatalf("name reply = %q", got)
	}
	if got := send(t, m, user, "2025-03-01 09:00"); got.Text != PromptRepeat || strings.Join(got.Choices, ",") != "daily,weekly,none" {
		t.Fatalf("time reply = %+v", got)
	}
	final := send(t, m, user, "weekly")
	if final.ParseMode != kit.ParseModeMarkdownV2 || !strings.Contains(final.Text, "`10000`") {
		t.Fatalf("confirmation = %+v", final)
	}
	if !strings.HasPrefix(final.Text, `Reminder set\! ID: `) {
		t.Fatalf("confirmation not escaped: %q", final.Text)
	}

	list := c.reg.List(user)
	if len(list) != 1 {
		t.Fatalf("registry has %d reminders, want 1", len(list))
	}
	r := list[0]
	want := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if r.Name != "Pay rent" || r.Repeat != reminder.RepeatWeekly || !r.Time.Equal(want) || r.ID == "" {
		t.Fatalf("stored reminder = %+v", r)
	}
	if _, idle := m.Active(user).(Idle); !idle {
		t.Fatalf("state after commit = %#v", m.Active(user))
	}
}

func TestCallMomInvalidTimeKeepsName(t *testing.T) {
	t.Parallel()
	m, c := newMachine()
	const user = 7

	m.Start(user)
	send(t, m, user, "Call mom")
	if got := send(t, m, user, "not-a-date").Text; got != PromptTimeInvalid {
		t.Fatalf("invalid time reply = %q", got)
	}
	st, ok := m.Active(user).(AwaitingTime)
	if !ok || st.Name != "Call mom" {
		t.Fatalf("state after invalid time = %#v", m.Active(user))
	}
	if got := send(t, m, user, "2025-03-02 18:30").Text; got != PromptRepeat {
		t.Fatalf("retry reply = %q", got)
	}
	send(t, m, user, "none")
	list := c.reg.List(user)
	if len(list) != 1 || list[0].Name != "Call mom" || list[0].Repeat != reminder.RepeatNone {
		t.Fatalf("stored = %+v", list)
	}
}

func TestIdleUserIsNotHandled(t *testing.T) {
	t.Parallel()
	m, _ := newMachine()
	if _, handled := m.Handle(context.Background(), 1, "hello"); handled {
		t.Fatal("idle user text should not be handled")
	}
}

func TestPastTimeKeepsAskingForTime(t *testing.T) {
	t.Parallel()
	m, c := newMachine()
	m.Start(1)
	send(t, m, 1, "Backdated")
	for _, in := range []string{"2024-12-31 23:59", "2025-01-15 12:00"} {
		if got := send(t, m, 1, in).Text; got != PromptTimePast {
			t.Fatalf("%s: reply = %q", in, got)
		}
		if st, ok := m.Active(1).(AwaitingTime); !ok || st.Name != "Backdated" {
			t.Fatalf("%s: state = %#v", in, m.Active(1))
		}
	}
	if got := send(t, m, 1, "2025-01-15 12:01").Text; got != PromptRepeat {
		t.Fatalf("future time reply = %q", got)
	}
	send(t, m, 1, "daily")
	if len(c.reg.List(1)) != 1 {
		t.Fatal("reminder not stored after a future time")
	}
}

func TestEmptyNameReprompts(t *testing.T) {
	t.Parallel()
	m, _ := newMachine()
	m.Start(1)
	if got := send(t, m, 1, "   ").Text; got != PromptName {
		t.Fatalf("reply = %q", got)
	}
	if _, ok := m.Active(1).(AwaitingName); !ok {
		t.Fatalf("state = %#v", m.Active(1))
	}
}

func TestLongNameIsTruncated(t *testing.T) {
	t.Parallel()
	m, _ := newMachine()
	m.Start(1)
	send(t, m, 1, strings.Repeat("n", MaxNameRunes+50))
	st, ok := m.Active(1).(AwaitingTime)
	if !ok {
		t.Fatalf("state = %#v", m.Active(1))
	}
	if n := len([]rune(st.Name)); n != MaxNameRunes || !strings.HasSuffix(st.Name, "…") {
		t.Fatalf("name has %d runes: %q", n, st.Name)
	}
}

func TestUnknownRepeatIsRejected(t *testing.T) {
	t.Parallel()
	m, c := newMachine()
	m.Start(1)
	send(t, m, 1, "Gym")
	send(t, m, 1, "2025-03-01 07:00")
	reply := send(t, m, 1, "monthly")
	if !strings.HasSuffix(reply.Text, PromptRepeat) {
		t.Fatalf("reply = %q", reply.Text)
	}
	if st, ok := m.Active(1).(AwaitingRepeat); !ok || st.Name != "Gym" {
		t.Fatalf("state = %#v", m.Active(1))
	}
	if len(c.reg.List(1)) != 0 {
		t.Fatal("draft must not reach the registry before commit")
	}
	send(t, m, 1, "DAILY")
	if list := c.reg.List(1); len(list) != 1 || list[0].Repeat != reminder.RepeatDaily {
		t.Fatalf("stored = %+v", list)
	}
}

func TestStartRestartsAndCancelAbandons(t *testing.T) {
	t.Parallel()
	m, c := newMachine()
	m.Start(1)
	send(t, m, 1, "first")
	m.Start(1)
	if _, ok := m.Active(1).(AwaitingName); !ok {
		t.Fatalf("restart state = %#v", m.Active(1))
	}
	if !m.Cancel(1) {
		t.Fatal("Cancel should report an active dialogue")
	}
	if m.Cancel(1) {
		t.Fatal("second Cancel should report false")
	}
	if len(c.reg.List(1)) != 0 {
		t.Fatal("cancelled draft reached the registry")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()
	m, _ := newMachine()
	m.Start(1)
	m.Start(2)
	send(t, m, 1, "one")
	if _, ok := m.Active(2).(AwaitingName); !ok {
		t.Fatalf("user 2 state = %#v", m.Active(2))
	}
}

func TestCommitFailureReturnsToIdle(t *testing.T) {
	t.Parallel()
	m, c := newMachine()
	c.err = reminder.ErrIDSpaceExhausted
	m.Start(1)
	send(t, m, 1, "x")
	send(t, m, 1, "2025-03-01 09:00")
	if got := send(t, m, 1, "none").Text; got != ReplyCommitFailed {
		t.Fatalf("reply = %q", got)
	}
	if _, idle := m.Active(1).(Idle); !idle {
		t.Fatalf("state = %#v", m.Active(1))
	}
}

func TestScheduleFailureStillReportsID(t *testing.T) {
	t.Parallel()
	c := &stubCommitter{r: reminder.Reminder{ID: "12345"}, err: fmt.Errorf("%w: timer down", reminder.ErrScheduleFailed)}
	m := New(c, nil, logx.Nop())
	m.now = func() time.Time { return clock }
	m.Start(1)
	send(t, m, 1, "x")
	send(t, m, 1, "2025-03-01 09:00")
	reply := send(t, m, 1, "daily")
	if !strings.Contains(reply.Text, "`12345`") || !strings.Contains(reply.Text, "could not be scheduled") {
		t.Fatalf("reply = %q", reply.Text)
	}
}

type stubCommitter struct {
	r   reminder.Reminder
	err error
}

func (s *stubCommitter) Create(context.Context, int64, string, time.Time, reminder.Repeat) (reminder.Reminder, error) {
	return s.r, s.err
}
