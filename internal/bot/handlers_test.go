package bot

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/dialogue"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type sent struct {
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	out     []sent
	edits   []sent
	answers []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }
func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.out = append(a.out, sent{text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.edits = append(a.edits, sent{text: text, opt: opt})
	return nil
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.answers = append(a.answers, text)
	return nil
}

func (a *fakeAdapter) last(t *testing.T) sent {
	t.Helper()
	if len(a.out) == 0 {
		t.Fatal("nothing sent")
	}
	return a.out[len(a.out)-1]
}

// fakeEngine commits straight into a registry, ids from a sequence.
type fakeEngine struct {
	reg     *reminder.Registry
	ids     *reminder.SequenceIDs
	deleted []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{reg: reminder.NewRegistry(), ids: &reminder.SequenceIDs{}}
}

func (e *fakeEngine) Create(_ context.Context, user int64, name string, at time.Time, repeat reminder.Repeat) (reminder.Reminder, error) {
	r := reminder.Reminder{ID: e.ids.Next(), Name: name, Time: at, Repeat: repeat}
	return r, e.reg.Add(user, r)
}

func (e *fakeEngine) List(user int64) []reminder.Reminder { return e.reg.List(user) }

func (e *fakeEngine) Delete(_ context.Context, user int64, id string) bool {
	e.deleted = append(e.deleted, id)
	return len(e.reg.Remove(user, id)) > 0
}

type harness struct {
	h   *Handlers
	ad  *fakeAdapter
	eng *fakeEngine
	dlg *dialogue.Machine
}

func newHarness() *harness {
	eng := newFakeEngine()
	dlg := dialogue.New(eng, time.UTC, logx.Nop())
	return &harness{h: New(eng, dlg, time.UTC, logx.Nop()), ad: &fakeAdapter{}, eng: eng, dlg: dlg}
}

// send dispatches text the way the router would.
func (hs *harness) send(t *testing.T, user int64, text string) sent {
	t.Helper()
	req := &router.Request{
		Chat:     kit.ChatTarget{ChatID: user},
		FromID:   user,
		Username: "alice",
		Text:     text,
		Adapter:  hs.ad,
		Logger:   logx.Nop(),
	}
	handle := hs.h.Text
	if strings.HasPrefix(text, "/") {
		parts := strings.Fields(text)
		req.Command = strings.TrimPrefix(parts[0], "/")
		req.Args = parts[1:]
		handle = nil
		for _, c := range hs.h.Commands() {
			if c.Name == req.Command {
				handle = c.Handle
			}
		}
		if handle == nil {
			t.Fatalf("no command %q", req.Command)
		}
	}
	if err := handle(context.Background(), req); err != nil {
		t.Fatalf("%s: %v", text, err)
	}
	return hs.ad.last(t)
}

// press dispatches a button press the way the router would.
func (hs *harness) press(t *testing.T, user int64, data string) {
	t.Helper()
	parts := strings.SplitN(data, ":", 3)
	req := &router.Request{
		Chat:     kit.ChatTarget{ChatID: user},
		FromID:   user,
		Command:  parts[0] + ":" + parts[1],
		Callback: &kit.Callback{ID: "cb", FromID: user, ChatID: user, MessageID: 9, Data: data},
		Adapter:  hs.ad,
		Logger:   logx.Nop(),
	}
	if len(parts) == 3 {
		req.Args = []string{parts[2]}
	}
	if err := hs.h.Callback(context.Background(), req); err != nil {
		t.Fatalf("%s: %v", data, err)
	}
}

func markupOf(t *testing.T, s sent) *tele.ReplyMarkup {
	t.Helper()
	if s.opt == nil {
		return nil
	}
	rm, _ := s.opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	return rm
}

func TestStartGreetsByUsername(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	got := hs.send(t, 1, "/start")
	if got.text != "Hey welcome alice to the bot! Type /setrem to set a reminder." {
		t.Fatalf("start = %q", got.text)
	}
}

func TestSetremDialogueThenList(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	steps := []struct{ in, want string }{
		{"/setrem", dialogue.PromptName},
		{"Pay rent", dialogue.PromptTime},
		{"2099-03-01 09:00", dialogue.PromptRepeat},
	}
	for _, s := range steps {
		if got := hs.send(t, 1, s.in); got.text != s.want {
			t.Fatalf("%q -> %q, want %q", s.in, got.text, s.want)
		}
	}
	done := hs.send(t, 1, "weekly")
	if done.opt == nil || done.opt.ParseMode != kit.ParseModeMarkdownV2 || !strings.Contains(done.text, "`10000`") {
		t.Fatalf("confirmation = %+v", done)
	}

	list := hs.send(t, 1, "/allrem")
	want := "Your reminders:\n*Name:* Pay rent\n*Timing:* 2099\\-03\\-01 09:00 \\(weekly\\)\n*ID:* `10000`"
	if list.text != want {
		t.Fatalf("allrem = %q\nwant      %q", list.text, want)
	}
	if list.opt == nil || list.opt.ParseMode != kit.ParseModeMarkdownV2 {
		t.Fatalf("allrem opts = %+v", list.opt)
	}
}

func TestAllremEmptyAndEscaping(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	if got := hs.send(t, 2, "/allrem"); got.text != ReplyNoReminders || got.opt != nil {
		t.Fatalf("empty allrem = %+v", got)
	}

	at := time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)
	_ = hs.eng.reg.Add(2, reminder.Reminder{ID: "11111", Name: "a_b.c!", Time: at, Repeat: reminder.RepeatNone})
	_ = hs.eng.reg.Add(2, reminder.Reminder{ID: "22222", Name: "second", Time: at, Repeat: reminder.RepeatNone, FiredAt: at})
	got := hs.send(t, 2, "/allrem").text
	if !strings.Contains(got, `*Name:* a\_b\.c\!`) {
		t.Fatalf("name not escaped: %q", got)
	}
	blocks := strings.Split(strings.TrimPrefix(got, "Your reminders:\n"), "\n\n")
	if len(blocks) != 2 || !strings.HasSuffix(blocks[1], "\n_fired_") || strings.Contains(blocks[0], "_fired_") {
		t.Fatalf("blocks = %q", blocks)
	}
}

func TestDelrem(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	if got := hs.send(t, 3, "/delrem"); got.text != ReplyDelUsage {
		t.Fatalf("no arg = %q", got.text)
	}
	if len(hs.eng.deleted) != 0 {
		t.Fatal("delete called without an id")
	}

	_ = hs.eng.reg.Add(3, reminder.Reminder{ID: "12345", Name: "x", Time: time.Now()})
	if got := hs.send(t, 3, "/delrem 12345"); got.text != "Reminder with ID `12345` deleted\\." {
		t.Fatalf("delete = %q", got.text)
	}
	if got := hs.send(t, 3, "/delrem 12345"); got.text != "No reminder with ID `12345` found\\." {
		t.Fatalf("second delete = %q", got.text)
	}
	// Another user's id is not visible.
	_ = hs.eng.reg.Add(4, reminder.Reminder{ID: "55555", Name: "y", Time: time.Now()})
	if got := hs.send(t, 3, "/delrem 55555"); !strings.HasPrefix(got.text, "No reminder") {
		t.Fatalf("cross-user delete = %q", got.text)
	}
	if len(hs.eng.reg.List(4)) != 1 {
		t.Fatal("other user's reminder removed")
	}
}

func TestCancelAndIdleText(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	if got := hs.send(t, 5, "/cancel"); got.text != ReplyNoDialogue {
		t.Fatalf("idle cancel = %q", got.text)
	}
	if got := hs.send(t, 5, "hello"); got.text != ReplyIdleText {
		t.Fatalf("idle text = %q", got.text)
	}
	hs.send(t, 5, "/setrem")
	hs.send(t, 5, "Call mom")
	if got := hs.send(t, 5, "/cancel"); got.text != dialogue.ReplyCancelled {
		t.Fatalf("cancel = %q", got.text)
	}
	if _, idle := hs.dlg.Active(5).(dialogue.Idle); !idle {
		t.Fatalf("state after cancel = %#v", hs.dlg.Active(5))
	}
	if len(hs.eng.reg.List(5)) != 0 {
		t.Fatal("cancelled draft reached the registry")
	}
}

func TestAllremPagesLongLists(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	at := time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)
	for i := range 12 {
		_ = hs.eng.reg.Add(6, reminder.Reminder{ID: strconv.Itoa(20000 + i), Name: "r" + strconv.Itoa(i), Time: at})
	}

	first := hs.send(t, 6, "/allrem")
	if n := strings.Count(first.text, "*ID:*"); n != ListPageSize {
		t.Fatalf("first page shows %d reminders", n)
	}
	if !strings.HasSuffix(first.text, `Page 1/3 \(1\-5 of 12\)`) {
		t.Fatalf("first page footer: %q", first.text)
	}
	rm := markupOf(t, first)
	if rm == nil || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 1 || rm.InlineKeyboard[0][0].Data != "rem:page:1" {
		t.Fatalf("first page keyboard = %+v", rm)
	}

	hs.press(t, 6, "rem:page:2")
	last := hs.ad.edits[len(hs.ad.edits)-1]
	if !strings.Contains(last.text, "`20010`") || strings.Contains(last.text, "`20009`") {
		t.Fatalf("last page = %q", last.text)
	}
	if rm := markupOf(t, last); rm == nil || len(rm.InlineKeyboard[0]) != 1 || rm.InlineKeyboard[0][0].Data != "rem:page:1" {
		t.Fatalf("last page keyboard = %+v", rm)
	}

	hs.press(t, 6, "rem:page:x")
	if got := hs.ad.answers[len(hs.ad.answers)-1]; got != router.ReplyStaleButton {
		t.Fatalf("bad page answer = %q", got)
	}
}

func TestAllremShortListHasNoKeyboard(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	_ = hs.eng.reg.Add(7, reminder.Reminder{ID: "30000", Name: "one", Time: time.Now()})
	if rm := markupOf(t, hs.send(t, 7, "/allrem")); rm != nil {
		t.Fatalf("single page keyboard = %+v", rm)
	}
}

func TestRepeatButtonsCommitDraft(t *testing.T) {
	t.Parallel()
	hs := newHarness()
	hs.send(t, 8, "/setrem")
	hs.send(t, 8, "Gym")
	prompt := hs.send(t, 8, "2099-05-01 07:00")
	rm := markupOf(t, prompt)
	if rm == nil || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 3 {
		t.Fatalf("repeat keyboard = %+v", rm)
	}
	if b := rm.InlineKeyboard[0][0]; b.Text != "Daily" || b.Data != "rem:repeat:daily" {
		t.Fatalf("first button = %+v", b)
	}

	hs.press(t, 8, "rem:repeat:weekly")
	if got := hs.ad.edits[len(hs.ad.edits)-1]; got.text != dialogue.PromptRepeat+" weekly" || markupOf(t, got) != nil {
		t.Fatalf("prompt edit = %+v", got)
	}
	if got := hs.ad.last(t); !strings.HasPrefix(got.text, `Reminder set\! ID: `) {
		t.Fatalf("confirmation = %q", got.text)
	}
	list := hs.eng.reg.List(8)
	if len(list) != 1 || list[0].Repeat != reminder.RepeatWeekly {
		t.Fatalf("stored = %+v", list)
	}

	// The same button pressed again has nothing left to answer.
	sentBefore := len(hs.ad.out)
	hs.press(t, 8, "rem:repeat:daily")
	if len(hs.ad.out) != sentBefore || hs.ad.answers[len(hs.ad.answers)-1] != router.ReplyStaleButton {
		t.Fatalf("stale press: out %d -> %d, answers %q", sentBefore, len(hs.ad.out), hs.ad.answers)
	}
	if len(hs.eng.reg.List(8)) != 1 {
		t.Fatal("stale press created a reminder")
	}
}
