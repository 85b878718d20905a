package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type flakyAdapter struct {
	mu       sync.Mutex
	failures int
	sent     []string
	calls    int
}

func (a *flakyAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *flakyAdapter) Stop(ctx context.Context) error                       { return nil }

func (a *flakyAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (a *flakyAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (a *flakyAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failures > 0 {
		a.failures--
		return kit.MessageRef{}, errors.New("telegram: 502 bad gateway")
	}
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: a.calls}, nil
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notifier event")
		return eventbus.Event{}
	}
}

func TestNotifyRetriesThenSends(t *testing.T) {
	t.Parallel()
	ad := &flakyAdapter{failures: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "notifier.")
	defer unsub()

	s := New(Config{Workers: 1, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, ad, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.SendTo(context.Background(), 7, "Reminder: Pay rent"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	e := waitEvent(t, events)
	if e.Type != "notifier.sent" {
		t.Fatalf("event = %q, want notifier.sent", e.Type)
	}
	ev := e.Data.(NotificationEvent)
	if ev.Attempts != 3 || ev.ChatID != 7 || ev.Kind != "reminder" {
		t.Fatalf("unexpected event data: %+v", ev)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.sent) != 1 || ad.sent[0] != "Reminder: Pay rent" {
		t.Fatalf("sent = %v", ad.sent)
	}
}

func TestNotifyGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	ad := &flakyAdapter{failures: 10}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "notifier.failed")
	defer unsub()

	s := New(Config{Workers: 1, RetryMax: 1, RetryBase: time.Millisecond}, ad, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.SendTo(context.Background(), 1, "hello"); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, events).Data.(NotificationEvent)
	if ev.Attempts != 2 || ev.Error == "" {
		t.Fatalf("unexpected failure event: %+v", ev)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if ad.calls != 2 {
		t.Fatalf("calls = %d, want 2", ad.calls)
	}
}

func TestNotifyRejectsWhenStoppedOrEmpty(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &flakyAdapter{}, logx.Nop(), nil)
	if err := s.SendTo(context.Background(), 1, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("before Start: err = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	if err := s.SendTo(context.Background(), 1, "   "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty text: err = %v, want ErrEmpty", err)
	}
	s.Stop(context.Background())
	if err := s.SendTo(context.Background(), 1, "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("after Stop: err = %v, want ErrStopped", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 70 * time.Millisecond, 130 * time.Millisecond},
		{2, 140 * time.Millisecond, 260 * time.Millisecond},
		{3, 280 * time.Millisecond, 520 * time.Millisecond},
		{10, 700 * time.Millisecond, time.Second},
	}
	for _, tc := range cases {
		for i := 0; i < 20; i++ {
			d := retryDelay(cfg, tc.attempt)
			if d < tc.min || d > tc.max {
				t.Fatalf("retryDelay(attempt=%d) = %v, want [%v, %v]", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}
