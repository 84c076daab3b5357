package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geoffrothman/smores/internal/eventbus"
	"github.com/geoffrothman/smores/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
	calls int
}

func (f *fakeSender) SendOps(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram 502")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), f.calls
}

func startService(t *testing.T, cfg Config, sender Sender) (*Service, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	s := New(cfg, sender, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		unsub()
	})
	return s, events
}

func waitFor(t *testing.T, events <-chan eventbus.Event, typ string) NotificationEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev.Data.(NotificationEvent)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestNotifySends(t *testing.T) {
	sender := &fakeSender{}
	s, events := startService(t, Config{Enabled: true, RatePerSec: 100}, sender)
	if err := s.Notify(context.Background(), "pairing pass: visited=3"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, events, EventSent)
	sent, _ := sender.snapshot()
	if len(sent) != 1 || sent[0] != "pairing pass: visited=3" {
		t.Fatalf("sent = %v", sent)
	}
	if h := s.History(); len(h) != 1 {
		t.Fatalf("history = %v", h)
	}
}

func TestNotifyRetries(t *testing.T) {
	sender := &fakeSender{fails: 2}
	s, events := startService(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 3, RetryBase: time.Millisecond}, sender)
	_ = s.Notify(context.Background(), "resend pass failed")
	waitFor(t, events, EventSent)
	if _, calls := sender.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNotifyGivesUp(t *testing.T) {
	sender := &fakeSender{fails: 10}
	s, events := startService(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond}, sender)
	_ = s.Notify(context.Background(), "reminder pass failed")
	ev := waitFor(t, events, EventFailed)
	if ev.Error == "" {
		t.Fatal("expected error in event")
	}
}

func TestNotifyDedup(t *testing.T) {
	sender := &fakeSender{}
	s, events := startService(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Hour}, sender)
	_ = s.Notify(context.Background(), "same")
	_ = s.Notify(context.Background(), "same")
	_ = s.Notify(context.Background(), "other")
	waitFor(t, events, EventSent)
	waitFor(t, events, EventSent)
	time.Sleep(50 * time.Millisecond)
	if sent, _ := sender.snapshot(); len(sent) != 2 {
		t.Fatalf("sent = %v, want 2 messages", sent)
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify = %v, want ErrDisabled", err)
	}
	s = New(Config{Enabled: true}, &fakeSender{}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify = %v, want ErrStopped", err)
	}
}

func TestForwardFormatsEvents(t *testing.T) {
	sender := &fakeSender{}
	s, events := startService(t, Config{Enabled: true, RatePerSec: 100}, sender)

	in := make(chan eventbus.Event, 2)
	in <- eventbus.Event{Type: "pass.completed", Data: "skip me"}
	in <- eventbus.Event{Type: "pass.completed", Data: "resend pass: failed=1"}
	close(in)
	s.Forward(context.Background(), in, func(ev eventbus.Event) (string, bool) {
		text := ev.Data.(string)
		return text, text != "skip me"
	})
	waitFor(t, events, EventSent)
	if sent, _ := sender.snapshot(); len(sent) != 1 || sent[0] != "resend pass: failed=1" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 4 * time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > 4*time.Second {
			t.Fatalf("attempt %d: delay %v", attempt, d)
		}
	}
}
