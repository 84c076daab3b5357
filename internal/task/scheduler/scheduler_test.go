package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geoffrothman/smores/internal/task/engine"
	"github.com/geoffrothman/smores/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron", cron: "@hourly"},
		{name: "daily", raw: "at:09:30", kind: SpecCron, source: "daily", cron: "30 9 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every", raw: "every:1h", kind: SpecInterval, source: "duration", duration: time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "at:24:00", "every:-5m", "00:00", "01:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}
	if _, _, err := parseHHMM("24:00"); err == nil {
		t.Fatal("expected error for invalid hour")
	}
}

type recordingEngine struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
	fired chan string
}

func (r *recordingEngine) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	select {
	case r.fired <- t.Name:
	default:
	}
	return r.err
}

func TestAddScheduleValidates(t *testing.T) {
	s := New(Config{}, &recordingEngine{}, logx.Nop())
	job := func(context.Context) error { return nil }
	if err := s.AddSchedule("", "1m", 0, job); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.AddSchedule("pairing", "61 * * * *", 0, job); err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if err := s.AddSchedule("pairing", "0 9 * * *", time.Minute, job); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("pairing", "at:10:00", time.Minute, job); err != nil {
		t.Fatalf("AddSchedule replace: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "at:10:00" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if !s.Remove("pairing") || s.Remove("pairing") {
		t.Fatal("Remove mismatch")
	}
}

func TestCronTriggerEnqueuesTask(t *testing.T) {
	eng := &recordingEngine{fired: make(chan string, 4), err: engine.ErrOverlapSkip}
	s := New(Config{Location: time.UTC}, eng, logx.Nop())
	if err := s.AddSchedule("resend", "* * * * * *", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	select {
	case name := <-eng.fired:
		if name != "resend" {
			t.Fatalf("fired %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}
	eng.mu.Lock()
	task := eng.tasks[0]
	eng.mu.Unlock()
	if task.Opt.Overlap != engine.OverlapSkipIfRunning || task.State == nil || task.Timeout != time.Minute {
		t.Fatalf("unexpected task %+v", task)
	}
	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "UTC" || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSpreadIntervalDelaysFirstRun(t *testing.T) {
	now := time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)
	sched := spreadInterval(time.Minute, now, "sync")
	first := sched.Next(now)
	if first.Before(now.Add(time.Minute)) || !first.Before(now.Add(2*time.Minute)) {
		t.Fatalf("first run %v outside [1m, 2m)", first.Sub(now))
	}
	if gap := sched.Next(first).Sub(first); gap < 59*time.Second || gap > time.Minute {
		t.Fatalf("second run after %v, want about 1m", gap)
	}
}

func TestReportEnqueueErrorThrottles(t *testing.T) {
	s := New(Config{}, &recordingEngine{}, logx.Nop())
	s.reportEnqueueError("pairing", errors.New("queue full"))
	first := s.lastEnqWarn["pairing"]
	s.reportEnqueueError("pairing", errors.New("queue full"))
	if !s.lastEnqWarn["pairing"].Equal(first) {
		t.Fatal("second warning was not throttled")
	}
}
