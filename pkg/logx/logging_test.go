package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendOps(ctx context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestFormatOpsJSON(t *testing.T) {
	got := formatOpsJSON([]byte(`{"level":"warn","message":"pair delivery failed","channel":"C1","time":"x"}` + "\n"))
	if !strings.HasPrefix(got, "[WARN] pair delivery failed") {
		t.Fatalf("unexpected header: %q", got)
	}
	if !strings.Contains(got, "- channel=C1") {
		t.Fatalf("missing field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be dropped: %q", got)
	}
}

func TestFormatOpsJSONNonJSON(t *testing.T) {
	if got := formatOpsJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestOpsSinkRespectsMinLevel(t *testing.T) {
	snd := &recordingSender{}
	svc, log := New(Config{
		Level: "DEBUG",
		File:  FileConfig{Enabled: true, Path: t.TempDir() + "/smores.log"},
		Ops:   OpsConfig{Enabled: true, MinLevel: "WARN", RatePerSec: 100},
	}, snd)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("below threshold")
	log.Warn("above threshold", String("batch", "b1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(snd.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	msgs := snd.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 ops message, got %d: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "above threshold") || !strings.Contains(msgs[0], "batch=b1") {
		t.Fatalf("unexpected ops message: %q", msgs[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored")
	l.With(String("k", "v")).Error("ignored")
}
