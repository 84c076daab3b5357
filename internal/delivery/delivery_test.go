package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/pkg/logx"
)

type fakeMessenger struct {
	mu      sync.Mutex
	opened  [][]string
	sent    map[string][]string
	failFor map[string]error // keyed by first member
	calls   []time.Time
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: map[string][]string{}, failFor: map[string]error{}}
}

func (f *fakeMessenger) OpenConversation(_ context.Context, members []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, time.Now())
	if err := f.failFor[members[0]]; err != nil {
		return "", err
	}
	f.opened = append(f.opened, members)
	return "G-" + strings.Join(members, "-"), nil
}

func (f *fakeMessenger) SendMessage(_ context.Context, conv, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[conv] = append(f.sent[conv], text)
	return nil
}

func (f *fakeMessenger) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecorder struct {
	pairs   map[int]batch.PairRecord
	batches int
	last    batch.Batch
	failAgg error
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{pairs: map[int]batch.PairRecord{}} }

func (r *fakeRecorder) UpdatePair(_ context.Context, _ string, p batch.PairRecord) error {
	r.pairs[p.Index] = p
	return nil
}

func (r *fakeRecorder) UpdateBatch(_ context.Context, b *batch.Batch) error {
	if r.failAgg != nil {
		return r.failAgg
	}
	r.batches++
	r.last = *b
	return nil
}

var fixedNow = time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)

func newTestOrchestrator(rec Recorder, spacing time.Duration) *Orchestrator {
	return New(rec, logx.Nop(), Options{MinSpacing: spacing, Now: func() time.Time { return fixedNow }})
}

func threePairBatch() *batch.Batch {
	return batch.New("C42", "T1", [][]string{{"A", "B"}, {"C", "D"}, {"E", "F"}}, fixedNow)
}

func TestSendIntrosStampsLocalDay(t *testing.T) {
	// 23:00 UTC Monday is 08:00 Tuesday in Tokyo.
	now := time.Date(2026, 10, 12, 23, 0, 0, 0, time.UTC)
	o := New(newFakeRecorder(), logx.Nop(), Options{
		Now:      func() time.Time { return now },
		Location: time.FixedZone("JST", 9*3600),
	})
	b := threePairBatch()

	o.SendIntros(context.Background(), b, newFakeMessenger())

	require.Equal(t, batch.StatusIntroSent, b.Status)
	require.Equal(t, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), b.SentOn)
}

func TestSendIntrosAllSucceed(t *testing.T) {
	m := newFakeMessenger()
	rec := newFakeRecorder()
	b := threePairBatch()

	rep := newTestOrchestrator(rec, 0).SendIntros(context.Background(), b, m)

	require.Equal(t, batch.OutcomeComplete, rep.Outcome())
	require.Equal(t, 3, rep.Delivered())
	require.Equal(t, batch.StatusIntroSent, b.Status)
	require.Equal(t, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), b.SentOn)
	require.Len(t, rec.pairs, 3)
	require.Equal(t, 1, rec.batches)
	for _, p := range b.Pairs {
		require.Equal(t, batch.StatusIntroSent, p.Status)
		require.Equal(t, []string{IntroText("C42")}, m.sent[p.ConversationID])
	}
	require.Contains(t, IntroText("C42"), "<#C42>")
}

func TestSendIntrosPartialFailureIsolation(t *testing.T) {
	m := newFakeMessenger()
	m.failFor["C"] = fmt.Errorf("rate limited: %w", ErrTransient)
	rec := newFakeRecorder()
	b := threePairBatch()
	o := newTestOrchestrator(rec, 0)

	rep := o.SendIntros(context.Background(), b, m)

	require.Equal(t, batch.OutcomePartial, rep.Outcome())
	require.Equal(t, batch.StatusPartiallySent, b.Status)
	require.True(t, b.SentOn.IsZero())
	require.Equal(t, batch.StatusIntroSent, b.Pairs[0].Status)
	require.Equal(t, "G-A-B", b.Pairs[0].ConversationID)
	require.Equal(t, batch.StatusGenerated, b.Pairs[1].Status)
	require.Empty(t, b.Pairs[1].ConversationID)
	require.Equal(t, batch.StatusIntroSent, b.Pairs[2].Status)
	require.Equal(t, "G-E-F", b.Pairs[2].ConversationID)
	require.NotContains(t, rec.pairs, 1)
	require.ErrorIs(t, rep.Results[1].Err, ErrTransient)

	// Resend only touches the failed record.
	delete(m.failFor, "C")
	before := m.attempts()
	rep = o.SendIntros(context.Background(), b, m)
	require.Equal(t, 1, m.attempts()-before)
	require.Equal(t, 2, rep.Skipped)
	require.Equal(t, batch.OutcomeComplete, rep.Outcome())
	require.Equal(t, batch.StatusIntroSent, b.Status)
	require.Equal(t, "G-C-D", b.Pairs[1].ConversationID)
	require.False(t, b.SentOn.IsZero())
}

func TestSendIntrosAtMostOnce(t *testing.T) {
	m := newFakeMessenger()
	rec := newFakeRecorder()
	b := threePairBatch()
	o := newTestOrchestrator(rec, 0)
	o.SendIntros(context.Background(), b, m)

	snapshot := *b
	snapshot.Pairs = append([]batch.PairRecord(nil), b.Pairs...)
	before := m.attempts()

	rep := o.SendIntros(context.Background(), b, m)

	require.Equal(t, before, m.attempts())
	require.Equal(t, batch.OutcomeNoop, rep.Outcome())
	require.Equal(t, 3, rep.Skipped)
	require.Equal(t, snapshot, *b)
}

func TestSendIntrosAllFailKeepsPartial(t *testing.T) {
	m := newFakeMessenger()
	for _, id := range []string{"A", "C", "E"} {
		m.failFor[id] = ErrPermission
	}
	b := threePairBatch()
	rep := newTestOrchestrator(newFakeRecorder(), 0).SendIntros(context.Background(), b, m)

	require.Equal(t, batch.OutcomeFailed, rep.Outcome())
	require.Equal(t, batch.StatusPartiallySent, b.Status)
}

func TestSendIntrosCancelledLeavesRemainingUntouched(t *testing.T) {
	m := newFakeMessenger()
	rec := newFakeRecorder()
	b := threePairBatch()

	ctx, cancel := context.WithCancel(context.Background())
	o := newTestOrchestrator(rec, time.Hour)
	// The first Wait consumes the burst; cancel before the second.
	go func() {
		for m.attempts() < 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	rep := o.SendIntros(ctx, b, m)

	require.Len(t, rep.Results, 1)
	require.Equal(t, batch.StatusIntroSent, b.Pairs[0].Status)
	require.Equal(t, batch.StatusGenerated, b.Pairs[1].Status)
	require.Equal(t, batch.StatusGenerated, b.Pairs[2].Status)
	require.Equal(t, batch.StatusPartiallySent, b.Status)
	require.Equal(t, 1, rec.batches, "aggregate persisted despite cancellation")
}

func TestSendIntrosSpacing(t *testing.T) {
	m := newFakeMessenger()
	b := threePairBatch()
	spacing := 30 * time.Millisecond

	newTestOrchestrator(newFakeRecorder(), spacing).SendIntros(context.Background(), b, m)

	require.Len(t, m.calls, 3)
	for i := 1; i < len(m.calls); i++ {
		gap := m.calls[i].Sub(m.calls[i-1])
		require.GreaterOrEqual(t, gap, spacing-5*time.Millisecond, "gap %d was %s", i, gap)
	}
}

func TestSendIntrosReportsStoreFailure(t *testing.T) {
	rec := newFakeRecorder()
	rec.failAgg = fmt.Errorf("disk full")
	rep := newTestOrchestrator(rec, 0).SendIntros(context.Background(), threePairBatch(), newFakeMessenger())
	require.Equal(t, batch.OutcomeError, rep.Outcome())
	require.ErrorContains(t, rep.Err, "disk full")
}

func introduced(t *testing.T) *batch.Batch {
	t.Helper()
	b := threePairBatch()
	for i := range b.Pairs {
		b.Pairs[i].MarkIntroSent(fmt.Sprintf("G%d", i))
	}
	b.RecomputeIntro(true, fixedNow.AddDate(0, 0, -8))
	return b
}

func TestSendRemindersPartialThenComplete(t *testing.T) {
	m := &failingSender{fakeMessenger: newFakeMessenger(), failConv: "G1"}
	rec := newFakeRecorder()
	b := introduced(t)
	o := newTestOrchestrator(rec, 0)

	rep := o.SendReminders(context.Background(), b, m)
	require.Equal(t, batch.OutcomePartial, rep.Outcome())
	require.Equal(t, batch.MidpointPartiallySent, b.MidpointStatus)
	require.Equal(t, fixedNow, b.Pairs[0].MidpointSentOn)
	require.True(t, b.Pairs[1].MidpointSentOn.IsZero())
	require.Equal(t, []string{ReminderText}, m.sent["G0"])
	require.Empty(t, m.opened, "reminders reuse the stored conversation")

	m.failConv = ""
	rep = o.SendReminders(context.Background(), b, m)
	require.Equal(t, 1, rep.Delivered())
	require.Equal(t, 2, rep.Skipped)
	require.Equal(t, batch.MidpointSent, b.MidpointStatus)
	require.Len(t, m.sent["G0"], 1, "no duplicate reminder")
}

type failingSender struct {
	*fakeMessenger
	failConv string
}

func (f *failingSender) SendMessage(ctx context.Context, conv, text string) error {
	if conv == f.failConv {
		return ErrTransient
	}
	return f.fakeMessenger.SendMessage(ctx, conv, text)
}
