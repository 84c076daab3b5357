package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var today = time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)

func threePairs() *Batch {
	return New("C1", "T1", [][]string{{"A", "B"}, {"C", "D"}, {"E", "F", "G"}}, today)
}

func TestNewBatch(t *testing.T) {
	b := threePairs()
	require.NotEmpty(t, b.ID)
	require.Equal(t, StatusGenerated, b.Status)
	require.Equal(t, MidpointUnset, b.MidpointStatus)
	require.True(t, b.SentOn.IsZero())
	require.Len(t, b.Pairs, 3)
	for i, p := range b.Pairs {
		require.Equal(t, i, p.Index)
		require.True(t, p.IntroEligible())
		require.False(t, p.ReminderEligible())
	}
	require.NotEqual(t, b.ID, threePairs().ID)
}

func TestRecomputeIntro(t *testing.T) {
	b := threePairs()

	b.RecomputeIntro(false, today)
	require.Equal(t, StatusGenerated, b.Status)

	require.True(t, b.Pairs[0].MarkIntroSent("G1"))
	require.True(t, b.Pairs[2].MarkIntroSent("G3"))
	b.RecomputeIntro(true, today)
	require.Equal(t, StatusPartiallySent, b.Status)
	require.True(t, b.SentOn.IsZero())

	// A partial batch never goes back to GENERATED, even without an attempt.
	b.RecomputeIntro(false, today)
	require.Equal(t, StatusPartiallySent, b.Status)

	require.True(t, b.Pairs[1].MarkIntroSent("G2"))
	b.RecomputeIntro(true, today.Add(3*time.Hour))
	require.Equal(t, StatusIntroSent, b.Status)
	require.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), b.SentOn)

	// SentOn is stamped once.
	b.RecomputeIntro(true, today.AddDate(0, 0, 5))
	require.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), b.SentOn)
}

func TestMarkIntroSentOnce(t *testing.T) {
	p := PairRecord{Members: []string{"A", "B"}, Status: StatusGenerated}
	require.True(t, p.MarkIntroSent("G1"))
	require.False(t, p.MarkIntroSent("G2"))
	require.Equal(t, "G1", p.ConversationID)
}

func TestMarkRemindedOnce(t *testing.T) {
	p := PairRecord{Members: []string{"A", "B"}, Status: StatusGenerated}
	require.False(t, p.MarkReminded(today), "intro not delivered yet")

	p.MarkIntroSent("G1")
	require.True(t, p.MarkReminded(today))
	require.False(t, p.MarkReminded(today.Add(time.Hour)))
	require.Equal(t, today, p.MidpointSentOn)
	require.False(t, p.ReminderEligible())
}

func TestRecomputeMidpoint(t *testing.T) {
	b := threePairs()
	for i := range b.Pairs {
		b.Pairs[i].MarkIntroSent("G")
	}
	b.RecomputeMidpoint(false)
	require.Equal(t, MidpointUnset, b.MidpointStatus)

	b.Pairs[0].MarkReminded(today)
	b.RecomputeMidpoint(true)
	require.Equal(t, MidpointPartiallySent, b.MidpointStatus)

	b.Pairs[1].MarkReminded(today)
	b.Pairs[2].MarkReminded(today)
	b.RecomputeMidpoint(true)
	require.Equal(t, MidpointSent, b.MidpointStatus)
}

func TestMidpointDue(t *testing.T) {
	sent := func(daysAgo int) *Batch {
		b := threePairs()
		for i := range b.Pairs {
			b.Pairs[i].MarkIntroSent("G")
		}
		b.RecomputeIntro(true, today.AddDate(0, 0, -daysAgo))
		return b
	}

	require.False(t, sent(7).MidpointDue(today, DefaultMidpointAfterDays))
	require.True(t, sent(8).MidpointDue(today, DefaultMidpointAfterDays))
	require.True(t, sent(9).MidpointDue(today, DefaultMidpointAfterDays))

	partial := sent(9)
	partial.MidpointStatus = MidpointPartiallySent
	require.True(t, partial.MidpointDue(today, DefaultMidpointAfterDays))

	done := sent(9)
	done.MidpointStatus = MidpointSent
	require.False(t, done.MidpointDue(today, DefaultMidpointAfterDays))

	notSent := threePairs()
	notSent.SentOn = today.AddDate(0, 0, -10)
	require.False(t, notSent.MidpointDue(today, DefaultMidpointAfterDays))
}

func TestNeedsResend(t *testing.T) {
	now := today

	partial := threePairs()
	partial.Status = StatusPartiallySent
	require.True(t, partial.NeedsResend(now, time.Hour))

	fresh := threePairs()
	require.False(t, fresh.NeedsResend(now.Add(30*time.Minute), time.Hour))
	require.True(t, fresh.NeedsResend(now.Add(2*time.Hour), time.Hour))
	require.False(t, fresh.NeedsResend(now.Add(2*time.Hour), 0))

	sent := threePairs()
	sent.Status = StatusIntroSent
	require.False(t, sent.NeedsResend(now, time.Hour))
}

func TestReportOutcome(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		r    Report
		want Outcome
	}{
		{name: "noop", r: Report{Skipped: 3}, want: OutcomeNoop},
		{name: "complete", r: Report{Results: []Result{{}, {}}}, want: OutcomeComplete},
		{name: "partial", r: Report{Results: []Result{{}, {Err: boom}, {}}}, want: OutcomePartial},
		{name: "failed", r: Report{Results: []Result{{Err: boom}}}, want: OutcomeFailed},
		{name: "store error", r: Report{Results: []Result{{}}, Err: boom}, want: OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.r.Outcome())
		})
	}
}

func TestReportString(t *testing.T) {
	r := Report{BatchID: "b1", ChannelID: "C1", Phase: PhaseIntro, Results: []Result{{}, {Err: errors.New("x")}}, Skipped: 1}
	require.Equal(t, "intro batch=b1 channel=C1 delivered=1 failed=1 skipped=1", r.String())
}
