package batch

import (
	"fmt"
	"strings"
)

// Phase identifies which delivery stage a report covers.
type Phase string

const (
	PhaseIntro    Phase = "intro"
	PhaseMidpoint Phase = "midpoint"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Index          int
	Members        []string
	ConversationID string
	Err            error
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Report collects per-record results for one orchestrator run.
type Report struct {
	BatchID   string
	ChannelID string
	Phase     Phase
	Results   []Result
	Skipped   int   // records that were not eligible
	Err       error // persistence failure, if any
}

// Attempted reports whether any delivery was tried.
func (r Report) Attempted() bool { return len(r.Results) > 0 }

// Failed counts unsuccessful attempts.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Delivered counts successful attempts.
func (r Report) Delivered() int { return len(r.Results) - r.Failed() }

// Outcome summarizes the run without touching batch state.
func (r Report) Outcome() Outcome {
	switch {
	case r.Err != nil:
		return OutcomeError
	case !r.Attempted():
		return OutcomeNoop
	case r.Failed() == 0:
		return OutcomeComplete
	case r.Delivered() == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s batch=%s channel=%s delivered=%d failed=%d skipped=%d",
		r.Phase, r.BatchID, r.ChannelID, r.Delivered(), r.Failed(), r.Skipped)
	if r.Err != nil {
		fmt.Fprintf(&b, " err=%v", r.Err)
	}
	return b.String()
}

// Outcome is the aggregate classification of a Report.
type Outcome string

const (
	OutcomeNoop     Outcome = "noop"
	OutcomeComplete Outcome = "complete"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
	OutcomeError    Outcome = "error"
)
