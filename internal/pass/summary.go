package pass

import (
	"fmt"
	"strings"
	"time"

	"github.com/geoffrothman/smores/internal/batch"
)

// Kind names a pass.
type Kind string

const (
	KindPairing  Kind = "pairing"
	KindForce    Kind = "force"
	KindResend   Kind = "resend"
	KindReminder Kind = "reminder"
	KindSync     Kind = "sync"
)

// EventCompleted is published on the bus with a Summary as data.
const EventCompleted = "pass.completed"

// UnitError is a failure confined to one channel or batch.
type UnitError struct {
	Unit string // "channel:<id>" or "batch:<id>"
	Err  error
}

func (e UnitError) Error() string { return e.Unit + ": " + e.Err.Error() }

// Summary is the result of one pass.
type Summary struct {
	Kind    Kind
	Started time.Time
	Elapsed time.Duration

	// Gated is set when a pairing pass ran outside the conversation day.
	Gated bool

	Visited int // channels or batches examined
	Created int // batches produced
	TooFew  int // channels marked paired without a batch
	Skipped int // lease held or no longer eligible
	Added   int
	Removed int

	Reports []batch.Report
	Errors  []UnitError
}

func (s *Summary) fail(unit string, err error) {
	s.Errors = append(s.Errors, UnitError{Unit: unit, Err: err})
}

// Delivered counts successful deliveries across all reports.
func (s Summary) Delivered() int {
	n := 0
	for _, r := range s.Reports {
		n += r.Delivered()
	}
	return n
}

// Undelivered counts failed deliveries across all reports.
func (s Summary) Undelivered() int {
	n := 0
	for _, r := range s.Reports {
		n += r.Failed()
	}
	return n
}

// Failed reports whether anything in the pass needs attention.
func (s Summary) Failed() bool {
	if len(s.Errors) > 0 {
		return true
	}
	for _, r := range s.Reports {
		switch r.Outcome() {
		case batch.OutcomePartial, batch.OutcomeFailed, batch.OutcomeError:
			return true
		}
	}
	return false
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s pass", s.Kind)
	if s.Gated {
		b.WriteString(": not the conversation day")
		return b.String()
	}
	fmt.Fprintf(&b, ": visited=%d", s.Visited)
	switch s.Kind {
	case KindSync:
		fmt.Fprintf(&b, " added=%d removed=%d", s.Added, s.Removed)
	case KindPairing, KindForce:
		fmt.Fprintf(&b, " created=%d too_few=%d", s.Created, s.TooFew)
	}
	if len(s.Reports) > 0 {
		fmt.Fprintf(&b, " delivered=%d failed=%d", s.Delivered(), s.Undelivered())
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, " skipped=%d", s.Skipped)
	}
	fmt.Fprintf(&b, " elapsed=%s", s.Elapsed.Round(time.Millisecond))
	for _, r := range s.Reports {
		if o := r.Outcome(); o != batch.OutcomeComplete && o != batch.OutcomeNoop {
			b.WriteString("\n  ")
			b.WriteString(r.String())
		}
	}
	for _, e := range s.Errors {
		b.WriteString("\n  ")
		b.WriteString(e.Error())
	}
	return b.String()
}
