// Package batch models one pairing round for a channel and the per-group
// delivery state of its intro and midpoint phases.
package batch

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/geoffrothman/smores/internal/model"
)

// Status is the intro-phase state of a batch or pair record.
type Status string

const (
	StatusGenerated     Status = "GENERATED"
	StatusPartiallySent Status = "PARTIALLY_SENT"
	StatusIntroSent     Status = "INTRO_SENT"
)

// MidpointStatus is the reminder-phase state of a batch. The zero value means
// no reminder attempt has happened yet.
type MidpointStatus string

const (
	MidpointUnset         MidpointStatus = ""
	MidpointPartiallySent MidpointStatus = "PARTIALLY_SENT"
	MidpointSent          MidpointStatus = "SENT"
)

// DefaultMidpointAfterDays is the offset between a batch being fully sent and
// its reminder becoming due.
const DefaultMidpointAfterDays = 8

// PairRecord is one conversation group inside a batch.
type PairRecord struct {
	Index          int
	Members        []string
	Status         Status
	ConversationID string
	MidpointSentOn time.Time // zero until reminded
}

// IntroEligible reports whether an intro attempt may be made.
func (p PairRecord) IntroEligible() bool { return p.Status == StatusGenerated }

// ReminderEligible reports whether a midpoint attempt may be made.
func (p PairRecord) ReminderEligible() bool {
	return p.Status == StatusIntroSent && p.MidpointSentOn.IsZero()
}

// MarkIntroSent records a delivered intro. It is a no-op for records that are
// not intro eligible and reports whether the record changed.
func (p *PairRecord) MarkIntroSent(conversationID string) bool {
	if !p.IntroEligible() {
		return false
	}
	p.Status = StatusIntroSent
	p.ConversationID = conversationID
	return true
}

// MarkReminded sets the midpoint marker once.
func (p *PairRecord) MarkReminded(at time.Time) bool {
	if !p.ReminderEligible() {
		return false
	}
	p.MidpointSentOn = at.UTC()
	return true
}

// Batch is one pairing round for one channel.
type Batch struct {
	ID             string
	ChannelID      string
	TeamID         string
	CreatedAt      time.Time
	Status         Status
	MidpointStatus MidpointStatus
	SentOn         time.Time // day the batch became fully INTRO_SENT
	Pairs          []PairRecord
}

// New builds a GENERATED batch from generator output.
func New(channelID, teamID string, groups [][]string, now time.Time) *Batch {
	b := &Batch{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		TeamID:    teamID,
		CreatedAt: now.UTC(),
		Status:    StatusGenerated,
		Pairs:     make([]PairRecord, 0, len(groups)),
	}
	for i, g := range groups {
		b.Pairs = append(b.Pairs, PairRecord{
			Index:   i,
			Members: slices.Clone(g),
			Status:  StatusGenerated,
		})
	}
	return b
}

// FullySent reports whether every record has its intro delivered.
func (b *Batch) FullySent() bool {
	for _, p := range b.Pairs {
		if p.Status != StatusIntroSent {
			return false
		}
	}
	return true
}

// RecomputeIntro derives the intro status from the pair records. Until an
// attempt has happened an incomplete batch stays GENERATED. SentOn is stamped
// with today the first time the batch becomes fully sent.
func (b *Batch) RecomputeIntro(attempted bool, today time.Time) {
	switch {
	case b.FullySent():
		b.Status = StatusIntroSent
		if b.SentOn.IsZero() {
			b.SentOn = model.Day(today)
		}
	case attempted || b.Status == StatusPartiallySent:
		b.Status = StatusPartiallySent
	default:
		b.Status = StatusGenerated
	}
}

// FullyReminded reports whether every record carries a midpoint marker.
func (b *Batch) FullyReminded() bool {
	for _, p := range b.Pairs {
		if p.MidpointSentOn.IsZero() {
			return false
		}
	}
	return true
}

// RecomputeMidpoint derives the midpoint status from the pair records.
func (b *Batch) RecomputeMidpoint(attempted bool) {
	switch {
	case b.FullyReminded():
		b.MidpointStatus = MidpointSent
	case attempted || b.MidpointStatus == MidpointPartiallySent:
		b.MidpointStatus = MidpointPartiallySent
	default:
		b.MidpointStatus = MidpointUnset
	}
}

// MidpointDue reports whether the reminder pass should visit the batch: fully
// sent, reminder not complete, and at least afterDays elapsed since SentOn.
// Batches past the exact offset stay due until processed.
func (b *Batch) MidpointDue(today time.Time, afterDays int) bool {
	if b.Status != StatusIntroSent || b.SentOn.IsZero() {
		return false
	}
	if b.MidpointStatus == MidpointSent {
		return false
	}
	cutoff := model.Day(today).AddDate(0, 0, -afterDays)
	return !b.SentOn.After(cutoff)
}

// NeedsResend reports whether the resend pass should visit the batch.
func (b *Batch) NeedsResend(now time.Time, staleAfter time.Duration) bool {
	switch b.Status {
	case StatusPartiallySent:
		return b.SentOn.IsZero()
	case StatusGenerated:
		return staleAfter > 0 && !b.CreatedAt.After(now.Add(-staleAfter))
	default:
		return false
	}
}
