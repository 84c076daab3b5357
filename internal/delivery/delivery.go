// Package delivery drives batches through the messaging platform: one attempt
// per eligible pair record, spaced by a minimum interval, with each outcome
// recorded independently.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/internal/model"
	"github.com/geoffrothman/smores/pkg/logx"
)

var (
	// ErrTransient marks a retryable platform failure (rate limit, timeout).
	ErrTransient = errors.New("delivery: transient platform error")
	// ErrPermission marks a rejection that will not succeed without operator action.
	ErrPermission = errors.New("delivery: permission denied")
)

const (
	introTemplate = "hello :wave:! You've been matched for a S'mores chat because you're member of <#%s>. " +
		"Find some time on your calendar and make it happen!"

	// ReminderText is sent to every introduced group at the midpoint.
	ReminderText = ":wave: Mid point reminder - if you haven't met yet, make it happen!"

	// DefaultMinSpacing is the courtesy delay between platform calls.
	DefaultMinSpacing = 1200 * time.Millisecond

	finalWriteTimeout = 10 * time.Second
)

// IntroText renders the introduction message for a channel.
func IntroText(channelID string) string { return fmt.Sprintf(introTemplate, channelID) }

// Messenger is the messaging capability the orchestrator consumes.
type Messenger interface {
	OpenConversation(ctx context.Context, members []string) (string, error)
	SendMessage(ctx context.Context, conversationID, text string) error
}

// Recorder persists delivery progress. UpdatePair commits one record;
// UpdateBatch commits the aggregate together with every pair record.
type Recorder interface {
	UpdatePair(ctx context.Context, batchID string, p batch.PairRecord) error
	UpdateBatch(ctx context.Context, b *batch.Batch) error
}

type Options struct {
	MinSpacing time.Duration
	Now        func() time.Time
	// Location decides the calendar day stamped as a batch's sent day. It
	// must match the location passes use for their cutoffs. Nil means UTC.
	Location *time.Location
}

// Orchestrator may be shared by concurrent passes. Its limiter spaces pair
// attempts across batches and passes.
type Orchestrator struct {
	store   Recorder
	log     logx.Logger
	now     func() time.Time
	loc     *time.Location
	limiter *rate.Limiter
}

func New(store Recorder, log logx.Logger, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.MinSpacing > 0 {
		lim = rate.NewLimiter(rate.Every(opts.MinSpacing), 1)
	}
	return &Orchestrator{
		store:   store,
		log:     log.With(logx.String("comp", "delivery")),
		now:     opts.Now,
		loc:     opts.Location,
		limiter: lim,
	}
}

// SendIntros attempts the intro for every GENERATED record of b.
func (o *Orchestrator) SendIntros(ctx context.Context, b *batch.Batch, m Messenger) batch.Report {
	text := IntroText(b.ChannelID)
	return o.run(ctx, b, phase{
		name:     batch.PhaseIntro,
		eligible: batch.PairRecord.IntroEligible,
		attempt: func(p *batch.PairRecord) (string, error) {
			conv, err := deliver(ctx, m, p.Members, "", text)
			if err == nil {
				p.MarkIntroSent(conv)
			}
			return conv, err
		},
		recompute: func(attempted bool) { b.RecomputeIntro(attempted, model.DayIn(o.now(), o.loc)) },
	})
}

// SendReminders attempts the midpoint message for every introduced record of b
// that has not been reminded.
func (o *Orchestrator) SendReminders(ctx context.Context, b *batch.Batch, m Messenger) batch.Report {
	return o.run(ctx, b, phase{
		name:     batch.PhaseMidpoint,
		eligible: batch.PairRecord.ReminderEligible,
		attempt: func(p *batch.PairRecord) (string, error) {
			conv, err := deliver(ctx, m, p.Members, p.ConversationID, ReminderText)
			if err == nil {
				p.MarkReminded(o.now())
			}
			return conv, err
		},
		recompute: b.RecomputeMidpoint,
	})
}

type phase struct {
	name      batch.Phase
	eligible  func(batch.PairRecord) bool
	attempt   func(p *batch.PairRecord) (string, error)
	recompute func(attempted bool)
}

func (o *Orchestrator) run(ctx context.Context, b *batch.Batch, ph phase) batch.Report {
	rep := batch.Report{BatchID: b.ID, ChannelID: b.ChannelID, Phase: ph.name}
	log := o.log.With(
		logx.String("batch", b.ID),
		logx.String("channel", b.ChannelID),
		logx.String("phase", string(ph.name)),
	)

	for i := range b.Pairs {
		p := &b.Pairs[i]
		if !ph.eligible(*p) {
			rep.Skipped++
			continue
		}
		if err := o.limiter.Wait(ctx); err != nil {
			log.Warn("delivery interrupted", logx.Int("pair", p.Index), logx.Err(err))
			break
		}

		conv, err := ph.attempt(p)
		res := batch.Result{Index: p.Index, Members: p.Members, ConversationID: conv, Err: err}
		rep.Results = append(rep.Results, res)
		if res.Err != nil {
			log.Warn("pair delivery failed",
				logx.Int("pair", p.Index),
				logx.Any("members", p.Members),
				logx.String("class", classify(res.Err)),
				logx.Err(res.Err),
			)
			continue
		}
		if err := o.store.UpdatePair(ctx, b.ID, *p); err != nil {
			// The aggregate write below carries the record again.
			log.Error("persist pair failed", logx.Int("pair", p.Index), logx.Err(err))
		}
	}

	ph.recompute(rep.Attempted())

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := o.store.UpdateBatch(wctx, b); err != nil {
		rep.Err = fmt.Errorf("update batch %s: %w", b.ID, err)
		log.Error("persist batch failed", logx.Err(err))
	}

	log.Info("delivery finished",
		logx.Int("delivered", rep.Delivered()),
		logx.Int("failed", rep.Failed()),
		logx.Int("skipped", rep.Skipped),
		logx.String("status", string(b.Status)),
		logx.String("midpoint_status", string(b.MidpointStatus)),
	)
	return rep
}

// deliver opens (or reuses) a group conversation and posts text into it.
func deliver(ctx context.Context, m Messenger, members []string, conv, text string) (string, error) {
	if conv == "" {
		var err error
		conv, err = m.OpenConversation(ctx, members)
		if err != nil {
			return "", fmt.Errorf("open conversation: %w", err)
		}
	}
	if err := m.SendMessage(ctx, conv, text); err != nil {
		return conv, fmt.Errorf("send message: %w", err)
	}
	return conv, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}
