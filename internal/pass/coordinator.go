package pass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geoffrothman/smores/internal/batch"
	"github.com/geoffrothman/smores/internal/delivery"
	"github.com/geoffrothman/smores/internal/eventbus"
	"github.com/geoffrothman/smores/internal/lease"
	"github.com/geoffrothman/smores/internal/membership"
	"github.com/geoffrothman/smores/internal/model"
	"github.com/geoffrothman/smores/internal/pairing"
	"github.com/geoffrothman/smores/internal/storage"
	"github.com/geoffrothman/smores/pkg/logx"
)

// Workspace is the per-workspace platform client a pass talks to.
type Workspace interface {
	delivery.Messenger
	membership.Lister
	BotUserID(ctx context.Context) (string, error)
}

// Workspaces resolves the client installed for a workspace. enterpriseID is
// empty outside enterprise grids.
type Workspaces func(enterpriseID, teamID string) (Workspace, error)

// Settings are the pass parameters.
type Settings struct {
	ConversationDay     time.Weekday
	Recurrence          time.Duration
	PageSize            int
	MidpointAfterDays   int
	StaleGeneratedAfter time.Duration
	Location            *time.Location
	LeaseTTL            time.Duration
}

func (s *Settings) defaults() {
	if s.Recurrence <= 0 {
		s.Recurrence = 14 * 24 * time.Hour
	}
	if s.PageSize <= 0 {
		s.PageSize = 10
	}
	if s.MidpointAfterDays <= 0 {
		s.MidpointAfterDays = batch.DefaultMidpointAfterDays
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = 10 * time.Minute
	}
}

type Deps struct {
	Store      storage.Store
	Workspaces Workspaces
	Delivery   *delivery.Orchestrator
	Members    *membership.Syncer
	Locker     lease.Locker   // nil grants every lease
	Bus        eventbus.Bus   // optional
	Rand       pairing.Source // nil seeds from the clock
	Now        func() time.Time
	Log        logx.Logger
}

// Coordinator runs passes. Passes may run concurrently with each other.
type Coordinator struct {
	set        Settings
	store      storage.Store
	workspaces Workspaces
	delivery   *delivery.Orchestrator
	members    *membership.Syncer
	locker     lease.Locker
	bus        eventbus.Bus
	now        func() time.Time
	log        logx.Logger

	rndMu sync.Mutex
	rnd   pairing.Source
}

func New(set Settings, d Deps) (*Coordinator, error) {
	if d.Store == nil {
		return nil, errors.New("pass: store is required")
	}
	if d.Workspaces == nil {
		return nil, errors.New("pass: workspaces resolver is required")
	}
	set.defaults()
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locker == nil {
		d.Locker = lease.Nop{}
	}
	if d.Rand == nil {
		d.Rand = pairing.NewSource()
	}
	log := d.Log.With(logx.String("comp", "pass"))
	if d.Delivery == nil {
		d.Delivery = delivery.New(d.Store, d.Log, delivery.Options{
			MinSpacing: delivery.DefaultMinSpacing,
			Now:        d.Now,
			Location:   set.Location,
		})
	}
	if d.Members == nil {
		d.Members = membership.NewSyncer(d.Store, d.Rand, d.Log)
	}
	return &Coordinator{
		set:        set,
		store:      d.Store,
		workspaces: d.Workspaces,
		delivery:   d.Delivery,
		members:    d.Members,
		locker:     d.Locker,
		bus:        d.Bus,
		now:        d.Now,
		log:        log,
		rnd:        d.Rand,
	}, nil
}

// today is the current calendar day in the configured location, expressed as
// a UTC midnight like every stored day.
func (c *Coordinator) today(now time.Time) time.Time {
	return model.DayIn(now, c.set.Location)
}

// RunPairing produces and introduces a batch for every eligible channel. It
// does nothing outside the configured conversation day.
func (c *Coordinator) RunPairing(ctx context.Context) (Summary, error) {
	sum := c.begin(KindPairing)
	now := c.now()
	if wd := now.In(c.set.Location).Weekday(); wd != c.set.ConversationDay {
		sum.Gated = true
		c.log.Debug("pairing gated",
			logx.String("weekday", wd.String()),
			logx.String("conversation_day", c.set.ConversationDay.String()),
		)
		return c.finish(sum, nil)
	}
	today := c.today(now)
	cutoff := today.Add(-c.set.Recurrence)

	// Keyset paging: channels that fail stay eligible but are never read
	// twice in one pass.
	var after string
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(sum, err)
		}
		page, err := c.store.EligibleChannels(ctx, cutoff, after, c.set.PageSize)
		if err != nil {
			return c.finish(sum, fmt.Errorf("eligible channels: %w", err))
		}
		if len(page) == 0 {
			break
		}
		for _, ch := range page {
			if err := ctx.Err(); err != nil {
				return c.finish(sum, err)
			}
			c.pairChannel(ctx, &sum, ch.ID, today, false)
		}
		after = page[len(page)-1].ID
	}
	return c.finish(sum, nil)
}

// ForcePairing pairs one channel regardless of the weekday and the recurrence
// window. An unknown channel is skipped.
func (c *Coordinator) ForcePairing(ctx context.Context, channelID string) (Summary, error) {
	sum := c.begin(KindForce)
	c.pairChannel(ctx, &sum, channelID, c.today(c.now()), true)
	return c.finish(sum, nil)
}

func (c *Coordinator) pairChannel(ctx context.Context, sum *Summary, channelID string, today time.Time, force bool) {
	unit := "channel:" + channelID
	release, ok := c.acquire(ctx, sum, unit)
	if !ok {
		return
	}
	defer release()

	ch, err := c.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		c.log.Warn("channel not registered", logx.String("channel", channelID))
		sum.Skipped++
		return
	}
	if err != nil {
		sum.fail(unit, err)
		return
	}
	sum.Visited++
	// Re-checked under the lease in case another worker paired it first.
	if !force && !ch.EligibleForPairing(today, c.set.Recurrence) {
		sum.Skipped++
		return
	}

	ws, err := c.workspaces(ch.EnterpriseID, ch.TeamID)
	if err != nil {
		sum.fail(unit, err)
		return
	}
	if _, err := c.members.Sync(ctx, &ch, ws); err != nil {
		c.log.Warn("member refresh failed, pairing from cache",
			logx.String("channel", ch.ID),
			logx.Err(err),
		)
	}
	bot, err := ws.BotUserID(ctx)
	if err != nil {
		sum.fail(unit, fmt.Errorf("bot user id: %w", err))
		return
	}
	ids, err := c.store.ListMemberIDs(ctx, ch.ID, ch.TeamID)
	if err != nil {
		sum.fail(unit, err)
		return
	}
	ids = pairing.Without(ids, bot)

	if len(ids) < pairing.MinMembers {
		if err := c.store.MarkChannelPaired(ctx, ch.ID, today); err != nil {
			sum.fail(unit, err)
			return
		}
		sum.TooFew++
		c.log.Info("too few members to pair",
			logx.String("channel", ch.ID),
			logx.Int("members", len(ids)),
		)
		return
	}

	c.rndMu.Lock()
	groups := pairing.Generate(ids, c.rnd)
	c.rndMu.Unlock()

	b := batch.New(ch.ID, ch.TeamID, groups, c.now())
	if err := c.store.CreateBatch(ctx, b, today); err != nil {
		sum.fail(unit, fmt.Errorf("create batch: %w", err))
		return
	}
	sum.Created++
	c.log.Info("batch created",
		logx.String("channel", ch.ID),
		logx.String("batch", b.ID),
		logx.Int("members", len(ids)),
		logx.Int("pairs", len(groups)),
	)
	// Resend and reminders lock batches, not channels. Hold the batch too
	// while its intros go out; if it cannot be taken the batch stays
	// generated for the resend pass.
	releaseBatch, ok := c.acquire(ctx, sum, "batch:"+b.ID)
	if !ok {
		return
	}
	defer releaseBatch()
	sum.Reports = append(sum.Reports, c.delivery.SendIntros(ctx, b, ws))
}

// RunResend retries intros for partially sent batches and for generated
// batches that were never delivered.
func (c *Coordinator) RunResend(ctx context.Context) (Summary, error) {
	sum := c.begin(KindResend)
	now := c.now()
	var staleBefore time.Time
	if c.set.StaleGeneratedAfter > 0 {
		staleBefore = now.Add(-c.set.StaleGeneratedAfter)
	}
	pending, err := c.store.PendingIntroBatches(ctx, staleBefore)
	if err != nil {
		return c.finish(sum, fmt.Errorf("pending batches: %w", err))
	}
	for _, b := range pending {
		if err := ctx.Err(); err != nil {
			return c.finish(sum, err)
		}
		c.batchUnit(ctx, &sum, b.ID,
			func(b *batch.Batch) bool { return b.NeedsResend(now, c.set.StaleGeneratedAfter) },
			c.delivery.SendIntros,
		)
	}
	return c.finish(sum, nil)
}

// RunReminders sends the midpoint message for batches introduced at least
// MidpointAfterDays ago.
func (c *Coordinator) RunReminders(ctx context.Context) (Summary, error) {
	sum := c.begin(KindReminder)
	today := c.today(c.now())
	cutoff := today.AddDate(0, 0, -c.set.MidpointAfterDays)
	due, err := c.store.MidpointDueBatches(ctx, cutoff)
	if err != nil {
		return c.finish(sum, fmt.Errorf("midpoint batches: %w", err))
	}
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return c.finish(sum, err)
		}
		c.batchUnit(ctx, &sum, b.ID,
			func(b *batch.Batch) bool { return b.MidpointDue(today, c.set.MidpointAfterDays) },
			c.delivery.SendReminders,
		)
	}
	return c.finish(sum, nil)
}

type sendFunc func(context.Context, *batch.Batch, delivery.Messenger) batch.Report

func (c *Coordinator) batchUnit(ctx context.Context, sum *Summary, batchID string, due func(*batch.Batch) bool, send sendFunc) {
	unit := "batch:" + batchID
	release, ok := c.acquire(ctx, sum, unit)
	if !ok {
		return
	}
	defer release()

	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		sum.fail(unit, err)
		return
	}
	sum.Visited++
	if !due(b) {
		sum.Skipped++
		return
	}
	ch, err := c.store.GetChannel(ctx, b.ChannelID)
	if err != nil {
		sum.fail(unit, fmt.Errorf("batch channel: %w", err))
		return
	}
	ws, err := c.workspaces(ch.EnterpriseID, b.TeamID)
	if err != nil {
		sum.fail(unit, err)
		return
	}
	sum.Reports = append(sum.Reports, send(ctx, b, ws))
}

// RunSync refreshes the member cache of every active channel.
func (c *Coordinator) RunSync(ctx context.Context) (Summary, error) {
	sum := c.begin(KindSync)
	channels, err := c.store.ListActiveChannels(ctx)
	if err != nil {
		return c.finish(sum, fmt.Errorf("active channels: %w", err))
	}
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return c.finish(sum, err)
		}
		c.syncChannel(ctx, &sum, ch)
	}
	return c.finish(sum, nil)
}

func (c *Coordinator) syncChannel(ctx context.Context, sum *Summary, ch model.Channel) {
	unit := "channel:" + ch.ID
	release, ok := c.acquire(ctx, sum, unit)
	if !ok {
		return
	}
	defer release()

	sum.Visited++
	ws, err := c.workspaces(ch.EnterpriseID, ch.TeamID)
	if err != nil {
		sum.fail(unit, err)
		return
	}
	res, err := c.members.Sync(ctx, &ch, ws)
	sum.Added += res.Added
	sum.Removed += res.Removed
	if err != nil {
		sum.fail(unit, err)
	}
}

func (c *Coordinator) acquire(ctx context.Context, sum *Summary, unit string) (func(), bool) {
	release, err := c.locker.Acquire(ctx, unit, c.set.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		c.log.Debug("lease held, skipping", logx.String("unit", unit))
		sum.Skipped++
		return nil, false
	}
	if err != nil {
		sum.fail(unit, fmt.Errorf("acquire lease: %w", err))
		return nil, false
	}
	return release, true
}

func (c *Coordinator) begin(k Kind) Summary {
	return Summary{Kind: k, Started: c.now()}
}

func (c *Coordinator) finish(sum Summary, err error) (Summary, error) {
	sum.Elapsed = c.now().Sub(sum.Started)
	fields := []logx.Field{
		logx.String("pass", string(sum.Kind)),
		logx.Int("visited", sum.Visited),
		logx.Int("created", sum.Created),
		logx.Int("delivered", sum.Delivered()),
		logx.Int("failed", sum.Undelivered()),
		logx.Int("unit_errors", len(sum.Errors)),
		logx.Duration("elapsed", sum.Elapsed),
	}
	switch {
	case err != nil:
		c.log.Error("pass aborted", append(fields, logx.Err(err))...)
	case sum.Failed():
		c.log.Warn("pass finished with failures", fields...)
	case !sum.Gated:
		c.log.Info("pass finished", fields...)
	}
	if c.bus != nil && !sum.Gated {
		c.bus.Publish(eventbus.Event{Type: EventCompleted, Time: c.now(), Data: sum})
	}
	return sum, err
}
