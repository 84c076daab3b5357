package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/geoffrothman/smores/internal/config"
	"github.com/geoffrothman/smores/internal/delivery"
	"github.com/geoffrothman/smores/internal/eventbus"
	"github.com/geoffrothman/smores/internal/lease"
	"github.com/geoffrothman/smores/internal/notifier"
	"github.com/geoffrothman/smores/internal/pass"
	rtsup "github.com/geoffrothman/smores/internal/runtime/supervisor"
	"github.com/geoffrothman/smores/internal/storage"
	"github.com/geoffrothman/smores/internal/task/engine"
	"github.com/geoffrothman/smores/internal/task/scheduler"
	"github.com/geoffrothman/smores/internal/transport/slack"
	"github.com/geoffrothman/smores/internal/transport/telegram"
	"github.com/geoffrothman/smores/pkg/logx"
)

// App owns every long-lived component. New wires them; Start runs the
// scheduled service and Stop tears it down. One-shot commands use RunPass
// and Close without calling Start.
type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store      storage.Store
	locker     lease.Locker
	leaseClose func() error
	slack      *slack.Resolver
	ops        *telegram.Sender

	coord atomic.Pointer[pass.Coordinator]

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	boot := logx.NewConsole("INFO")
	var ops *telegram.Sender
	var sink logx.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.OpsChatID != 0 {
		ops, err = telegram.New(telegram.Config{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.OpsChatID,
			ThreadID: cfg.Telegram.ThreadID,
		}, boot.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sink = ops
	}
	logSvc, log := logx.New(mapLogConfig(cfg), sink)

	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
		ops:  ops,
	}
	if err := a.build(cfg, res, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, res config.Resolved, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg, res)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	a.locker, a.leaseClose, err = lease.Open(mapLeaseConfig(res.Lease), log)
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}

	a.slack, err = slack.NewResolver(mapInstallations(cfg.Slack), slack.Options{
		APIURL:  cfg.Slack.APIURL,
		Timeout: res.SlackTimeout,
	}, log)
	if err != nil {
		return err
	}
	if a.slack.Len() == 0 {
		a.log.Warn("no slack installations configured; passes will skip every channel")
	}

	if err := a.buildCoordinator(res, log); err != nil {
		return err
	}

	a.engine = engine.New(mapEngineConfig(res.TaskEngine), log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(scheduler.Config{Location: res.SchedulerTZ}, a.engine, log.With(logx.String("comp", "scheduler")))

	var opsSender notifier.Sender
	if a.ops != nil {
		opsSender = a.ops
	}
	a.notif = notifier.New(mapNotifierConfig(res.Notifier), opsSender, log, a.bus)
	return nil
}

// buildCoordinator swaps in a coordinator for res. Passes already running
// keep the previous one.
func (a *App) buildCoordinator(res config.Resolved, log logx.Logger) error {
	dl := delivery.New(a.store, log, delivery.Options{
		MinSpacing: res.Pairing.MinSpacing,
		Location:   res.Pairing.Location,
	})
	c, err := pass.New(mapPassSettings(res), pass.Deps{
		Store:      a.store,
		Workspaces: workspaces(a.slack),
		Delivery:   dl,
		Locker:     a.locker,
		Bus:        a.bus,
		Log:        log,
	})
	if err != nil {
		return err
	}
	a.coord.Store(c)
	return nil
}

func (a *App) Logger() logx.Logger  { return a.log }
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunPass runs one pass synchronously. channelID is used by pass.KindForce
// only.
func (a *App) RunPass(ctx context.Context, kind pass.Kind, channelID string) (pass.Summary, error) {
	c := a.coord.Load()
	switch kind {
	case pass.KindPairing:
		return c.RunPairing(ctx)
	case pass.KindForce:
		if strings.TrimSpace(channelID) == "" {
			return pass.Summary{}, errors.New("channel id is required")
		}
		return c.ForcePairing(ctx, channelID)
	case pass.KindResend:
		return c.RunResend(ctx)
	case pass.KindReminder:
		return c.RunReminders(ctx)
	case pass.KindSync:
		return c.RunSync(ctx)
	default:
		return pass.Summary{}, fmt.Errorf("unknown pass %q", kind)
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.Resolve(cfg); err != nil {
			return err
		}
		for _, spec := range scheduleSpecs(cfg.Scheduler) {
			if spec.raw == "" {
				continue
			}
			if _, err := scheduler.ParseSchedule(spec.raw); err != nil {
				return fmt.Errorf("scheduler.%s: %w", spec.kind, err)
			}
		}
		return nil
	})

	cfg := a.cfgm.Get()
	a.engine.Start(a.sup.Context())
	if err := a.applySchedules(cfg.Scheduler); err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		a.sched.Start()
	} else {
		a.log.Info("scheduler disabled; passes run only on demand")
	}

	a.notif.Start(a.sup.Context())
	summaries, unsubSummaries := a.bus.Subscribe(32)
	a.sup.Go("notifier.forward", func(c context.Context) error {
		defer unsubSummaries()
		a.notif.Forward(c, summaries, formatSummary)
		return nil
	})

	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("workspaces", a.slack.Len()))
	return nil
}

// formatSummary selects the completed passes worth an ops message.
func formatSummary(ev eventbus.Event) (string, bool) {
	if ev.Type != pass.EventCompleted {
		return "", false
	}
	sum, ok := ev.Data.(pass.Summary)
	if !ok || !sum.Failed() {
		return "", false
	}
	return sum.String(), true
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, a.sched.Stop)
	step("taskengine", 5*time.Second, a.engine.Stop)
	step("notifier", 3*time.Second, a.notif.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	a.Close()
	return nil
}

// Close releases storage, lease and logging resources.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.leaseClose != nil {
		if err := a.leaseClose(); err != nil {
			a.log.Warn("lease close failed", logx.Err(err))
		}
		a.leaseClose = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
