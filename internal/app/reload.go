package app

import (
	"context"
	"strings"

	"github.com/geoffrothman/smores/internal/config"
	"github.com/geoffrothman/smores/internal/task/scheduler"
	"github.com/geoffrothman/smores/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	res, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	if config.RestartRequired(sections) {
		a.log.Warn("config change needs a restart to take full effect", logx.String("changed", strings.Join(sections, ",")))
	}

	a.logs.Apply(mapLogConfig(next))

	for _, s := range sections {
		switch s {
		case "pairing":
			if err := a.buildCoordinator(res, a.logs.Logger()); err != nil {
				a.log.Warn("pass settings not applied", logx.Err(err))
			}
		case "scheduler":
			a.sched.Apply(scheduler.Config{Location: res.SchedulerTZ})
			if err := a.applySchedules(next.Scheduler); err != nil {
				a.log.Warn("schedules not applied", logx.Err(err))
			}
			if next.Scheduler.Enabled != prev.Scheduler.Enabled {
				if next.Scheduler.Enabled {
					a.log.Info("scheduler enabled via config")
					a.sched.Start()
				} else {
					a.log.Info("scheduler disabled via config")
					a.sched.Stop(ctx)
				}
			}
		case "notifier":
			ncfg := mapNotifierConfig(res.Notifier)
			a.notif.Apply(ncfg)
			if ncfg.Enabled {
				a.notif.Start(a.sup.Context())
			} else {
				a.notif.Stop(ctx)
			}
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
