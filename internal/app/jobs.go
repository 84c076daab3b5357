package app

import (
	"context"
	"errors"
	"strings"

	"github.com/geoffrothman/smores/internal/config"
	"github.com/geoffrothman/smores/internal/pass"
	"github.com/geoffrothman/smores/internal/task/engine"
	"github.com/geoffrothman/smores/pkg/logx"
)

type scheduleSpec struct {
	kind pass.Kind
	raw  string
}

func scheduleSpecs(sc config.SchedulerConfig) []scheduleSpec {
	return []scheduleSpec{
		{pass.KindPairing, strings.TrimSpace(sc.Pairing)},
		{pass.KindResend, strings.TrimSpace(sc.Resend)},
		{pass.KindReminder, strings.TrimSpace(sc.Reminder)},
		{pass.KindSync, strings.TrimSpace(sc.Sync)},
	}
}

// applySchedules registers one scheduler entry per configured pass and
// removes the entries whose schedule was cleared.
func (a *App) applySchedules(sc config.SchedulerConfig) error {
	var errs []error
	for _, s := range scheduleSpecs(sc) {
		name := "pass." + string(s.kind)
		if s.raw == "" {
			if a.sched.Remove(name) {
				a.log.Info("schedule removed", logx.String("name", name))
			}
			continue
		}
		if err := a.sched.AddSchedule(name, s.raw, 0, a.passJob(s.kind)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// passJob adapts a pass to an engine task. Aborted passes are retried by the
// engine; a canceled context is not.
func (a *App) passJob(kind pass.Kind) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.RunPass(ctx, kind, "")
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return engine.NoRetry(err)
		}
		return err
	}
}
