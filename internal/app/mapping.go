package app

import (
	"github.com/geoffrothman/smores/internal/config"
	"github.com/geoffrothman/smores/internal/lease"
	"github.com/geoffrothman/smores/internal/notifier"
	"github.com/geoffrothman/smores/internal/pass"
	"github.com/geoffrothman/smores/internal/task/engine"
	"github.com/geoffrothman/smores/internal/transport/slack"
	"github.com/geoffrothman/smores/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Ops: logx.OpsConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapEngineConfig(te config.TaskEngine) engine.Config {
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: te.DefaultTimeout,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
		RetryBase:      te.RetryBase,
	}
}

func mapNotifierConfig(n config.Notifier) notifier.Config {
	return notifier.Config{
		Enabled:       n.Enabled,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     n.RetryBase,
		RetryMaxDelay: n.RetryMaxDelay,
		DedupWindow:   n.DedupWindow,
	}
}

func mapLeaseConfig(l config.Lease) lease.Config {
	return lease.Config{
		Driver:    l.Driver,
		Addr:      l.Redis.Addr,
		Password:  l.Redis.Password,
		DB:        l.Redis.DB,
		KeyPrefix: l.Redis.KeyPrefix,
	}
}

func mapPassSettings(res config.Resolved) pass.Settings {
	p := res.Pairing
	return pass.Settings{
		ConversationDay:     p.ConversationDay,
		Recurrence:          p.Recurrence,
		PageSize:            p.PageSize,
		MidpointAfterDays:   p.MidpointAfterDays,
		StaleGeneratedAfter: p.StaleGeneratedAfter,
		Location:            p.Location,
		LeaseTTL:            res.Lease.TTL,
	}
}

func mapInstallations(sc config.SlackConfig) []slack.Installation {
	out := make([]slack.Installation, 0, len(sc.Installations))
	for _, in := range sc.Installations {
		out = append(out, slack.Installation{
			TeamID:       in.TeamID,
			EnterpriseID: in.EnterpriseID,
			BotToken:     in.BotToken,
		})
	}
	return out
}

// workspaces adapts the installation table to the pass resolver.
func workspaces(r *slack.Resolver) pass.Workspaces {
	return func(enterpriseID, teamID string) (pass.Workspace, error) {
		c, err := r.ForWorkspace(enterpriseID, teamID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
