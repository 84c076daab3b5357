package config

import (
	"reflect"
	"strings"

	"github.com/geoffrothman/smores/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and log fields
// describing the new values. Tokens, passwords and DSNs are reported only as
// "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Slack, newCfg.Slack) {
		changed = append(changed, "slack")
		teams := make([]string, 0, len(newCfg.Slack.Installations))
		for _, in := range newCfg.Slack.Installations {
			teams = append(teams, in.TeamID)
		}
		attrs = append(attrs, logx.String("slack.teams", strings.Join(teams, ",")))
	}
	if oldCfg.Telegram.OpsChatID != newCfg.Telegram.OpsChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		(oldCfg.Telegram.Token != "") != (newCfg.Telegram.Token != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""),
			logx.Int64("telegram.ops_chat_id", newCfg.Telegram.OpsChatID),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.pairing", newCfg.Scheduler.Pairing),
			logx.String("scheduler.resend", newCfg.Scheduler.Resend),
			logx.String("scheduler.reminder", newCfg.Scheduler.Reminder),
		)
	}
	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if oldCfg.Storage.Driver != newCfg.Storage.Driver || oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.DSN != newCfg.Storage.DSN {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}
	if oldCfg.Lease.Driver != newCfg.Lease.Driver || oldCfg.Lease.TTL != newCfg.Lease.TTL ||
		oldCfg.Lease.Redis.Addr != newCfg.Lease.Redis.Addr {
		changed = append(changed, "lease")
		attrs = append(attrs, logx.String("lease.driver", newCfg.Lease.Driver))
	}
	if oldCfg.Pairing != newCfg.Pairing {
		changed = append(changed, "pairing")
		attrs = append(attrs,
			logx.String("pairing.conversation_day", newCfg.Pairing.ConversationDay),
			logx.String("pairing.recurrence", newCfg.Pairing.Recurrence),
			logx.Int("pairing.page_size", newCfg.Pairing.PageSize),
		)
	}
	return changed, attrs
}

// RestartRequired reports whether a change touches sections that are only read
// at startup (storage, lease, slack installations, task engine sizing).
func RestartRequired(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "storage", "lease", "slack", "task_engine", "telegram":
			return true
		}
	}
	return false
}
