package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings; use Resolve to obtain typed settings.
type Config struct {
	Slack     SlackConfig     `json:"slack"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of scheduled passes. Omitted means defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	Lease    LeaseConfig     `json:"lease"`
	Pairing  PairingConfig   `json:"pairing"`
}

// SlackConfig lists the workspaces the bot is installed in.
type SlackConfig struct {
	Installations []SlackInstallation `json:"installations"`

	// APIURL overrides the Web API base URL (tests, proxies).
	APIURL string `json:"api_url,omitempty"`
	// Timeout is the per-request HTTP timeout. Default "15s".
	Timeout string `json:"timeout,omitempty"`
}

type SlackInstallation struct {
	TeamID       string `json:"team_id"`
	EnterpriseID string `json:"enterprise_id,omitempty"`
	BotToken     string `json:"bot_token"` // never logged
}

// TelegramConfig configures the ops chat used for error logs and pass summaries.
type TelegramConfig struct {
	Token     string `json:"token"`
	OpsChatID int64  `json:"ops_chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig holds the trigger schedules of the passes. Each schedule
// accepts a cron expression (optional seconds), "at:HH:MM" for a daily time or
// an interval like "30m". An empty schedule disables that pass.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	Pairing  string `json:"pairing"`
	Resend   string `json:"resend"`
	Reminder string `json:"reminder"`
	Sync     string `json:"sync,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "30m"
//   - history_size: 200
//   - retry_max: 3
//   - retry_base: "5s"
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
}

// NotifierConfig controls the ops summary queue. Omitted means enabled with
// defaults when telegram is configured.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	// DedupWindow suppresses identical messages. Default "10m".
	DedupWindow string `json:"dedup_window,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/smores.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`          // postgres; never logged
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// LeaseConfig selects the single-writer lease backend. "local" serializes
// passes inside one process; "redis" coordinates several instances.
type LeaseConfig struct {
	Driver string      `json:"driver"`
	TTL    string      `json:"ttl,omitempty"`
	Redis  RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// PairingConfig tunes the pairing, resend and reminder passes.
type PairingConfig struct {
	// ConversationDay is the weekday the pairing pass runs on ("tuesday").
	ConversationDay string `json:"conversation_day"`
	// Recurrence is the minimum time between two batches of a channel.
	Recurrence string `json:"recurrence,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	// MinSpacing separates consecutive platform calls.
	MinSpacing          string `json:"min_spacing,omitempty"`
	MidpointAfterDays   int    `json:"midpoint_after_days,omitempty"`
	StaleGeneratedAfter string `json:"stale_generated_after,omitempty"`
	// Timezone decides which calendar day "today" is. Default UTC.
	Timezone string `json:"timezone,omitempty"`
}
