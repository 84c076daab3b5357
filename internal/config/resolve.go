package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Pairing is the typed form of PairingConfig.
type Pairing struct {
	ConversationDay     time.Weekday
	Recurrence          time.Duration
	PageSize            int
	MinSpacing          time.Duration
	MidpointAfterDays   int
	StaleGeneratedAfter time.Duration
	Location            *time.Location
}

type TaskEngine struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	HistorySize    int
	RetryMax       int
	RetryBase      time.Duration
}

type Notifier struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

type Lease struct {
	Driver string
	TTL    time.Duration
	Redis  RedisConfig
}

// Resolved holds validated, defaulted settings derived from a Config.
type Resolved struct {
	Pairing      Pairing
	TaskEngine   TaskEngine
	Notifier     Notifier
	Lease        Lease
	SlackTimeout time.Duration
	SchedulerTZ  *time.Location
	BusyTimeout  time.Duration
}

// Resolve validates cfg and fills defaults. Errors name the offending key.
func Resolve(cfg *Config) (Resolved, error) {
	var r Resolved
	if cfg == nil {
		return r, errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for i, inst := range cfg.Slack.Installations {
		if strings.TrimSpace(inst.TeamID) == "" {
			add(fmt.Errorf("slack.installations[%d].team_id is required", i))
		}
	}
	var err error
	r.SlackTimeout, err = ParseDurationOrDefault("slack.timeout", cfg.Slack.Timeout, 15*time.Second)
	add(err)

	r.Pairing, err = resolvePairing(cfg.Pairing)
	add(err)

	r.SchedulerTZ, err = loadLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	add(err)

	r.TaskEngine, err = resolveTaskEngine(cfg.TaskEngine)
	add(err)

	r.Notifier, err = resolveNotifier(cfg.Notifier, cfg.Telegram)
	add(err)

	r.Lease, err = resolveLease(cfg.Lease)
	add(err)

	r.BusyTimeout, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "postgres", "postgresql", "pq":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	}

	return r, errors.Join(errs...)
}

func resolvePairing(pc PairingConfig) (Pairing, error) {
	p := Pairing{
		PageSize:          pc.PageSize,
		MidpointAfterDays: pc.MidpointAfterDays,
	}
	var errs []error
	var err error

	p.ConversationDay, err = ParseWeekday(pc.ConversationDay, time.Tuesday)
	if err != nil {
		errs = append(errs, fmt.Errorf("pairing.conversation_day: %w", err))
	}
	p.Recurrence, err = ParseDurationOrDefault("pairing.recurrence", pc.Recurrence, 14*24*time.Hour)
	errs = append(errs, err)
	p.MinSpacing, err = ParseDurationOrDefault("pairing.min_spacing", pc.MinSpacing, 1200*time.Millisecond)
	errs = append(errs, err)
	p.StaleGeneratedAfter, err = ParseDurationOrDefault("pairing.stale_generated_after", pc.StaleGeneratedAfter, time.Hour)
	errs = append(errs, err)
	p.Location, err = loadLocation("pairing.timezone", pc.Timezone)
	errs = append(errs, err)

	if p.PageSize <= 0 {
		p.PageSize = 10
	}
	if p.MidpointAfterDays <= 0 {
		p.MidpointAfterDays = 8
	}
	return p, errors.Join(errs...)
}

func resolveTaskEngine(tc *TaskEngineConfig) (TaskEngine, error) {
	te := TaskEngine{Workers: 2, QueueSize: 64, HistorySize: 200, RetryMax: 3}
	if tc == nil {
		tc = &TaskEngineConfig{}
	}
	if tc.Workers > 0 {
		te.Workers = tc.Workers
	}
	if tc.QueueSize > 0 {
		te.QueueSize = tc.QueueSize
	}
	if tc.HistorySize > 0 {
		te.HistorySize = tc.HistorySize
	}
	if tc.RetryMax > 0 {
		te.RetryMax = tc.RetryMax
	}
	var err1, err2 error
	te.DefaultTimeout, err1 = ParseDurationOrDefault("task_engine.default_timeout", tc.DefaultTimeout, 30*time.Minute)
	te.RetryBase, err2 = ParseDurationOrDefault("task_engine.retry_base", tc.RetryBase, 5*time.Second)
	return te, errors.Join(err1, err2)
}

func resolveNotifier(nc *NotifierConfig, tg TelegramConfig) (Notifier, error) {
	n := Notifier{QueueSize: 128, RatePerSec: 1, RetryMax: 3}
	if nc == nil {
		n.Enabled = strings.TrimSpace(tg.Token) != "" && tg.OpsChatID != 0
		n.RetryBase, n.RetryMaxDelay, n.DedupWindow = time.Second, 30*time.Second, 10*time.Minute
		return n, nil
	}
	n.Enabled = nc.Enabled
	if nc.QueueSize > 0 {
		n.QueueSize = nc.QueueSize
	}
	if nc.RatePerSec > 0 {
		n.RatePerSec = nc.RatePerSec
	}
	if nc.RetryMax > 0 {
		n.RetryMax = nc.RetryMax
	}
	var err1, err2, err3 error
	n.RetryBase, err1 = ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, time.Second)
	n.RetryMaxDelay, err2 = ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 30*time.Second)
	n.DedupWindow, err3 = ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 10*time.Minute)
	return n, errors.Join(err1, err2, err3)
}

func resolveLease(lc LeaseConfig) (Lease, error) {
	l := Lease{Driver: strings.ToLower(strings.TrimSpace(lc.Driver)), Redis: lc.Redis}
	if l.Driver == "" {
		l.Driver = "local"
	}
	var err error
	l.TTL, err = ParseDurationOrDefault("lease.ttl", lc.TTL, 10*time.Minute)
	if err != nil {
		return l, err
	}
	switch l.Driver {
	case "local", "none":
	case "redis":
		if strings.TrimSpace(l.Redis.Addr) == "" {
			return l, errors.New("lease.redis.addr is required for the redis driver")
		}
		if l.Redis.KeyPrefix == "" {
			l.Redis.KeyPrefix = "smores:lease:"
		}
	default:
		return l, fmt.Errorf("lease.driver: unknown driver %q", lc.Driver)
	}
	return l, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts a weekday name or abbreviation, or a number counted
// from Monday = 0 (so "1" is Tuesday). Empty input yields def.
func ParseWeekday(raw string, def time.Weekday) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def, nil
	}
	if d, ok := weekdays[s]; ok {
		return d, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 6 {
		return def, fmt.Errorf("invalid weekday %q", raw)
	}
	return time.Weekday((n + 1) % 7), nil
}

func loadLocation(path, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("%s: %w", path, err)
	}
	return loc, nil
}
