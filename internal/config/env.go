package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds deployment values that override the file. Secrets are
// expected here rather than in the config file.
type envOverrides struct {
	SlackBotToken   string `env:"SMORES_SLACK_BOT_TOKEN"`
	SlackTeamID     string `env:"SMORES_SLACK_TEAM_ID"`
	TelegramToken   string `env:"SMORES_TELEGRAM_TOKEN"`
	TelegramChatID  int64  `env:"SMORES_TELEGRAM_CHAT_ID"`
	StorageDriver   string `env:"SMORES_STORAGE_DRIVER"`
	StorageDSN      string `env:"SMORES_STORAGE_DSN"`
	ConversationDay string `env:"SMORES_CONVERSATION_DAY"`
	RedisAddr       string `env:"SMORES_REDIS_ADDR"`
	RedisPassword   string `env:"SMORES_REDIS_PASSWORD"`
	LogLevel        string `env:"SMORES_LOG_LEVEL"`
}

// ApplyEnv overlays SMORES_* environment variables onto cfg.
//
// SMORES_SLACK_BOT_TOKEN fills the installation matching SMORES_SLACK_TEAM_ID
// (appending one if none matches). Without a team id it only fills a single
// configured installation.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.SlackBotToken != "" {
		applySlackToken(&cfg.Slack, strings.TrimSpace(o.SlackTeamID), o.SlackBotToken)
	}
	if o.TelegramToken != "" {
		cfg.Telegram.Token = o.TelegramToken
	}
	if o.TelegramChatID != 0 {
		cfg.Telegram.OpsChatID = o.TelegramChatID
	}
	if o.StorageDriver != "" {
		cfg.Storage.Driver = o.StorageDriver
	}
	if o.StorageDSN != "" {
		cfg.Storage.DSN = o.StorageDSN
	}
	if o.ConversationDay != "" {
		cfg.Pairing.ConversationDay = o.ConversationDay
	}
	if o.RedisAddr != "" {
		cfg.Lease.Redis.Addr = o.RedisAddr
	}
	if o.RedisPassword != "" {
		cfg.Lease.Redis.Password = o.RedisPassword
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return nil
}

func applySlackToken(sc *SlackConfig, teamID, token string) {
	if teamID == "" {
		if len(sc.Installations) == 1 {
			sc.Installations[0].BotToken = token
		}
		return
	}
	for i := range sc.Installations {
		if sc.Installations[i].TeamID == teamID {
			sc.Installations[i].BotToken = token
			return
		}
	}
	sc.Installations = append(sc.Installations, SlackInstallation{TeamID: teamID, BotToken: token})
}
