package app

import (
	"math"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/admin"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

// Notifier attempts when notifier.max_attempts is omitted.
const defaultNotifyAttempts = 3

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     cfg.LogChatID(),
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: int(math.Ceil(lc.Telegram.RatePerSec)),
		},
	}
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	ec := cfg.Engine
	return engine.Config{
		Workers:        ec.Workers,
		QueueSize:      ec.QueueSize,
		DefaultTimeout: ec.TimeoutDur,
		RetryMax:       max(0, ec.MaxAttempts-1),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := cfg.Notifier
	attempts := nc.MaxAttempts
	if attempts <= 0 {
		attempts = defaultNotifyAttempts
	}
	return notifier.Config{
		Workers:     nc.Workers,
		QueueSize:   nc.QueueSize,
		RatePerSec:  nc.RatePerSec,
		Burst:       nc.Burst,
		RetryMax:    attempts - 1,
		DedupWindow: nc.DedupWindowDur,
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDur,
	}
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	return admin.Config{
		Enabled: cfg.Admin.Enabled,
		Addr:    cfg.Admin.Addr,
		Token:   cfg.Admin.Token,
	}
}
