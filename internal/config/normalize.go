package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "REMINDBOT"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// envOverrides are read from REMINDBOT_* variables and win over the file.
type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	DataDir       string `envconfig:"DATA_DIR"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	AdminAddr     string `envconfig:"ADMIN_ADDR"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ApplyEnv overlays REMINDBOT_* environment variables on cfg.
// REMINDBOT_DATA_DIR re-roots relative snapshot and storage paths.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if env.TelegramToken != "" {
		cfg.Telegram.Token = env.TelegramToken
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(env.LogLevel)
	}
	if env.AdminAddr != "" {
		cfg.Admin.Addr = env.AdminAddr
	}
	if env.DataDir != "" {
		cfg.Scheduler.SnapshotPath = underDir(env.DataDir, cfg.Scheduler.SnapshotPath, "jobs.jsonl")
		cfg.Storage.Path = underDir(env.DataDir, cfg.Storage.Path, "remindbot")
	}
	return nil
}

func underDir(dir, p, def string) string {
	if p == "" {
		return filepath.Join(dir, def)
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, filepath.Base(p))
}

// durationField is one string duration and where its parsed value goes.
// An empty or zero value takes def.
type durationField struct {
	key string
	raw string
	def time.Duration
	dst *time.Duration
}

func parseDurations(fields ...durationField) error {
	for _, f := range fields {
		s := strings.TrimSpace(f.raw)
		if s == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %s: invalid duration %q", ErrInvalid, f.key, f.raw)
		}
		if d < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalid, f.key)
		}
		if d == 0 {
			d = f.def
		}
		*f.dst = d
	}
	return nil
}

// Normalize fills defaults, parses durations and validates cfg.
func Normalize(cfg *Config) error {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Scheduler.SnapshotPath == "" {
		cfg.Scheduler.SnapshotPath = filepath.Join("data", "jobs.jsonl")
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join("data", "remindbot")
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = "127.0.0.1:8089"
	}

	if err := parseDurations(
		durationField{"telegram.poll_timeout", cfg.Telegram.PollTimeout, 10 * time.Second, &cfg.Telegram.PollTimeoutDur},
		durationField{"scheduler.tick", cfg.Scheduler.Tick, time.Second, &cfg.Scheduler.TickDur},
		durationField{"scheduler.snapshot_every", cfg.Scheduler.SnapshotEvery, 30 * time.Second, &cfg.Scheduler.SnapshotEveryDur},
		durationField{"engine.timeout", cfg.Engine.Timeout, 30 * time.Second, &cfg.Engine.TimeoutDur},
		durationField{"notifier.dedup_window", cfg.Notifier.DedupWindow, 0, &cfg.Notifier.DedupWindowDur},
		durationField{"storage.busy_timeout", cfg.Storage.BusyTimeout, 0, &cfg.Storage.BusyTimeoutDur},
	); err != nil {
		return err
	}
	if cfg.Scheduler.TickDur > time.Minute {
		return fmt.Errorf("%w: scheduler.tick must be <= 1m", ErrInvalid)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if cfg.Logging.Telegram.Enabled && cfg.LogChatID() == 0 {
		return fmt.Errorf("%w: logging.telegram needs chat_id or telegram.admin_chat_id", ErrInvalid)
	}
	return nil
}
