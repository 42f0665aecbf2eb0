package config

import "time"

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); their parsed values live in the json:"-" fields
// filled by Normalize.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Admin     AdminConfig     `json:"admin"`
}

type TelegramConfig struct {
	Token string `json:"token" validate:"required"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminChatID receives warn+ log lines when logging.telegram is enabled.
	AdminChatID int64 `json:"admin_chat_id,omitempty"`

	PollTimeoutDur time.Duration `json:"-"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled bool `json:"enabled"`
	// ChatID overrides telegram.admin_chat_id.
	ChatID     int64   `json:"chat_id,omitempty"`
	MinLevel   string  `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// SchedulerConfig controls job triggering and the job snapshot.
//
// Defaults:
//   - tick: "1s"
//   - snapshot_every: "30s"
//   - snapshot_path: "data/jobs.jsonl"
type SchedulerConfig struct {
	Tick          string `json:"tick,omitempty"`
	SnapshotEvery string `json:"snapshot_every,omitempty"`
	SnapshotPath  string `json:"snapshot_path,omitempty"`

	TickDur          time.Duration `json:"-"`
	SnapshotEveryDur time.Duration `json:"-"`
}

// EngineConfig controls the worker pool that runs fired jobs.
type EngineConfig struct {
	Workers   int    `json:"workers,omitempty" validate:"gte=0,lte=256"`
	QueueSize int    `json:"queue_size,omitempty" validate:"gte=0"`
	Timeout   string `json:"timeout,omitempty"`
	// MaxAttempts counts the first run. 0 means the default (1).
	MaxAttempts int `json:"max_attempts,omitempty" validate:"gte=0,lte=20"`

	TimeoutDur time.Duration `json:"-"`
}

// NotifierConfig controls outbound message delivery.
type NotifierConfig struct {
	Workers     int     `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize   int     `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst       int     `json:"burst,omitempty" validate:"gte=0"`
	MaxAttempts int     `json:"max_attempts,omitempty" validate:"gte=0,lte=20"`
	DedupWindow string  `json:"dedup_window,omitempty"`

	DedupWindowDur time.Duration `json:"-"`
}

// StorageConfig selects where user notes live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "data/remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file sqlite memory"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	BusyTimeoutDur time.Duration `json:"-"`
}

// AdminConfig controls the operator HTTP endpoint. Bind it to loopback.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	// Token, when set, is required as a bearer token on every request.
	Token string `json:"token,omitempty"`
}

// LogChatID is the chat that receives forwarded log lines.
func (c *Config) LogChatID() int64 {
	if c.Logging.Telegram.ChatID != 0 {
		return c.Logging.Telegram.ChatID
	}
	return c.Telegram.AdminChatID
}
