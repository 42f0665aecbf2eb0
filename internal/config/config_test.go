package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/pkg/logx"
)

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(filepath.Join("testdata", "full.yaml"))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, 20*time.Second, cfg.Telegram.PollTimeoutDur)
	assert.Equal(t, time.Second, cfg.Scheduler.TickDur)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.SnapshotEveryDur)
	assert.Equal(t, time.Minute, cfg.Notifier.DedupWindowDur)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, int64(-1001), cfg.LogChatID())
	assert.Same(t, cfg, m.Get())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`))
	require.Error(t, err)

	_, err = Decode("c.yaml", []byte("telegram:\n  token: x\n  owner: 1\n"))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"}} {}`))
	require.Error(t, err)
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "x"}}
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Scheduler.TickDur)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.SnapshotEveryDur)
	assert.Equal(t, filepath.Join("data", "jobs.jsonl"), cfg.Scheduler.SnapshotPath)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Second, cfg.Telegram.PollTimeoutDur)
}

func TestNormalizeValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing token", Config{}},
		{"bad level", Config{Telegram: TelegramConfig{Token: "x"}, Logging: LoggingConfig{Level: "loud"}}},
		{"bad driver", Config{Telegram: TelegramConfig{Token: "x"}, Storage: StorageConfig{Driver: "mongo"}}},
		{"bad duration", Config{Telegram: TelegramConfig{Token: "x"}, Scheduler: SchedulerConfig{Tick: "soon"}}},
		{"tick too long", Config{Telegram: TelegramConfig{Token: "x"}, Scheduler: SchedulerConfig{Tick: "2m"}}},
		{"negative workers", Config{Telegram: TelegramConfig{Token: "x"}, Engine: EngineConfig{Workers: -1}}},
		{"bad admin addr", Config{Telegram: TelegramConfig{Token: "x"}, Admin: AdminConfig{Addr: "nope"}}},
		{"log chat missing", Config{Telegram: TelegramConfig{Token: "x"}, Logging: LoggingConfig{Telegram: LoggingTelegram{Enabled: true}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.ErrorIs(t, Normalize(&cfg), ErrInvalid)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REMINDBOT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("REMINDBOT_LOG_LEVEL", "WARN")
	t.Setenv("REMINDBOT_DATA_DIR", "/var/lib/remindbot")

	cfg := &Config{Scheduler: SchedulerConfig{SnapshotPath: "data/jobs.jsonl"}, Storage: StorageConfig{Path: "/abs/state"}}
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, filepath.Join("/var/lib/remindbot", "jobs.jsonl"), cfg.Scheduler.SnapshotPath)
	assert.Equal(t, "/abs/state", cfg.Storage.Path)
}

func TestDiff(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "x"}}
	b := *a
	assert.True(t, Diff(a, &b).Empty())

	b.Logging.Level = "debug"
	b.Storage.Driver = "sqlite"
	ch := Diff(a, &b)
	assert.Equal(t, []string{"logging", "storage"}, ch.Sections)
	assert.Equal(t, []string{"storage"}, ch.RestartRequired)
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"a"}}`), 0o644))

	m := NewConfigManager(path)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"telegram":{"token":"b"},"logging":{"level":"debug"}}`), 0o644)
		select {
		case got = <-sub:
			return true
		default:
			return false
		}
	}, 5*time.Second, 300*time.Millisecond)
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestWatchSkipsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"a"}}`), 0o644))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{}}`), 0o644))
	m.reload(context.Background())
	assert.Equal(t, "a", m.Get().Telegram.Token)
}
