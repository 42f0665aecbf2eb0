package config

import (
	"reflect"

	"remindbot/pkg/logx"
)

// Change describes how a reloaded config differs from the running one.
type Change struct {
	// Sections lists the top-level sections that differ.
	Sections []string
	// RestartRequired lists the differing sections that only take effect on restart.
	RestartRequired []string
	// Fields are safe to log; tokens are never included.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// live sections are applied on hot reload; everything else needs a restart.
var liveSections = map[string]bool{"logging": true, "notifier": true}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(name string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		ch.Sections = append(ch.Sections, name)
		if !liveSections[name] {
			ch.RestartRequired = append(ch.RestartRequired, name)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	mark("telegram", ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.AdminChatID != nt.AdminChatID,
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.String("telegram.poll_timeout", nt.PollTimeout),
	)
	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)
	mark("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.String("scheduler.tick", newCfg.Scheduler.Tick),
		logx.String("scheduler.snapshot_path", newCfg.Scheduler.SnapshotPath),
	)
	mark("engine", !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine),
		logx.Int("engine.workers", newCfg.Engine.Workers),
	)
	mark("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier),
		logx.Any("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		logx.Int("notifier.max_attempts", newCfg.Notifier.MaxAttempts),
	)
	mark("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.String("storage.driver", newCfg.Storage.Driver),
	)
	oa, na := oldCfg.Admin, newCfg.Admin
	mark("admin", oa.Enabled != na.Enabled || oa.Addr != na.Addr || oa.Token != na.Token,
		logx.Bool("admin.enabled", na.Enabled),
		logx.String("admin.addr", na.Addr),
		logx.Bool("admin.token_set", na.Token != ""),
	)
	return ch
}
