package app

import (
	"context"
	"strings"

	"remindbot/internal/config"
	"remindbot/pkg/logx"
)

// watchConfig applies hot reloads. Logging and notifier settings take effect
// immediately; every other section is logged as needing a restart.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = latest(sub, next)
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

// latest drains pending configs and keeps only the newest.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	if next == nil {
		return
	}
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.notif.Apply(mapNotifierConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
}
