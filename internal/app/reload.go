package app

import (
	"context"
	"strings"
	"time"

	"lessonbell/internal/config"
	"lessonbell/internal/eventbus"
	"lessonbell/pkg/logx"
)

// startConfigReload applies committed configs as the watcher publishes them.
// Storage, vault, backend and enrich tiers are read once at New and need a
// restart; everything else applies live.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	if changed["logging"] {
		a.logs.Apply(mapLogging(next))
	}
	for _, s := range []string{"storage", "session", "backend", "store"} {
		if changed[s] {
			a.log.Warn("config section changed but only applies on restart", logx.String("section", s))
		}
	}

	if changed["realtime"] {
		if rc, err := mapRealtime(next); err == nil {
			a.rt.Apply(rc)
		}
		wasOn := a.realtimeOn.Swap(next.Realtime.Enabled)
		switch {
		case wasOn && !next.Realtime.Enabled:
			if err := a.rt.Disconnect(ctx); err != nil {
				a.log.Warn("realtime disconnect failed", logx.Err(err))
			}
		case next.Realtime.Enabled:
			// Reconnect with the new settings when a session exists.
			if s := a.sess.Snapshot(); s.Authenticated && s.UserID != "" {
				if err := a.rt.Disconnect(ctx); err != nil {
					a.log.Warn("realtime disconnect failed", logx.Err(err))
				}
				if err := a.rt.Connect(ctx, s.UserID); err != nil {
					a.log.Warn("realtime reconnect failed", logx.Err(err))
				}
			}
		}
	}

	if changed["router"] {
		if rc, err := mapRouter(next); err == nil {
			a.router.Apply(rc)
		}
	}

	if changed["alerts"] {
		if ac, err := mapAlerts(next); err == nil {
			a.alerts.Apply(ac)
		}
		if nc, err := mapNotifier(next); err == nil {
			wasOn := a.notif.Enabled()
			a.notif.Apply(nc)
			switch {
			case wasOn && !nc.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasOn && nc.Enabled:
				a.notif.Start(ctx)
			}
		}
	}

	if changed["enrich"] {
		if _, timeout, err := mapEnrich(next); err == nil {
			a.enrichTimeout.Store(int64(timeout))
		}
		if prev.Enrich.RemoteLimit != next.Enrich.RemoteLimit ||
			prev.Enrich.SameTypeFallbackEnabled() != next.Enrich.SameTypeFallbackEnabled() {
			a.log.Warn("enrich tier settings only apply on restart")
		}
	}

	if changed["badge"] {
		a.applyBadge(ctx, prev, next)
	}

	if changed["debug"] {
		if dc, err := mapDebug(next); err == nil {
			a.debug.Reconfigure(ctx, dc)
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) applyBadge(ctx context.Context, prev, next *config.Config) {
	switch {
	case prev.Badge.Enabled && !next.Badge.Enabled:
		a.log.Info("badge sync disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.badge.Stop(stopCtx)
		cancel()
	case !prev.Badge.Enabled && next.Badge.Enabled:
		a.log.Info("badge sync enabled via config")
		if err := a.badge.Start(ctx, badgeSchedule(next)); err != nil {
			a.log.Warn("badge sync not started", logx.Err(err))
		}
	case next.Badge.Enabled:
		if err := a.badge.Reschedule(badgeSchedule(next)); err != nil {
			a.log.Warn("badge schedule not changed", logx.Err(err))
		}
	}
}
