package config

import (
	"reflect"
	"sort"
	"strings"

	"lessonbell/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (debug token, vault password) are
// reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 24)
	section := func(name string, differs bool, fields ...logx.Field) {
		if differs {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
	)

	section("backend", !reflect.DeepEqual(oldCfg.Backend, newCfg.Backend),
		logx.String("backend.base_url", strings.TrimSpace(newCfg.Backend.BaseURL)),
		logx.String("backend.timeout", strings.TrimSpace(newCfg.Backend.Timeout)),
		logx.Int("backend.rate_per_sec", newCfg.Backend.RatePerSec),
	)

	section("realtime", !reflect.DeepEqual(oldCfg.Realtime, newCfg.Realtime),
		logx.Bool("realtime.enabled", newCfg.Realtime.Enabled),
		logx.String("realtime.url", strings.TrimSpace(newCfg.Realtime.URL)),
		logx.Int("realtime.max_retries", newCfg.Realtime.MaxRetries),
	)

	section("push", oldCfg.Push != newCfg.Push,
		logx.Bool("push.enabled", newCfg.Push.Enabled),
		logx.String("push.source", newCfg.Push.Source),
	)

	section("store", oldCfg.Store != newCfg.Store,
		logx.Int("store.personal_cap", newCfg.Store.PersonalCap),
		logx.Int("store.global_cap", newCfg.Store.GlobalCap),
	)

	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	section("storage", oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet,
		logx.String("storage.driver", nDriver),
		logx.Bool("storage.path_set", nPathSet),
		logx.String("storage.busy_timeout", nBusy),
	)

	section("session", oldCfg.Session != newCfg.Session,
		logx.String("session.deregister_timeout", strings.TrimSpace(newCfg.Session.DeregisterTimeout)),
		logx.String("session.vault_backend", newCfg.Session.Vault.Backend),
		logx.Bool("session.vault_password_set", newCfg.Session.Vault.FilePassword != ""),
	)

	section("router", oldCfg.Router != newCfg.Router,
		logx.String("router.retry_delay", strings.TrimSpace(newCfg.Router.RetryDelay)),
		logx.Int("router.max_attempts", newCfg.Router.MaxAttempts),
	)

	oSys, nSys := oldCfg.Alerts.SystemOrDefault(), newCfg.Alerts.SystemOrDefault()
	section("alerts", oldCfg.Alerts.QueueSize != newCfg.Alerts.QueueSize ||
		strings.TrimSpace(oldCfg.Alerts.HideDelay) != strings.TrimSpace(newCfg.Alerts.HideDelay) ||
		oSys != nSys,
		logx.Int("alerts.queue_size", newCfg.Alerts.QueueSize),
		logx.Bool("alerts.system.enabled", nSys.Enabled),
		logx.Int("alerts.system.rate_per_sec", nSys.RatePerSec),
		logx.Bool("alerts.system.persist_dedup", nSys.PersistDedup),
	)

	section("enrich", strings.TrimSpace(oldCfg.Enrich.Timeout) != strings.TrimSpace(newCfg.Enrich.Timeout) ||
		oldCfg.Enrich.RemoteLimit != newCfg.Enrich.RemoteLimit ||
		oldCfg.Enrich.SameTypeFallbackEnabled() != newCfg.Enrich.SameTypeFallbackEnabled(),
		logx.String("enrich.timeout", strings.TrimSpace(newCfg.Enrich.Timeout)),
		logx.Int("enrich.remote_limit", newCfg.Enrich.RemoteLimit),
		logx.Bool("enrich.same_type_fallback", newCfg.Enrich.SameTypeFallbackEnabled()),
	)

	section("badge", oldCfg.Badge != newCfg.Badge,
		logx.Bool("badge.enabled", newCfg.Badge.Enabled),
		logx.String("badge.schedule", strings.TrimSpace(newCfg.Badge.Schedule)),
	)

	od, nd := oldCfg.Debug, newCfg.Debug
	tokenFlip := (strings.TrimSpace(od.Token) != "") != (strings.TrimSpace(nd.Token) != "")
	od.Token, nd.Token = "", ""
	section("debug", od != nd || tokenFlip,
		logx.Bool("debug.enabled", nd.Enabled),
		logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
		logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		logx.Bool("debug.allow_insecure", nd.AllowInsecure),
	)

	sort.Strings(changed)
	return changed, attrs
}
