package app

import (
	"fmt"
	"strings"
	"time"

	"lessonbell/internal/alert"
	"lessonbell/internal/backend"
	"lessonbell/internal/badge"
	"lessonbell/internal/config"
	"lessonbell/internal/deeplink"
	"lessonbell/internal/enrich"
	"lessonbell/internal/notification"
	"lessonbell/internal/notifier"
	"lessonbell/internal/observability/debugsrv"
	"lessonbell/internal/session"
	"lessonbell/internal/storage"
	"lessonbell/internal/transport/realtime"
	"lessonbell/pkg/logx"
)

const (
	defaultEnrichTimeout = 5 * time.Second
	defaultRemoteLimit   = 50
)

var dur = config.ParseDurationOrDefault

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapBackend(cfg *config.Config) (backend.Config, error) {
	timeout, err := dur("backend.timeout", cfg.Backend.Timeout, 30*time.Second)
	if err != nil {
		return backend.Config{}, err
	}
	return backend.Config{
		BaseURL:    strings.TrimSpace(cfg.Backend.BaseURL),
		Timeout:    timeout,
		RatePerSec: cfg.Backend.RatePerSec,
	}, nil
}

func mapRealtime(cfg *config.Config) (realtime.Config, error) {
	rc := cfg.Realtime
	out := realtime.Config{URL: strings.TrimSpace(rc.URL), MaxRetries: rc.MaxRetries}
	var err error
	if out.DialTimeout, err = dur("realtime.dial_timeout", rc.DialTimeout, 0); err != nil {
		return realtime.Config{}, err
	}
	if out.MinBackoff, err = dur("realtime.min_backoff", rc.MinBackoff, 0); err != nil {
		return realtime.Config{}, err
	}
	if out.MaxBackoff, err = dur("realtime.max_backoff", rc.MaxBackoff, 0); err != nil {
		return realtime.Config{}, err
	}
	if out.PingInterval, err = dur("realtime.ping_interval", rc.PingInterval, 0); err != nil {
		return realtime.Config{}, err
	}
	return out, nil
}

func mapStore(cfg *config.Config) (notification.StoreConfig, error) {
	wt, err := dur("store.write_timeout", cfg.Store.WriteTimeout, 2*time.Second)
	if err != nil {
		return notification.StoreConfig{}, err
	}
	return notification.StoreConfig{
		PersonalCap:  cfg.Store.PersonalCap,
		GlobalCap:    cfg.Store.GlobalCap,
		WriteTimeout: wt,
	}, nil
}

// mapStorage returns a memory config when the section is omitted or "none".
func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := dur("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSession(cfg *config.Config) (session.Config, error) {
	d, err := dur("session.deregister_timeout", cfg.Session.DeregisterTimeout, 3*time.Second)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{DeregisterTimeout: d}, nil
}

func mapVault(cfg *config.Config) session.VaultConfig {
	v := cfg.Session.Vault
	name := strings.TrimSpace(v.ServiceName)
	if name == "" {
		name = "lessonbell"
	}
	return session.VaultConfig{
		ServiceName:  name,
		Backend:      strings.TrimSpace(v.Backend),
		FileDir:      strings.TrimSpace(v.FileDir),
		FilePassword: v.FilePassword,
	}
}

func mapRouter(cfg *config.Config) (deeplink.RouterConfig, error) {
	d, err := dur("router.retry_delay", cfg.Router.RetryDelay, 500*time.Millisecond)
	if err != nil {
		return deeplink.RouterConfig{}, err
	}
	return deeplink.RouterConfig{RetryDelay: d, MaxAttempts: cfg.Router.MaxAttempts}, nil
}

func mapAlerts(cfg *config.Config) (alert.Config, error) {
	d, err := dur("alerts.hide_delay", cfg.Alerts.HideDelay, 300*time.Millisecond)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{QueueSize: cfg.Alerts.QueueSize, HideDelay: d}, nil
}

// mapNotifier maps alerts.system into the runtime notifier config.
// Zero values fall back to config.DefaultNotifier.
func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	def := config.DefaultNotifier
	n := cfg.Alerts.SystemOrDefault()

	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         orInt(n.Workers, def.Workers),
		QueueSize:       orInt(n.QueueSize, def.QueueSize),
		RatePerSec:      orInt(n.RatePerSec, def.RatePerSec),
		RetryMax:        orInt(n.RetryMax, def.RetryMax),
		DedupMaxEntries: orInt(n.DedupMaxEntries, def.DedupMaxEntries),
		PersistDedup:    n.PersistDedup,
	}
	var err error
	if out.RetryBase, err = dur("alerts.system.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = dur("alerts.system.retry_max_delay", n.RetryMaxDelay, 5*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = dur("alerts.system.dedup_window", n.DedupWindow, time.Minute); err != nil {
		return notifier.Config{}, err
	}

	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 || out.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("alerts.system: counts must be >= 0")
	}
	return out, nil
}

func mapEnrich(cfg *config.Config) (enrich.Config, time.Duration, error) {
	timeout, err := dur("enrich.timeout", cfg.Enrich.Timeout, defaultEnrichTimeout)
	if err != nil {
		return enrich.Config{}, 0, err
	}
	return enrich.Config{
		RemoteLimit:      orInt(cfg.Enrich.RemoteLimit, defaultRemoteLimit),
		SameTypeFallback: cfg.Enrich.SameTypeFallbackEnabled(),
	}, timeout, nil
}

func mapDebug(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	out := debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Prefix:               strings.TrimSpace(d.Prefix),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
		MemProfileRate:       d.MemProfileRate,
	}
	var err error
	if out.ReadTimeout, err = dur("debug.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	// 0 keeps /pprof/profile usable past 30s.
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = dur("debug.idle_timeout", d.IdleTimeout, time.Minute); err != nil {
		return debugsrv.Config{}, err
	}
	return out, nil
}

func badgeSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Badge.Schedule); s != "" {
		return s
	}
	return badge.DefaultSchedule
}

// validate runs every mapper so a hot reload is rejected before commit.
func validate(cfg *config.Config) error {
	mappers := []func(*config.Config) error{
		func(c *config.Config) error { _, err := mapBackend(c); return err },
		func(c *config.Config) error { _, err := mapRealtime(c); return err },
		func(c *config.Config) error { _, err := mapStore(c); return err },
		func(c *config.Config) error { _, err := mapStorage(c); return err },
		func(c *config.Config) error { _, err := mapSession(c); return err },
		func(c *config.Config) error { _, err := mapRouter(c); return err },
		func(c *config.Config) error { _, err := mapAlerts(c); return err },
		func(c *config.Config) error { _, err := mapNotifier(c); return err },
		func(c *config.Config) error { _, _, err := mapEnrich(c); return err },
		func(c *config.Config) error { _, err := mapDebug(c); return err },
	}
	for _, m := range mappers {
		if err := m(cfg); err != nil {
			return err
		}
	}
	return nil
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
