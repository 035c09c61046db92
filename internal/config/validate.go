package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks fields that would otherwise fail late, at component start.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if base := strings.TrimSpace(cfg.Backend.BaseURL); base != "" {
		add(checkURL("backend.base_url", base, "http", "https"))
	}
	dur("backend.timeout", cfg.Backend.Timeout)
	if cfg.Backend.RatePerSec < 0 {
		add(errors.New("backend.rate_per_sec: must be >= 0"))
	}

	if cfg.Realtime.Enabled {
		if strings.TrimSpace(cfg.Realtime.URL) == "" {
			add(errors.New("realtime.url: required when realtime is enabled"))
		} else {
			add(checkURL("realtime.url", cfg.Realtime.URL, "ws", "wss", "http", "https"))
		}
	}
	dur("realtime.dial_timeout", cfg.Realtime.DialTimeout)
	dur("realtime.min_backoff", cfg.Realtime.MinBackoff)
	dur("realtime.max_backoff", cfg.Realtime.MaxBackoff)
	dur("realtime.ping_interval", cfg.Realtime.PingInterval)

	if cfg.Store.PersonalCap < 0 || cfg.Store.GlobalCap < 0 {
		add(errors.New("store: caps must be >= 0"))
	}
	dur("store.write_timeout", cfg.Store.WriteTimeout)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory", "mem":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	dur("session.deregister_timeout", cfg.Session.DeregisterTimeout)
	if v := cfg.Session.Vault; strings.EqualFold(strings.TrimSpace(v.Backend), "file") && v.FilePassword == "" {
		add(errors.New("session.vault.file_password: required for the file backend"))
	}
	dur("router.retry_delay", cfg.Router.RetryDelay)
	dur("alerts.hide_delay", cfg.Alerts.HideDelay)
	if n := cfg.Alerts.System; n != nil {
		dur("alerts.system.retry_base", n.RetryBase)
		dur("alerts.system.retry_max_delay", n.RetryMaxDelay)
		dur("alerts.system.dedup_window", n.DedupWindow)
	}
	dur("enrich.timeout", cfg.Enrich.Timeout)

	if cfg.Badge.Enabled && strings.TrimSpace(cfg.Badge.Schedule) != "" {
		if _, err := scheduleParser.Parse(cfg.Badge.Schedule); err != nil {
			add(fmt.Errorf("badge.schedule: %w", err))
		}
	}

	dur("debug.read_timeout", cfg.Debug.ReadTimeout)
	dur("debug.write_timeout", cfg.Debug.WriteTimeout)
	dur("debug.idle_timeout", cfg.Debug.IdleTimeout)

	return errors.Join(errs...)
}

func checkURL(path, raw string, schemes ...string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: want %s URL with host, got %q", path, strings.Join(schemes, "/"), raw)
}
