package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
backend:
  base_url: https://api.example.test
  timeout: 15s
realtime:
  enabled: true
  url: wss://api.example.test/ws
  max_retries: 5
push:
  enabled: true
  source: stdin
store:
  personal_cap: 100
  global_cap: 50
storage:
  driver: sqlite
  path: ./data/lessonbell.db
session:
  deregister_timeout: 3s
  vault:
    backend: memory
router:
  retry_delay: 500ms
  max_attempts: 10
alerts:
  queue_size: 8
  system:
    enabled: true
    workers: 1
    queue_size: 16
    rate_per_sec: 2
    retry_max: 1
    retry_base: 200ms
    retry_max_delay: 2s
    dedup_window: 30s
    dedup_max_entries: 100
enrich:
  timeout: 5s
  same_type_fallback: false
badge:
  enabled: true
  schedule: "@every 1m"
debug:
  enabled: false
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.test" || cfg.Realtime.MaxRetries != 5 {
		t.Fatalf("unexpected backend/realtime: %+v %+v", cfg.Backend, cfg.Realtime)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Enrich.SameTypeFallbackEnabled() {
		t.Fatal("same_type_fallback: false was not honored")
	}
	if sys := cfg.Alerts.SystemOrDefault(); sys.QueueSize != 16 || sys.DedupWindow != "30s" {
		t.Fatalf("alerts.system = %+v", sys)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"unknown key", "c.json", `{"backend":{"base_url":"https://x.test","bogus":1}}`, "unknown field"},
		{"trailing data", "c.json", `{}{}`, "trailing data"},
		{"bad duration", "c.json", `{"router":{"retry_delay":"soon"}}`, "router.retry_delay"},
		{"negative duration", "c.json", `{"enrich":{"timeout":"-1s"}}`, "enrich.timeout"},
		{"realtime without url", "c.json", `{"realtime":{"enabled":true}}`, "realtime.url"},
		{"bad scheme", "c.json", `{"backend":{"base_url":"ftp://x.test"}}`, "backend.base_url"},
		{"bad cron", "c.yml", "badge:\n  enabled: true\n  schedule: \"every minute\"\n", "badge.schedule"},
		{"unknown driver", "c.json", `{"storage":{"driver":"redis","path":"x"}}`, "unknown driver"},
		{"file needs path", "c.json", `{"storage":{"driver":"file"}}`, "storage.path"},
	}
	for _, tt := range tests {
		_, err := Decode(tt.file, []byte(tt.body))
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: err = %v, want containing %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestDecodeDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.json", []byte(`{}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !cfg.Enrich.SameTypeFallbackEnabled() {
		t.Fatal("same_type_fallback should default to true")
	}
	if cfg.Alerts.SystemOrDefault() != DefaultNotifier {
		t.Fatal("omitted alerts.system should use DefaultNotifier")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("250ms: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	changed, _ := SummarizeConfigChange(oldCfg, oldCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}

	newCfg := *oldCfg
	newCfg.Logging.Level = "info"
	newCfg.Badge.Schedule = "@every 5m"
	newCfg.Debug.Token = "secret"
	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	want := []string{"badge", "debug", "logging"}
	if !slices.Equal(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for changed sections")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and picks it up.
		writeFile(t, dir, "config.json", `{"logging":{"level":"debug"}}`)
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("Get did not return committed config")
			}
			return
		case <-deadline:
			t.Fatal("no config published")
		case <-tick.C:
		}
	}
}

func TestWatchRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	writeFile(t, dir, "config.json", `{"logging":{"level":"debug"},"nope":true}`)
	if m.reload(context.Background()) {
		t.Fatal("invalid config was published")
	}
	if m.Get().Logging.Level != "info" {
		t.Fatal("invalid config replaced the committed one")
	}

	writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)
	if m.reload(context.Background()) {
		t.Fatal("unchanged content should not republish")
	}
}

func TestDecodeExpandsEnv(t *testing.T) {
	t.Setenv("LESSONBELL_DEBUG_TOKEN", "s3cret")

	cfg, err := Decode("c.yaml", []byte("debug:\n  token: ${LESSONBELL_DEBUG_TOKEN}\n  prefix: /p$$/\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Debug.Token != "s3cret" {
		t.Fatalf("token = %q", cfg.Debug.Token)
	}
	if cfg.Debug.Prefix != "/p$/" {
		t.Fatalf("prefix = %q, want literal $", cfg.Debug.Prefix)
	}

	_, err = Decode("c.yaml", []byte("debug:\n  token: ${LESSONBELL_SURELY_UNSET}\n"))
	if err == nil || !strings.Contains(err.Error(), "LESSONBELL_SURELY_UNSET") {
		t.Fatalf("err = %v, want unset variable named", err)
	}
}

func TestValidateFileVaultNeedsPassword(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte("session:\n  vault:\n    backend: file\n"))
	if err == nil || !strings.Contains(err.Error(), "session.vault.file_password") {
		t.Fatalf("Decode err = %v, want file_password required", err)
	}
	if cfg != nil {
		t.Fatalf("cfg = %+v, want nil on invalid input", cfg)
	}

	if _, err := Decode("c.yaml", []byte("session:\n  vault:\n    backend: file\n    file_password: pw\n")); err != nil {
		t.Fatalf("Decode with password: %v", err)
	}
}
