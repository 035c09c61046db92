package config

// Config is the on-disk configuration. JSON or YAML; unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Backend  BackendConfig  `json:"backend"`
	Realtime RealtimeConfig `json:"realtime"`
	Push     PushConfig     `json:"push"`
	Store    StoreConfig    `json:"store"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Session  SessionConfig  `json:"session"`
	Router   RouterConfig   `json:"router"`
	Alerts   AlertsConfig   `json:"alerts"`
	Enrich   EnrichConfig   `json:"enrich"`
	Badge    BadgeConfig    `json:"badge"`
	Debug    DebugConfig    `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BackendConfig points at the learning platform REST API.
type BackendConfig struct {
	BaseURL    string `json:"base_url"`
	Timeout    string `json:"timeout,omitempty"`      // default 30s
	RatePerSec int    `json:"rate_per_sec,omitempty"` // 0 = unlimited
}

// RealtimeConfig controls the websocket channel.
//
// Defaults: dial_timeout 10s, min_backoff 1s, max_backoff 30s,
// max_retries 5, ping_interval 25s.
type RealtimeConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url"`
	DialTimeout  string `json:"dial_timeout,omitempty"`
	MinBackoff   string `json:"min_backoff,omitempty"`
	MaxBackoff   string `json:"max_backoff,omitempty"`
	MaxRetries   int    `json:"max_retries,omitempty"`
	PingInterval string `json:"ping_interval,omitempty"`
}

// PushConfig controls the push bridge. Source is "stdin" or a file path
// carrying one JSON envelope per line.
type PushConfig struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
}

// StoreConfig bounds the notification logs.
type StoreConfig struct {
	PersonalCap  int    `json:"personal_cap,omitempty"` // default 100
	GlobalCap    int    `json:"global_cap,omitempty"`   // default 50
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// StorageConfig selects the key-value backend. Nil means in-memory.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/lessonbell.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SessionConfig struct {
	DeregisterTimeout string      `json:"deregister_timeout,omitempty"` // default 3s
	Vault             VaultConfig `json:"vault"`
}

// VaultConfig selects the keyring backend for the auth token.
// Backend "" lets keyring pick; "memory" keeps the token in process.
type VaultConfig struct {
	ServiceName  string `json:"service_name,omitempty"`
	Backend      string `json:"backend,omitempty"`
	FileDir      string `json:"file_dir,omitempty"`
	FilePassword string `json:"file_password,omitempty"` // do not log
}

type RouterConfig struct {
	RetryDelay  string `json:"retry_delay,omitempty"`  // default 500ms
	MaxAttempts int    `json:"max_attempts,omitempty"` // default 10
}

// AlertsConfig covers the in-app alert queue and, under System, the
// background system notifications.
type AlertsConfig struct {
	QueueSize int             `json:"queue_size,omitempty"` // default 8
	HideDelay string          `json:"hide_delay,omitempty"` // default 300ms
	System    *NotifierConfig `json:"system,omitempty"`
}

// EnrichConfig controls lesson-id recovery.
//
// SameTypeFallback is a pointer so an omitted key keeps the default (true).
type EnrichConfig struct {
	Timeout          string `json:"timeout,omitempty"`      // default 5s
	RemoteLimit      int    `json:"remote_limit,omitempty"` // default 50
	SameTypeFallback *bool  `json:"same_type_fallback,omitempty"`
}

// BadgeConfig controls the unread-count poll. Schedule is a cron spec
// ("@every 1m", "*/5 * * * *").
type BadgeConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}

// DebugConfig controls the local diagnostics server (metrics, health, pprof).
//
// Prefer a loopback Addr. A non-loopback Addr needs Token or AllowInsecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug/"
	Token         string `json:"token,omitempty"`  // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// NotifierConfig controls background system notifications.
//
// If the section is omitted the notifier runs with DefaultNotifier.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// DefaultNotifier is used when alerts.system is omitted.
var DefaultNotifier = NotifierConfig{
	Enabled:         true,
	Workers:         1,
	QueueSize:       64,
	RatePerSec:      2,
	RetryMax:        2,
	RetryBase:       "500ms",
	RetryMaxDelay:   "5s",
	DedupWindow:     "1m",
	DedupMaxEntries: 500,
}

// SameTypeFallbackEnabled resolves the enrich default.
func (c EnrichConfig) SameTypeFallbackEnabled() bool {
	return c.SameTypeFallback == nil || *c.SameTypeFallback
}

// SystemOrDefault returns alerts.system or DefaultNotifier.
func (c AlertsConfig) SystemOrDefault() NotifierConfig {
	if c.System == nil {
		return DefaultNotifier
	}
	return *c.System
}
