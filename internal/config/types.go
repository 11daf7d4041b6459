package config

// Config is the on-disk configuration for kvpush.
//
// All durations are Go duration strings (e.g. "2s", "15s", "5m").
// Secrets (tokens, passwords) are never logged; see SummarizeConfigChange.
type Config struct {
	Site      SiteConfig      `json:"site"`
	Source    SourceConfig    `json:"source"`
	Telegram  TelegramConfig  `json:"telegram"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Dedup     DedupConfig     `json:"dedup"`
	Format    FormatConfig    `json:"format"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
	Ads       AdsConfig       `json:"ads"`
	Logging   LoggingConfig   `json:"logging"`
}

// SiteConfig is the public site the deep links point at.
type SiteConfig struct {
	BaseURL string `json:"base_url"`
}

// SourceConfig describes the recommend API read once per run.
type SourceConfig struct {
	URL       string `json:"url"`
	Limit     int    `json:"limit,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   string `json:"chat_id"` // "@channel" or numeric id
	ThreadID int    `json:"thread_id,omitempty"`
	// APIURL overrides the Bot API host (self-hosted bot API, mirrors).
	APIURL string `json:"api_url,omitempty"`
	// Proxy applies to Telegram traffic only. Falls back to HTTPS_PROXY.
	Proxy          string `json:"proxy,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

// PipelineConfig controls a single run.
//
// MaxPerRun caps successful sends per run; 0 means unbounded.
type PipelineConfig struct {
	MaxPerRun int    `json:"max_per_run"`
	Pace      string `json:"pace,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

type DedupConfig struct {
	Key string `json:"key,omitempty"`
	Cap int    `json:"cap,omitempty"`
}

// FormatConfig holds the user-visible labels of the message template.
type FormatConfig struct {
	Headline     string `json:"headline,omitempty"`
	RatingLabel  string `json:"rating_label,omitempty"`
	WatchLabel   string `json:"watch_label,omitempty"`
	UnknownTitle string `json:"unknown_title,omitempty"`
	NoRating     string `json:"no_rating,omitempty"`
}

// StorageConfig selects the durable key-value backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
//	"storage": { "driver": "redis", "addr": "127.0.0.1:6379" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // file dir / sqlite file
	DSN         string `json:"dsn,omitempty"`          // postgres
	Addr        string `json:"addr,omitempty"`         // redis
	Password    string `json:"password,omitempty"`     // redis
	DB          int    `json:"db,omitempty"`           // redis
	Prefix      string `json:"prefix,omitempty"`       // redis key prefix
	Table       string `json:"table,omitempty"`        // sqlite/postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	ConnectWait string `json:"connect_wait,omitempty"` // redis/postgres connect retry budget
}

// SchedulerConfig controls the daemon trigger.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule,omitempty"` // cron, duration or HH:MM
	Timezone   string `json:"timezone,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

// HTTPConfig controls the trigger/admin HTTP surface.
type HTTPConfig struct {
	Enabled       bool    `json:"enabled"`
	Addr          string  `json:"addr,omitempty"`
	Secret        string  `json:"secret,omitempty"`         // ?key= for /run
	AdminPassword string  `json:"admin_password,omitempty"` // x-admin-password
	TriggerRPS    float64 `json:"trigger_rps,omitempty"`
	// Pprof serves /debug/pprof behind Secret.
	Pprof bool `json:"pprof,omitempty"`
}

// AdsConfig controls where ad-slot snippets come from.
//
// Source "store" persists through the storage driver; "env" serves the
// NEXT_PUBLIC_AD_* variables read-only.
type AdsConfig struct {
	Source string `json:"source,omitempty"`
	Key    string `json:"key,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
