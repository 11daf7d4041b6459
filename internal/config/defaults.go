package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultSiteURL   = "https://tv.srfwq.top"
	DefaultSourceURL = DefaultSiteURL + "/api/douban/recommend?type=movie&limit=10"
	DefaultDedupKey  = "sent_videos"
	DefaultDedupCap  = 200
	DefaultPace      = 2 * time.Second
	DefaultAPIURL    = "https://api.telegram.org"
)

// Default returns a config usable without a file: file storage,
// unbounded sends, 2s pacing.
func Default() *Config {
	return &Config{
		Site:   SiteConfig{BaseURL: DefaultSiteURL},
		Source: SourceConfig{URL: DefaultSourceURL, Timeout: "15s"},
		Telegram: TelegramConfig{
			APIURL:  DefaultAPIURL,
			Timeout: "15s",
		},
		Pipeline:  PipelineConfig{Pace: "2s"},
		Dedup:     DedupConfig{Key: DefaultDedupKey, Cap: DefaultDedupCap},
		Storage:   StorageConfig{Driver: "file"},
		Scheduler: SchedulerConfig{Schedule: "*/30 * * * *", Timeout: "5m"},
		HTTP:      HTTPConfig{Addr: ":8080", TriggerRPS: 0.2},
		Ads:       AdsConfig{Source: "store", Key: "ad_slots"},
		Logging:   LoggingConfig{Level: "info", Console: true},
	}
}

// fillDefaults sets zero-valued fields that have a meaningful default.
func fillDefaults(c *Config) {
	d := Default()
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		c.Site.BaseURL = d.Site.BaseURL
	}
	c.Site.BaseURL = strings.TrimRight(strings.TrimSpace(c.Site.BaseURL), "/")
	if strings.TrimSpace(c.Source.URL) == "" {
		c.Source.URL = d.Source.URL
	}
	if strings.TrimSpace(c.Telegram.APIURL) == "" {
		c.Telegram.APIURL = d.Telegram.APIURL
	}
	c.Telegram.APIURL = strings.TrimRight(c.Telegram.APIURL, "/")
	if strings.TrimSpace(c.Dedup.Key) == "" {
		c.Dedup.Key = d.Dedup.Key
	}
	if c.Dedup.Cap <= 0 {
		c.Dedup.Cap = d.Dedup.Cap
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	if strings.TrimSpace(c.Scheduler.Schedule) == "" {
		c.Scheduler.Schedule = d.Scheduler.Schedule
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = d.HTTP.Addr
	}
	if c.HTTP.TriggerRPS <= 0 {
		c.HTTP.TriggerRPS = d.HTTP.TriggerRPS
	}
	if strings.TrimSpace(c.Ads.Source) == "" {
		c.Ads.Source = d.Ads.Source
	}
	if strings.TrimSpace(c.Ads.Key) == "" {
		c.Ads.Key = d.Ads.Key
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Validate checks the fields that would otherwise fail late (mid-run).
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Source.URL); err != nil {
		errs = append(errs, fmt.Errorf("source.url: %w", err))
	}
	if _, err := url.ParseRequestURI(c.Site.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("site.base_url: %w", err))
	}
	if c.Pipeline.MaxPerRun < 0 {
		errs = append(errs, errors.New("pipeline.max_per_run must be >= 0"))
	}
	for path, raw := range map[string]string{
		"source.timeout":       c.Source.Timeout,
		"telegram.timeout":     c.Telegram.Timeout,
		"pipeline.pace":        c.Pipeline.Pace,
		"storage.busy_timeout": c.Storage.BusyTimeout,
		"storage.connect_wait": c.Storage.ConnectWait,
		"scheduler.timeout":    c.Scheduler.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "file", "sqlite", "sqlite3", "postgres", "redis", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch c.Ads.Source {
	case "store", "env":
	default:
		errs = append(errs, fmt.Errorf("ads.source: want store or env, got %q", c.Ads.Source))
	}
	return errors.Join(errs...)
}

// PaceDuration returns the delay between successful sends.
// An explicit "0s" disables pacing.
func (c PipelineConfig) PaceDuration() time.Duration {
	if strings.TrimSpace(c.Pace) == "" {
		return DefaultPace
	}
	d, err := ParseDurationField("pipeline.pace", c.Pace)
	if err != nil {
		return DefaultPace
	}
	return d
}

func (c SourceConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("source.timeout", c.Timeout, 15*time.Second)
	return d
}

func (c TelegramConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.timeout", c.Timeout, 15*time.Second)
	return d
}

func (c SchedulerConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("scheduler.timeout", c.Timeout, 5*time.Minute)
	return d
}
