package config

import (
	"strconv"
	"strings"
)

// applyEnv overlays environment variables on top of the file config.
// Each setting accepts the KVPUSH_ name first, then the legacy script name.
func applyEnv(c *Config, getenv func(string) string) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					*dst = n
				}
				return
			}
		}
	}
	flag := func(dst *bool, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				if b, err := strconv.ParseBool(v); err == nil {
					*dst = b
				}
				return
			}
		}
	}

	str(&c.Site.BaseURL, "KVPUSH_SITE_URL", "SITE_URL", "NEXT_PUBLIC_SITE_URL")
	str(&c.Source.URL, "KVPUSH_SOURCE_URL", "API_URL")
	str(&c.Telegram.Token, "KVPUSH_TG_BOT_TOKEN", "TG_BOT_TOKEN")
	str(&c.Telegram.ChatID, "KVPUSH_TG_CHAT_ID", "TG_CHAT_ID")
	str(&c.Telegram.APIURL, "KVPUSH_TG_API_HOST", "TG_API_HOST")
	if strings.TrimSpace(c.Telegram.Proxy) == "" {
		str(&c.Telegram.Proxy, "KVPUSH_TG_PROXY", "HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy")
	}
	num(&c.Pipeline.MaxPerRun, "KVPUSH_MAX_PER_RUN")
	str(&c.Pipeline.Pace, "KVPUSH_PACE")
	flag(&c.Pipeline.DryRun, "KVPUSH_DRY_RUN")
	num(&c.Dedup.Cap, "KVPUSH_DEDUP_CAP")
	str(&c.Storage.Driver, "KVPUSH_STORAGE_DRIVER")
	str(&c.Storage.Path, "KVPUSH_STORAGE_PATH")
	str(&c.Storage.DSN, "KVPUSH_STORAGE_DSN", "DATABASE_URL")
	str(&c.Storage.Addr, "KVPUSH_REDIS_ADDR", "REDIS_ADDR")
	str(&c.Storage.Password, "KVPUSH_REDIS_PASSWORD", "REDIS_PASSWORD")
	str(&c.HTTP.Addr, "KVPUSH_HTTP_ADDR")
	str(&c.HTTP.Secret, "KVPUSH_SECRET_KEY", "SECRET_KEY")
	str(&c.HTTP.AdminPassword, "KVPUSH_ADMIN_PASSWORD", "ADMIN_PASSWORD")
	str(&c.Ads.Source, "KVPUSH_ADS_SOURCE")
	str(&c.Logging.Level, "KVPUSH_LOG_LEVEL")
}
