package config

import (
	"strings"

	logx "kvpush/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe attrs for
// logging. Tokens, secrets and passwords are only reported as "set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if oldCfg.Site != newCfg.Site || oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("site.base_url", newCfg.Site.BaseURL),
			logx.String("source.url", newCfg.Source.URL),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.String("telegram.api_url", newCfg.Telegram.APIURL),
			logx.Bool("telegram.token_set", set(newCfg.Telegram.Token)),
			logx.Bool("telegram.proxy_set", set(newCfg.Telegram.Proxy)),
		)
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Int("pipeline.max_per_run", newCfg.Pipeline.MaxPerRun),
			logx.String("pipeline.pace", newCfg.Pipeline.Pace),
			logx.Bool("pipeline.dry_run", newCfg.Pipeline.DryRun),
		)
	}
	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs, logx.Int("dedup.cap", newCfg.Dedup.Cap))
	}
	if oldCfg.Format != newCfg.Format {
		changed = append(changed, "format")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.schedule", newCfg.Scheduler.Schedule),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.secret_set", set(newCfg.HTTP.Secret)),
			logx.Bool("http.admin_password_set", set(newCfg.HTTP.AdminPassword)),
		)
	}
	if oldCfg.Ads != newCfg.Ads {
		changed = append(changed, "ads")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	return changed, attrs
}

// RestartRequired reports whether a change touches settings that are only
// read at startup (storage backend, HTTP listener, scheduler spec, dedup
// key and ad-slot source).
func RestartRequired(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "storage", "http", "scheduler", "dedup", "ads":
			return true
		}
	}
	return false
}
