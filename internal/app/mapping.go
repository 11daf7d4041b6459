package app

import (
	"kvpush/internal/config"
	"kvpush/internal/format"
	"kvpush/internal/pipeline"
	"kvpush/internal/scheduler"
	"kvpush/internal/server"
	"kvpush/internal/source"
	"kvpush/internal/storage"
	"kvpush/internal/transport/telegram"
	logx "kvpush/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	wait, err := config.ParseDurationOrDefault("storage.connect_wait", sc.ConnectWait, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		DSN:         sc.DSN,
		Addr:        sc.Addr,
		Password:    sc.Password,
		DB:          sc.DB,
		Prefix:      sc.Prefix,
		Table:       sc.Table,
		BusyTimeout: busy,
		ConnectWait: wait,
	}, nil
}

func mapPipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		MaxPerRun: cfg.Pipeline.MaxPerRun,
		Pace:      cfg.Pipeline.PaceDuration(),
		DryRun:    cfg.Pipeline.DryRun,
	}
}

func mapServerOptions(cfg *config.Config) server.Options {
	return server.Options{
		Addr:          cfg.HTTP.Addr,
		Secret:        cfg.HTTP.Secret,
		AdminPassword: cfg.HTTP.AdminPassword,
		TriggerRPS:    cfg.HTTP.TriggerRPS,
		RunTimeout:    cfg.Scheduler.TimeoutDuration(),
		Pprof:         cfg.HTTP.Pprof,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Schedule:   cfg.Scheduler.Schedule,
		Timezone:   cfg.Scheduler.Timezone,
		Timeout:    cfg.Scheduler.TimeoutDuration(),
		RunOnStart: cfg.Scheduler.RunOnStart,
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		APIURL:   cfg.Telegram.APIURL,
		Proxy:    cfg.Telegram.Proxy,
		Timeout:  cfg.Telegram.TimeoutDuration(),
	}
}

func mapSourceOptions(cfg *config.Config, version string) source.Options {
	return source.Options{
		URL:       cfg.Source.URL,
		Limit:     cfg.Source.Limit,
		UserAgent: userAgent(cfg, version),
		Timeout:   cfg.Source.TimeoutDuration(),
	}
}

func userAgent(cfg *config.Config, version string) string {
	if cfg.Source.UserAgent != "" {
		return cfg.Source.UserAgent
	}
	return "kvpush/" + version
}

func mapLabels(cfg *config.Config) format.Labels {
	return format.Labels{
		Headline:     cfg.Format.Headline,
		RatingLabel:  cfg.Format.RatingLabel,
		WatchLabel:   cfg.Format.WatchLabel,
		UnknownTitle: cfg.Format.UnknownTitle,
		NoRating:     cfg.Format.NoRating,
	}
}
