package app

import (
	"context"
	"strings"

	"kvpush/internal/config"
	"kvpush/internal/format"
	"kvpush/internal/source"
	logx "kvpush/pkg/logx"
)

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply pushes the live-reloadable parts of next into running components.
func (a *App) apply(prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	has := func(section string) bool {
		for _, c := range changed {
			if c == section {
				return true
			}
		}
		return false
	}

	if has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if has("pipeline") {
		a.pipe.Apply(mapPipelineOptions(next))
	}
	if has("http") || has("scheduler") {
		a.srv.Apply(mapServerOptions(next))
	}

	var fetcher *source.Fetcher
	var formatter *format.Formatter
	if has("source") {
		fetcher = source.New(mapSourceOptions(next, a.opt.Version), a.log)
	}
	if has("source") || has("format") || has("telegram") {
		formatter = format.New(next.Site.BaseURL, mapLabels(next), next.Telegram.DisablePreview)
	}
	if has("telegram") || has("pipeline") {
		if d, err := a.buildDelivery(next); err != nil {
			a.log.Warn("telegram client not replaced", logx.Err(err))
		} else {
			a.live.set(nil, nil, d)
		}
	}
	if fetcher != nil {
		a.live.set(fetcher, nil, nil)
	}
	if formatter != nil {
		a.live.set(nil, formatter, nil)
	}

	if config.RestartRequired(changed) {
		a.log.Warn("some changes take effect after restart", logx.String("changed", strings.Join(changed, ",")))
	}
	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)...)
}
