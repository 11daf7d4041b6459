// Package scheduler triggers pipeline runs on a cron or interval schedule
// in daemon mode. A run still in progress when the next tick fires is skipped.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "kvpush/pkg/logx"
)

type Config struct {
	Schedule   string
	Timezone   string
	Timeout    time.Duration
	RunOnStart bool
}

// Job is one triggered run. ctx carries the per-run timeout.
type Job func(ctx context.Context)

type Service struct {
	cfg  Config
	spec ParsedSpec
	job  Job
	log  logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	entry  cron.EntryID
	cancel context.CancelFunc
}

func New(cfg Config, job Job, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is nil")
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, spec: spec, job: job, log: log.With(logx.String("comp", "scheduler"))}, nil
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins triggering. Runs derive from ctx, so cancelling it aborts an
// in-flight run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	sched, err := s.spec.Schedule()
	if err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.location()),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = c.Schedule(sched, cron.FuncJob(func() { s.fire(rctx, "cron") }))
	s.c = c
	s.cancel = cancel
	c.Start()

	s.log.Info("scheduler started",
		logx.String("schedule", s.spec.String()),
		logx.Time("next", c.Entry(s.entry).Next),
	)
	if s.cfg.RunOnStart {
		go s.fire(rctx, "startup")
	}
	return nil
}

func (s *Service) fire(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	jctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	s.log.Debug("trigger", logx.String("reason", reason))
	s.job(jctx)
}

// Next returns the next scheduled trigger time (zero if not started).
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Stop halts triggering and waits for a running job, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		cancel()
		<-stopped.Done()
	}
	cancel()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
