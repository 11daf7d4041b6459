// Package pipeline runs one notification pass: fetch, filter out delivered
// items, send with a plain-text fallback, pace, then persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kvpush/internal/eventbus"
	"kvpush/internal/model"
	"kvpush/internal/transport"
	logx "kvpush/pkg/logx"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

type Fetcher interface {
	Fetch(ctx context.Context) []model.Candidate
}

type Formatter interface {
	Rich(it model.Candidate) model.Message
	Plain(it model.Candidate) model.Message
}

// DeliveredSet is the persisted set of already-delivered ids.
type DeliveredSet interface {
	Load(ctx context.Context) []string
	Contains(id string) bool
	Record(id string) bool
	Persist(ctx context.Context) error
}

// Options are the per-run knobs; Apply swaps them between runs.
type Options struct {
	// MaxPerRun caps successful sends per run. 0 means unbounded.
	MaxPerRun int
	// Pace is the minimum gap after a successful send before the next one.
	Pace   time.Duration
	DryRun bool
}

type Deps struct {
	Source    Fetcher
	Formatter Formatter
	Delivery  transport.Deliverer
	Delivered DeliveredSet
	Bus       eventbus.Bus
	// Sleep waits d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Report is the outcome of one run, also served as JSON by the trigger endpoint.
type Report struct {
	Success   bool      `json:"success"`
	Trigger   string    `json:"trigger,omitempty"`
	Pushed    int       `json:"pushed"`
	// WouldPush counts items a dry run selected but did not send.
	WouldPush int       `json:"would_push,omitempty"`
	Total     int       `json:"total"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Persisted bool      `json:"persisted"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Error     string    `json:"error,omitempty"`
	Logs      []string  `json:"logs"`
	StartedAt time.Time `json:"started_at"`
	TookMS    int64     `json:"took_ms"`
}

type Orchestrator struct {
	deps Deps
	log  logx.Logger

	optMu sync.RWMutex
	opt   Options

	running sync.Mutex
}

func New(deps Deps, opt Options, log logx.Logger) *Orchestrator {
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{deps: deps, opt: opt, log: log.With(logx.String("comp", "pipeline"))}
}

// Apply replaces the options used by subsequent runs.
func (o *Orchestrator) Apply(opt Options) {
	o.optMu.Lock()
	o.opt = opt
	o.optMu.Unlock()
}

func (o *Orchestrator) Options() Options {
	o.optMu.RLock()
	defer o.optMu.RUnlock()
	return o.opt
}

// runLog mirrors progress lines into the report and the structured log.
type runLog struct {
	log   logx.Logger
	lines []string
}

func (r *runLog) info(msg string, fields ...logx.Field) {
	r.lines = append(r.lines, msg)
	r.log.Info(msg, fields...)
}

func (r *runLog) warn(msg string, fields ...logx.Field) {
	r.lines = append(r.lines, msg)
	r.log.Warn(msg, fields...)
}

// Run executes one pass. trigger names the caller (cli, cron, http) for
// logs and metrics. Only ErrRunInProgress is returned as an error; every
// other outcome is described by the Report.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (rep Report, err error) {
	if !o.running.TryLock() {
		return Report{Trigger: trigger, Error: ErrRunInProgress.Error(), Logs: []string{}}, ErrRunInProgress
	}
	defer o.running.Unlock()

	opt := o.Options()
	start := time.Now()
	rl := &runLog{log: o.log.With(logx.String("trigger", trigger))}
	rep = Report{Trigger: trigger, StartedAt: start, DryRun: opt.DryRun}
	o.publish(eventbus.RunStarted, trigger)

	defer func() {
		rep.Logs = rl.lines
		if rep.Logs == nil {
			rep.Logs = []string{}
		}
		rep.TookMS = time.Since(start).Milliseconds()
		o.publish(eventbus.RunFinished, eventbus.RunData{
			Trigger:  trigger,
			Pushed:   rep.Pushed,
			Total:    rep.Total,
			Failed:   rep.Failed,
			Success:  rep.Success,
			Duration: time.Since(start),
		})
	}()

	items := o.deps.Source.Fetch(ctx)
	rep.Total = len(items)
	rl.info(fmt.Sprintf("fetched %d items", len(items)), logx.Int("total", len(items)))
	if len(items) == 0 {
		rl.info("nothing fetched; check the source url")
		rep.Success = ctx.Err() == nil
		return rep, nil
	}

	o.deps.Delivered.Load(ctx)

	pendingPace := false
	for _, it := range items {
		if o.deps.Delivered.Contains(it.ID) {
			rep.Skipped++
			o.publish(eventbus.ItemSkipped, eventbus.ItemData{ID: it.ID})
			continue
		}
		if opt.MaxPerRun > 0 && rep.Pushed+rep.WouldPush >= opt.MaxPerRun {
			rl.info(fmt.Sprintf("per-run cap of %d reached", opt.MaxPerRun))
			break
		}
		if ctx.Err() != nil {
			break
		}
		if pendingPace {
			if o.deps.Sleep(ctx, opt.Pace) != nil {
				break
			}
			pendingPace = false
		}

		if opt.DryRun {
			msg := o.deps.Formatter.Rich(it)
			rl.info("dry run: would send "+it.Title, logx.String("id", it.ID), logx.String("text", msg.Text))
			rep.WouldPush++
			continue
		}

		if o.deliver(ctx, rl, it) {
			o.deps.Delivered.Record(it.ID)
			rep.Pushed++
			pendingPace = opt.Pace > 0
		} else {
			rep.Failed++
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		rep.Error = cerr.Error()
		rl.warn("run interrupted", logx.Err(cerr))
	}

	if rep.Pushed > 0 && !opt.DryRun {
		// Sends already happened; record them even if the run was interrupted.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		perr := o.deps.Delivered.Persist(pctx)
		cancel()
		if perr != nil {
			rep.Error = perr.Error()
			rl.warn("persist delivered set failed", logx.Err(perr))
			o.publish(eventbus.PersistFailed, perr.Error())
		} else {
			rep.Persisted = true
		}
	}

	rep.Success = ctx.Err() == nil
	rl.info(fmt.Sprintf("run done: pushed %d of %d", rep.Pushed, rep.Total),
		logx.Int("pushed", rep.Pushed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
	)
	return rep, nil
}

// deliver sends the rich form, and the plain form once if the markup was rejected.
func (o *Orchestrator) deliver(ctx context.Context, rl *runLog, it model.Candidate) bool {
	res := o.deps.Delivery.Send(ctx, o.deps.Formatter.Rich(it))
	if res.OK {
		rl.info("sent "+it.Title, logx.String("id", it.ID))
		o.publish(eventbus.ItemSent, eventbus.ItemData{ID: it.ID})
		return true
	}
	if !res.ParseRejected {
		rl.warn("send failed: "+it.Title, logx.String("id", it.ID), logx.String("reason", res.Reason))
		o.publish(eventbus.ItemFailed, eventbus.ItemData{ID: it.ID, Reason: res.Reason})
		return false
	}

	o.publish(eventbus.ItemFallback, eventbus.ItemData{ID: it.ID, Reason: res.Reason})
	res = o.deps.Delivery.Send(ctx, o.deps.Formatter.Plain(it))
	if res.OK {
		rl.info("sent as plain text "+it.Title, logx.String("id", it.ID))
		o.publish(eventbus.ItemSent, eventbus.ItemData{ID: it.ID})
		return true
	}
	rl.warn("plain text send failed: "+it.Title, logx.String("id", it.ID), logx.String("reason", res.Reason))
	o.publish(eventbus.ItemFailed, eventbus.ItemData{ID: it.ID, Reason: res.Reason})
	return false
}

func (o *Orchestrator) publish(typ string, data any) {
	o.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
