package app

import (
	"context"
	"sync"

	"kvpush/internal/model"
	"kvpush/internal/pipeline"
	"kvpush/internal/transport"
)

// liveDeps lets config reload swap the fetcher, formatter and delivery
// client without rebuilding the orchestrator. A swap takes effect for the
// next call; an in-flight send keeps the client it started with.
type liveDeps struct {
	mu        sync.RWMutex
	fetcher   pipeline.Fetcher
	formatter pipeline.Formatter
	delivery  transport.Deliverer
}

func (l *liveDeps) set(f pipeline.Fetcher, fm pipeline.Formatter, d transport.Deliverer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f != nil {
		l.fetcher = f
	}
	if fm != nil {
		l.formatter = fm
	}
	if d != nil {
		l.delivery = d
	}
}

func (l *liveDeps) current() (pipeline.Fetcher, pipeline.Formatter, transport.Deliverer) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fetcher, l.formatter, l.delivery
}

func (l *liveDeps) Fetch(ctx context.Context) []model.Candidate {
	f, _, _ := l.current()
	return f.Fetch(ctx)
}

func (l *liveDeps) Rich(it model.Candidate) model.Message {
	_, fm, _ := l.current()
	return fm.Rich(it)
}

func (l *liveDeps) Plain(it model.Candidate) model.Message {
	_, fm, _ := l.current()
	return fm.Plain(it)
}

func (l *liveDeps) Send(ctx context.Context, msg model.Message) model.DeliveryResult {
	_, _, d := l.current()
	return d.Send(ctx, msg)
}
