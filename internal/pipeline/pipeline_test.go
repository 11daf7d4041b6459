package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kvpush/internal/dedup"
	"kvpush/internal/eventbus"
	"kvpush/internal/format"
	"kvpush/internal/model"
	"kvpush/internal/storage"
	logx "kvpush/pkg/logx"
)

type staticSource []model.Candidate

func (s staticSource) Fetch(context.Context) []model.Candidate {
	return append([]model.Candidate(nil), s...)
}

// countingStore counts writes on top of an in-memory store.
type countingStore struct {
	*storage.Memory
	mu   sync.Mutex
	puts int
	fail error
}

func (c *countingStore) Put(ctx context.Context, key string, v []byte) error {
	c.mu.Lock()
	c.puts++
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	return c.Memory.Put(ctx, key, v)
}

// stubDelivery records every attempt and answers with reply.
type stubDelivery struct {
	mu    sync.Mutex
	sent  []model.Message
	reply func(model.Message) model.DeliveryResult
}

func (s *stubDelivery) Send(_ context.Context, m model.Message) model.DeliveryResult {
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	if s.reply == nil {
		return model.DeliveryResult{OK: true}
	}
	return s.reply(m)
}

type fixture struct {
	store  *countingStore
	set    *dedup.Set
	out    *stubDelivery
	sleeps []time.Duration
	orch   *Orchestrator
}

func newFixture(t *testing.T, items []model.Candidate, seed string, opt Options) *fixture {
	t.Helper()
	f := &fixture{store: &countingStore{Memory: storage.NewMemory()}, out: &stubDelivery{}}
	if seed != "" {
		_ = f.store.Memory.Put(context.Background(), "sent_videos", []byte(seed))
	}
	f.set = dedup.New(f.store, "sent_videos", 200, logx.Nop())
	f.orch = New(Deps{
		Source:    staticSource(items),
		Formatter: format.New("https://site.test", format.Labels{}, false),
		Delivery:  f.out,
		Delivered: f.set,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}, opt, logx.Nop())
	return f
}

func (f *fixture) stored(t *testing.T) string {
	t.Helper()
	b, err := f.store.Memory.Get(context.Background(), "sent_videos")
	if err != nil {
		t.Fatalf("stored: %v", err)
	}
	return string(b)
}

func items(ids ...string) []model.Candidate {
	out := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Candidate{ID: id, Title: "T" + id, Rating: "7"})
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Candidate{
		{ID: "1", Title: "A*B", Rating: "8.5"},
		{ID: "2", Title: "C"},
	}, `["2"]`, Options{Pace: 2 * time.Second})

	rep, err := f.orch.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.out.sent) != 1 {
		t.Fatalf("send attempts = %d, want 1", len(f.out.sent))
	}
	text := f.out.sent[0].Text
	if !strings.Contains(text, `A\*B`) || !strings.Contains(text, `8\.5`) {
		t.Fatalf("text = %q", text)
	}
	if got := f.stored(t); got != `["2","1"]` {
		t.Fatalf("stored = %s, want [\"2\",\"1\"]", got)
	}
	if !rep.Success || rep.Pushed != 1 || rep.Total != 2 || rep.Skipped != 1 || !rep.Persisted {
		t.Fatalf("report = %+v", rep)
	}
	if len(f.sleeps) != 0 {
		t.Fatalf("no pacing after the last send, got %v", f.sleeps)
	}
}

func TestIdempotentRerun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2", "3"), "", Options{})
	if rep, _ := f.orch.Run(context.Background(), "test"); rep.Pushed != 3 {
		t.Fatalf("first run pushed %d", rep.Pushed)
	}
	putsAfterFirst := f.store.puts

	rep, _ := f.orch.Run(context.Background(), "test")
	if rep.Pushed != 0 || rep.Skipped != 3 {
		t.Fatalf("second run = %+v", rep)
	}
	if len(f.out.sent) != 3 {
		t.Fatalf("total sends = %d, want 3", len(f.out.sent))
	}
	if f.store.puts != putsAfterFirst {
		t.Fatal("no-op run must not write")
	}
	if rep.Persisted {
		t.Fatal("no-op run reported persisted")
	}
}

func TestNoWriteWhenEverySendFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2"), "", Options{Pace: time.Second})
	f.out.reply = func(model.Message) model.DeliveryResult {
		return model.DeliveryResult{Reason: "Forbidden"}
	}
	rep, _ := f.orch.Run(context.Background(), "test")
	if f.store.puts != 0 {
		t.Fatalf("puts = %d, want 0", f.store.puts)
	}
	if rep.Failed != 2 || rep.Pushed != 0 || !rep.Success {
		t.Fatalf("report = %+v", rep)
	}
	if len(f.sleeps) != 0 {
		t.Fatalf("failures are not paced: %v", f.sleeps)
	}
}

func TestEmptyFetchEndsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, `["9"]`, Options{})
	rep, err := f.orch.Run(context.Background(), "test")
	if err != nil || !rep.Success || rep.Total != 0 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if len(f.out.sent) != 0 || f.store.puts != 0 {
		t.Fatal("empty fetch must not send or write")
	}
	if len(rep.Logs) == 0 {
		t.Fatal("report should carry a log trail")
	}
}

func TestFallbackToPlain(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1"), "", Options{})
	f.out.reply = func(m model.Message) model.DeliveryResult {
		if m.ParseMode == model.ParseModeMarkdownV2 {
			return model.DeliveryResult{Reason: "can't parse entities", ParseRejected: true}
		}
		return model.DeliveryResult{OK: true}
	}
	rep, _ := f.orch.Run(context.Background(), "test")
	if len(f.out.sent) != 2 {
		t.Fatalf("attempts = %d, want 2", len(f.out.sent))
	}
	if f.out.sent[0].ParseMode != model.ParseModeMarkdownV2 || f.out.sent[1].ParseMode != "" {
		t.Fatalf("modes = %q, %q", f.out.sent[0].ParseMode, f.out.sent[1].ParseMode)
	}
	if rep.Pushed != 1 || f.stored(t) != `["1"]` {
		t.Fatalf("rep=%+v stored=%s", rep, f.stored(t))
	}
}

func TestFallbackFailsToo(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1"), "", Options{})
	f.out.reply = func(m model.Message) model.DeliveryResult {
		return model.DeliveryResult{Reason: "can't parse entities", ParseRejected: m.ParseMode != ""}
	}
	rep, _ := f.orch.Run(context.Background(), "test")
	if len(f.out.sent) != 2 || rep.Failed != 1 || rep.Pushed != 0 {
		t.Fatalf("attempts=%d rep=%+v", len(f.out.sent), rep)
	}
}

func TestPerRunCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2", "3", "4", "5"), "", Options{MaxPerRun: 3, Pace: 2 * time.Second})
	rep, _ := f.orch.Run(context.Background(), "test")
	if len(f.out.sent) != 3 || rep.Pushed != 3 {
		t.Fatalf("sent=%d rep=%+v", len(f.out.sent), rep)
	}
	if got := f.stored(t); got != `["1","2","3"]` {
		t.Fatalf("stored = %s", got)
	}
	if len(f.sleeps) != 2 || f.sleeps[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want two 2s gaps", f.sleeps)
	}
}

func TestCapCountsSuccessesOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2", "3"), "", Options{MaxPerRun: 2})
	f.out.reply = func(m model.Message) model.DeliveryResult {
		if strings.Contains(m.Text, "T1") {
			return model.DeliveryResult{Reason: "boom"}
		}
		return model.DeliveryResult{OK: true}
	}
	rep, _ := f.orch.Run(context.Background(), "test")
	if rep.Pushed != 2 || rep.Failed != 1 || f.stored(t) != `["2","3"]` {
		t.Fatalf("rep=%+v stored=%s", rep, f.stored(t))
	}
}

func TestPersistFailureKeepsSends(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1"), "", Options{})
	f.store.fail = errors.New("disk full")
	rep, err := f.orch.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Persisted || !strings.Contains(rep.Error, "disk full") || rep.Pushed != 1 || !rep.Success {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2"), "", Options{DryRun: true, Pace: time.Second})
	rep, _ := f.orch.Run(context.Background(), "test")
	if len(f.out.sent) != 0 || f.store.puts != 0 {
		t.Fatal("dry run must not send or persist")
	}
	if rep.Pushed != 0 || rep.WouldPush != 2 || !rep.DryRun {
		t.Fatalf("report = %+v", rep)
	}
}

func TestDryRunHonoursCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2", "3"), "", Options{DryRun: true, MaxPerRun: 2})
	rep, _ := f.orch.Run(context.Background(), "test")
	if rep.Pushed != 0 || rep.WouldPush != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	entered := make(chan struct{})
	f := newFixture(t, items("1"), "", Options{})
	f.out.reply = func(model.Message) model.DeliveryResult {
		close(entered)
		<-release
		return model.DeliveryResult{OK: true}
	}

	done := make(chan Report)
	go func() {
		rep, _ := f.orch.Run(context.Background(), "first")
		done <- rep
	}()
	<-entered
	if _, err := f.orch.Run(context.Background(), "second"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
	close(release)
	if rep := <-done; rep.Pushed != 1 {
		t.Fatalf("first run = %+v", rep)
	}
}

func TestCancelledPacingStillPersists(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2"), "", Options{Pace: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	f.orch.deps.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	rep, _ := f.orch.Run(ctx, "test")
	if rep.Success || rep.Pushed != 1 || !rep.Persisted {
		t.Fatalf("report = %+v", rep)
	}
	if f.stored(t) != `["1"]` {
		t.Fatalf("stored = %s", f.stored(t))
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.ItemSent, eventbus.RunFinished)
	defer unsub()

	f := newFixture(t, items("1"), "", Options{})
	f.orch.deps.Bus = bus
	f.orch.Run(context.Background(), "cron")

	if e := <-ch; e.Type != eventbus.ItemSent {
		t.Fatalf("first event = %s", e.Type)
	}
	e := <-ch
	d, ok := e.Data.(eventbus.RunData)
	if !ok || d.Trigger != "cron" || d.Pushed != 1 {
		t.Fatalf("finished event = %+v", e)
	}
}

func TestApplyChangesNextRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, items("1", "2"), "", Options{})
	f.orch.Apply(Options{MaxPerRun: 1})
	if rep, _ := f.orch.Run(context.Background(), "test"); rep.Pushed != 1 {
		t.Fatalf("pushed = %d", rep.Pushed)
	}
	if f.orch.Options().MaxPerRun != 1 {
		t.Fatal("Options should reflect Apply")
	}
}
