package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/storage/memory"
	"github.com/yndnr/cfenv-go/internal/telemetry/metric"
)

type sourceFunc func(ctx context.Context, link domain.Link) (*FlatState, error)

func (f sourceFunc) FetchFlatState(ctx context.Context, link domain.Link) (*FlatState, error) {
	return f(ctx, link)
}

// updateRecorder collects OnUpdate calls.
type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
	reasons []Reason
	ch      chan Update
}

func newUpdateRecorder() *updateRecorder {
	return &updateRecorder{ch: make(chan Update, 16)}
}

func (r *updateRecorder) onUpdate(ctx context.Context, u Update, reason Reason) error {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.ch <- u
	return nil
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestNewPoller_Intervals(t *testing.T) {
	tests := []struct {
		name        string
		interval    time.Duration
		maxInterval time.Duration
		wantBase    time.Duration
		wantMax     time.Duration
	}{
		{"defaults", 0, 0, 30 * time.Second, 300 * time.Second},
		{"floor", 10 * time.Millisecond, 0, time.Second, 300 * time.Second},
		{"max below interval", 10 * time.Second, 5 * time.Second, 10 * time.Second, 10 * time.Second},
		{"custom", 2 * time.Second, time.Minute, 2 * time.Second, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPoller(newTestEngine(memory.New()), testLink(domain.ModeFlat), PollerConfig{
				Interval:    tt.interval,
				MaxInterval: tt.maxInterval,
			})
			if err != nil {
				t.Fatalf("NewPoller() error = %v", err)
			}
			if p.cfg.Interval != tt.wantBase || p.cfg.MaxInterval != tt.wantMax {
				t.Errorf("intervals = %v/%v, want %v/%v", p.cfg.Interval, p.cfg.MaxInterval, tt.wantBase, tt.wantMax)
			}
		})
	}
}

func TestNewPoller_InvalidLink(t *testing.T) {
	_, err := NewPoller(newTestEngine(memory.New()), domain.Link{Project: "p"}, PollerConfig{})
	if !errors.Is(err, domain.ErrInvalidLink) {
		t.Errorf("NewPoller() error = %v, want ErrInvalidLink", err)
	}
}

func TestPoller_DeliversOnlyOnChange(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	ctx := context.Background()

	if _, err := engine.PushFlat(ctx, link, domain.Env{"A": "1", "B": "2"}, PushOptions{UpdatedBy: "dev"}); err != nil {
		t.Fatalf("PushFlat() error = %v", err)
	}

	rec := newUpdateRecorder()
	p, err := NewPoller(engine, link, PollerConfig{OnUpdate: rec.onUpdate})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	changed, err := p.Refresh(ctx, ReasonInitial)
	if err != nil || !changed {
		t.Fatalf("Refresh() = %v, %v; want true, nil", changed, err)
	}
	changed, err = p.Refresh(ctx, ReasonChanged)
	if err != nil || changed {
		t.Fatalf("second Refresh() = %v, %v; want false, nil", changed, err)
	}
	if rec.count() != 1 {
		t.Fatalf("updates = %d, want 1", rec.count())
	}

	if _, err := engine.PushFlat(ctx, link, domain.Env{"A": "1", "B": "3"}, PushOptions{}); err != nil {
		t.Fatalf("PushFlat() error = %v", err)
	}
	delay, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if delay != p.cfg.Interval {
		t.Errorf("RunCycle() delay = %v, want %v", delay, p.cfg.Interval)
	}
	if rec.count() != 2 {
		t.Fatalf("updates = %d, want 2", rec.count())
	}

	last := rec.updates[1]
	if rec.reasons[0] != ReasonInitial || rec.reasons[1] != ReasonChanged {
		t.Errorf("reasons = %v", rec.reasons)
	}
	if last.Entries["B"] != "3" || last.EntriesCount != 2 || last.Project != "shop" || last.Namespace != "ns-1" {
		t.Errorf("last update = %+v", last)
	}
	if p.Last() == nil || p.Last().Checksum != last.Checksum {
		t.Error("Last() does not match the delivered update")
	}

	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("updates = %d after unchanged cycle, want 2", rec.count())
	}
}

func TestPoller_Backoff(t *testing.T) {
	fail := true
	var errs []error
	source := sourceFunc(func(ctx context.Context, link domain.Link) (*FlatState, error) {
		if fail {
			return nil, errors.New("unavailable")
		}
		return &FlatState{Metadata: domain.FlatMetadata{Checksum: "abc"}, Entries: domain.Env{}}, nil
	})

	p, err := NewPoller(source, testLink(domain.ModeFlat), PollerConfig{
		Interval:    time.Second,
		MaxInterval: 10 * time.Second,
		OnError:     func(err error) { errs = append(errs, err) },
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		delay, err := p.RunCycle(context.Background())
		if err == nil {
			t.Fatalf("cycle %d: RunCycle() should fail", i)
		}
		if delay != w {
			t.Errorf("cycle %d: delay = %v, want %v", i, delay, w)
		}
	}
	if len(errs) != len(want) {
		t.Errorf("OnError calls = %d, want %d", len(errs), len(want))
	}
	if p.ConsecutiveErrors() != len(want) {
		t.Errorf("ConsecutiveErrors() = %d, want %d", p.ConsecutiveErrors(), len(want))
	}

	fail = false
	delay, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if delay != time.Second || p.ConsecutiveErrors() != 0 {
		t.Errorf("after success: delay = %v, errors = %d; want 1s, 0", delay, p.ConsecutiveErrors())
	}
}

func TestPoller_BackoffShiftCap(t *testing.T) {
	p, err := NewPoller(newTestEngine(memory.New()), testLink(domain.ModeFlat), PollerConfig{
		Interval:    time.Second,
		MaxInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	if got := p.backoff(20); got != 64*time.Second {
		t.Errorf("backoff(20) = %v, want 64s", got)
	}
}

func TestPoller_ChecksumMismatchIsCycleError(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	ctx := context.Background()
	engine.PushFlat(ctx, link, domain.Env{"A": "1"}, PushOptions{})
	store.Put(ctx, "ns-1", link.VarKey("A"), "tampered")

	reg := metric.NewRegistry()
	var gotErr error
	rec := newUpdateRecorder()
	p, err := NewPoller(engine, link, PollerConfig{
		OnUpdate: rec.onUpdate,
		OnError:  func(err error) { gotErr = err },
		Metrics:  reg,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	if _, err := p.RunCycle(ctx); !errors.Is(err, domain.ErrChecksumMismatch) {
		t.Fatalf("RunCycle() error = %v, want ErrChecksumMismatch", err)
	}
	if !errors.Is(gotErr, domain.ErrChecksumMismatch) {
		t.Errorf("OnError got %v", gotErr)
	}
	if rec.count() != 0 {
		t.Error("update delivered for a mismatched state")
	}

	engine.PushFlat(ctx, link, domain.Env{"A": "2"}, PushOptions{})
	if _, err := p.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() after repair error = %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("updates = %d, want 1", rec.count())
	}

	if got := testutil.ToFloat64(reg.PollCycles.WithLabelValues(metric.PollError)); got != 1 {
		t.Errorf("poll error cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.PollCycles.WithLabelValues(metric.PollChanged)); got != 1 {
		t.Errorf("poll changed cycles = %v, want 1", got)
	}
}

func TestPoller_CallbackErrorIsCycleError(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	engine.PushFlat(context.Background(), link, domain.Env{"A": "1"}, PushOptions{})

	boom := errors.New("boom")
	p, _ := NewPoller(engine, link, PollerConfig{
		OnUpdate: func(context.Context, Update, Reason) error { return boom },
	})

	if _, err := p.RunCycle(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunCycle() error = %v, want boom", err)
	}
	if p.ConsecutiveErrors() != 1 {
		t.Errorf("ConsecutiveErrors() = %d, want 1", p.ConsecutiveErrors())
	}
}

func TestPoller_RedeliversAfterCallbackError(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	if _, err := engine.PushFlat(context.Background(), link, domain.Env{"A": "1"}, PushOptions{}); err != nil {
		t.Fatalf("PushFlat() error = %v", err)
	}

	diskFull := errors.New("disk full")
	calls := 0
	p, err := NewPoller(engine, link, PollerConfig{
		OnUpdate: func(context.Context, Update, Reason) error {
			calls++
			if calls == 1 {
				return diskFull
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	if _, err := p.RunCycle(context.Background()); !errors.Is(err, diskFull) {
		t.Fatalf("first RunCycle() error = %v, want disk full", err)
	}
	if p.Last() != nil {
		t.Error("Last() should stay nil after a failed delivery")
	}

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("OnUpdate calls = %d, want 2", calls)
	}
	if last := p.Last(); last == nil || last.Entries["A"] != "1" {
		t.Errorf("Last() = %+v, want the redelivered state", last)
	}
	if p.ConsecutiveErrors() != 0 {
		t.Errorf("ConsecutiveErrors() = %d, want 0 after success", p.ConsecutiveErrors())
	}

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("third RunCycle() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("OnUpdate calls = %d, want 2 for unchanged state", calls)
	}
}

func TestPoller_StartStop(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	ctx := context.Background()
	engine.PushFlat(ctx, link, domain.Env{"A": "1"}, PushOptions{})

	rec := newUpdateRecorder()
	p, err := NewPoller(engine, link, PollerConfig{Interval: time.Hour, OnUpdate: rec.onUpdate})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !p.Running() {
		t.Error("Running() = false after Start")
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if rec.count() != 1 || rec.reasons[0] != ReasonInitial {
		t.Errorf("bootstrap updates = %d %v, want one initial", rec.count(), rec.reasons)
	}

	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	if p.Running() {
		t.Error("Running() = true after Stop")
	}
	p.Stop()
}

func TestPoller_StartBootstrapFailure(t *testing.T) {
	p, err := NewPoller(newTestEngine(memory.New()), testLink(domain.ModeFlat), PollerConfig{})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	err = p.Start(context.Background())
	if !errors.Is(err, domain.ErrNoFlatMetadata) {
		t.Fatalf("Start() error = %v, want ErrNoFlatMetadata", err)
	}
	if p.Running() {
		t.Error("poller running after failed bootstrap")
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done() not closed after failed bootstrap")
	}
}

func TestPoller_LoopDeliversChanges(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	ctx := context.Background()
	engine.PushFlat(ctx, link, domain.Env{"A": "1"}, PushOptions{})

	rec := newUpdateRecorder()
	p, err := NewPoller(engine, link, PollerConfig{OnUpdate: rec.onUpdate})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	p.cfg.Interval = 5 * time.Millisecond
	p.cfg.MaxInterval = 20 * time.Millisecond

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()
	<-rec.ch

	engine.PushFlat(ctx, link, domain.Env{"A": "2"}, PushOptions{})
	select {
	case u := <-rec.ch:
		if u.Entries["A"] != "2" {
			t.Errorf("update entries = %v, want A=2", u.Entries)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered by the loop")
	}
}

func TestPoller_ContextCancelStops(t *testing.T) {
	store := memory.New()
	engine := newTestEngine(store)
	link := testLink(domain.ModeFlat)
	engine.PushFlat(context.Background(), link, domain.Env{"A": "1"}, PushOptions{})

	p, _ := NewPoller(engine, link, PollerConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
	if p.Running() {
		t.Error("Running() = true after context cancel")
	}
}

func TestPoller_DiscardsResultAfterStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	source := sourceFunc(func(ctx context.Context, link domain.Link) (*FlatState, error) {
		close(entered)
		<-release
		return &FlatState{Metadata: domain.FlatMetadata{Checksum: "abc"}, Entries: domain.Env{"A": "1"}}, nil
	})

	rec := newUpdateRecorder()
	p, err := NewPoller(source, testLink(domain.ModeFlat), PollerConfig{
		Interval:      time.Hour,
		SkipBootstrap: true,
		OnUpdate:      rec.onUpdate,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := p.RunCycle(context.Background())
		result <- err
	}()

	<-entered
	p.Stop()
	close(release)

	if err := <-result; !errors.Is(err, ErrPollerStopped) {
		t.Fatalf("RunCycle() error = %v, want ErrPollerStopped", err)
	}
	if rec.count() != 0 {
		t.Error("update delivered after Stop")
	}
	if p.Last() != nil {
		t.Error("Last() recorded a discarded result")
	}
}

func TestApplyToProcessEnv(t *testing.T) {
	t.Setenv("CFENV_TEST_KEEP", "old")
	t.Setenv("CFENV_TEST_NEW", "")
	os.Unsetenv("CFENV_TEST_NEW")

	entries := domain.Env{"CFENV_TEST_KEEP": "new", "CFENV_TEST_NEW": "value"}
	if err := ApplyToProcessEnv(entries, false); err != nil {
		t.Fatalf("ApplyToProcessEnv() error = %v", err)
	}
	if got := os.Getenv("CFENV_TEST_KEEP"); got != "old" {
		t.Errorf("CFENV_TEST_KEEP = %q, want old", got)
	}
	if got := os.Getenv("CFENV_TEST_NEW"); got != "value" {
		t.Errorf("CFENV_TEST_NEW = %q, want value", got)
	}

	if err := ApplyToProcessEnv(entries, true); err != nil {
		t.Fatalf("ApplyToProcessEnv() error = %v", err)
	}
	if got := os.Getenv("CFENV_TEST_KEEP"); got != "new" {
		t.Errorf("CFENV_TEST_KEEP = %q, want new", got)
	}
}
