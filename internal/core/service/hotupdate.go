package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yndnr/cfenv-go/internal/core/domain"
	"github.com/yndnr/cfenv-go/internal/telemetry/logger"
	"github.com/yndnr/cfenv-go/internal/telemetry/metric"
)

// Poller defaults.
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultPollMaxInterval = 300 * time.Second
	MinPollInterval        = time.Second

	maxBackoffShift = 6
)

// ErrPollerStopped is returned by RunCycle when the poller was stopped
// while the cycle was in flight. The cycle's result is discarded.
var ErrPollerStopped = errors.New("hot update poller stopped")

// Reason says why an update was delivered.
type Reason string

// Update reasons.
const (
	ReasonInitial Reason = "initial"
	ReasonChanged Reason = "changed"
)

// Update is a verified flat state delivered to the update callback.
type Update struct {
	Project      string
	Environment  string
	Namespace    string
	Checksum     string
	UpdatedAt    time.Time
	UpdatedBy    string
	EntriesCount int
	Entries      domain.Env
}

// FlatStateReader is the read path the poller consumes. *Engine
// implements it.
type FlatStateReader interface {
	FetchFlatState(ctx context.Context, link domain.Link) (*FlatState, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval between cycles. Defaults to 30s, never below 1s.
	Interval time.Duration

	// MaxInterval caps the error backoff. Defaults to 300s, never below
	// Interval.
	MaxInterval time.Duration

	// SkipBootstrap disables the "initial" refresh performed by Start.
	SkipBootstrap bool

	// OnUpdate is called with every changed state. An error counts as a
	// failed cycle.
	OnUpdate func(ctx context.Context, u Update, reason Reason) error

	// OnError is called with every failed cycle.
	OnError func(err error)

	Logger  logger.Logger
	Metrics *metric.Registry
}

type pollerState int

const (
	pollerStopped pollerState = iota
	pollerRunning
)

// Poller re-reads the flat state of one link on an interval and reports
// checksum changes.
//
// It is a two-state machine (stopped, running). Start spawns one timer
// loop that calls RunCycle and reschedules only after the cycle settles,
// so cycles never overlap. Tests drive RunCycle directly.
type Poller struct {
	source FlatStateReader
	link   domain.Link
	cfg    PollerConfig
	logger logger.Logger
	now    func() time.Time

	// cycleMu serializes cycles and refreshes.
	cycleMu sync.Mutex

	mu                sync.Mutex
	state             pollerState
	stop              chan struct{}
	done              chan struct{}
	lastChecksum      string
	last              *Update
	consecutiveErrors int
}

// NewPoller creates a stopped poller for link.
func NewPoller(source FlatStateReader, link domain.Link, cfg PollerConfig) (*Poller, error) {
	if source == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("poller source is required")
	}
	link.Mode = domain.ModeFlat
	if err := link.Validate(); err != nil {
		return nil, err
	}

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	cfg.Interval = max(cfg.Interval, MinPollInterval)
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultPollMaxInterval
	}
	cfg.MaxInterval = max(cfg.MaxInterval, cfg.Interval)
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	done := make(chan struct{})
	close(done)

	return &Poller{
		source: source,
		link:   link,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "hotupdate", "target", link.Target()),
		now:    time.Now,
		done:   done,
	}, nil
}

// Start moves the poller to running. With bootstrap enabled it first
// performs one "initial" refresh; if that fails the poller stays stopped
// and the error is returned. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == pollerRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = pollerRunning
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop, p.done = stop, done
	p.mu.Unlock()

	if !p.cfg.SkipBootstrap {
		if _, err := p.Refresh(ctx, ReasonInitial); err != nil {
			p.mu.Lock()
			if p.stop == stop {
				p.stopLocked()
			}
			p.mu.Unlock()
			close(done)
			return fmt.Errorf("initial refresh: %w", err)
		}
	}

	p.logger.Info("hot update poller started", "interval", p.cfg.Interval, "max_interval", p.cfg.MaxInterval)
	go p.loop(ctx, stop, done)
	return nil
}

// Stop moves the poller to stopped. A pending cycle never runs and an
// in-flight cycle's result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) stopLocked() {
	if p.state != pollerRunning {
		return
	}
	p.state = pollerStopped
	close(p.stop)
	p.logger.Info("hot update poller stopped")
}

// Done is closed when the current run's loop has exited.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Running reports whether the poller is running.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == pollerRunning
}

// Last returns the most recently delivered update, or nil.
func (p *Poller) Last() *Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// ConsecutiveErrors returns the current error streak.
func (p *Poller) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveErrors
}

// Refresh fetches the flat state once and delivers it when its checksum
// differs from the last one seen. It reports whether an update was
// delivered. Refresh does not touch the error streak.
func (p *Poller) Refresh(ctx context.Context, reason Reason) (bool, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	state, err := p.source.FetchFlatState(ctx, p.link)
	if err != nil {
		return false, err
	}
	return p.apply(ctx, state, reason)
}

// RunCycle performs one scheduled cycle and returns the delay before the
// next one: the base interval after a success, an exponential backoff
// after a failure. Failures are reported to OnError.
func (p *Poller) RunCycle(ctx context.Context) (time.Duration, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	p.mu.Lock()
	stop := p.stop
	if p.state != pollerRunning {
		stop = nil
	}
	p.mu.Unlock()

	state, err := p.source.FetchFlatState(ctx, p.link)
	if stopped(stop) {
		p.logger.Debug("discarding cycle result after stop")
		return 0, ErrPollerStopped
	}

	changed := false
	if err == nil {
		changed, err = p.apply(ctx, state, ReasonChanged)
	}

	now := p.now()
	if err != nil {
		p.mu.Lock()
		p.consecutiveErrors++
		streak := p.consecutiveErrors
		p.mu.Unlock()

		delay := p.backoff(streak)
		p.cfg.Metrics.ObservePoll(metric.PollError, streak, now)
		p.logger.Warn("hot update cycle failed", "error", err, "consecutive_errors", streak, "next", delay)
		if p.cfg.OnError != nil {
			p.cfg.OnError(err)
		}
		return delay, err
	}

	p.mu.Lock()
	p.consecutiveErrors = 0
	p.mu.Unlock()

	result := metric.PollUnchanged
	if changed {
		result = metric.PollChanged
	}
	p.cfg.Metrics.ObservePoll(result, 0, now)
	return p.cfg.Interval, nil
}

// backoff returns min(MaxInterval, Interval * 2^min(streak, 6)).
func (p *Poller) backoff(streak int) time.Duration {
	delay := p.cfg.Interval << min(streak, maxBackoffShift)
	if delay <= 0 || delay > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return delay
}

func (p *Poller) apply(ctx context.Context, state *FlatState, reason Reason) (bool, error) {
	p.mu.Lock()
	if state.Metadata.Checksum == p.lastChecksum {
		p.mu.Unlock()
		return false, nil
	}
	update := Update{
		Project:      p.link.Project,
		Environment:  p.link.Environment,
		Namespace:    p.link.Namespace,
		Checksum:     state.Metadata.Checksum,
		UpdatedAt:    state.Metadata.UpdatedAt,
		UpdatedBy:    state.Metadata.UpdatedBy,
		EntriesCount: state.Metadata.EntriesCount,
		Entries:      state.Entries,
	}
	p.mu.Unlock()

	// The checksum is remembered only once the callback accepted the
	// update, so a failed delivery is retried on the next cycle.
	if p.cfg.OnUpdate != nil {
		if err := p.cfg.OnUpdate(ctx, update, reason); err != nil {
			return false, fmt.Errorf("update callback: %w", err)
		}
	}

	p.mu.Lock()
	p.lastChecksum = update.Checksum
	p.last = &update
	p.mu.Unlock()

	p.logger.Info("hot update delivered", "reason", reason, "entries", update.EntriesCount, "checksum", update.Checksum)
	return true, nil
}

func (p *Poller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.stop == stop {
				p.stopLocked()
			}
			p.mu.Unlock()
			return
		case <-stop:
			return
		case <-timer.C:
		}
		if stopped(stop) {
			return
		}

		delay, err := p.RunCycle(ctx)
		if errors.Is(err, ErrPollerStopped) || stopped(stop) {
			return
		}
		timer.Reset(delay)
	}
}

func stopped(stop chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// ApplyToProcessEnv sets entries in the process environment. Existing
// variables are kept unless overwrite is set.
func ApplyToProcessEnv(entries domain.Env, overwrite bool) error {
	for _, name := range entries.Names() {
		if !overwrite {
			if _, exists := os.LookupEnv(name); exists {
				continue
			}
		}
		if err := os.Setenv(name, entries[name]); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}
