// Package probe runs out-of-band reachability checks against every registered
// adapter. Results are informational: they never change dispatch health.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"llmrelay/internal/observability"
	"llmrelay/internal/providers"
)

// DefaultTimeout bounds a single CheckStatus call.
const DefaultTimeout = 5 * time.Second

// Report is the last known status of one provider.
type Report struct {
	Provider  string        `json:"provider"`
	Reachable bool          `json:"reachable"`
	Detail    string        `json:"detail,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
}

// Lister yields every registered provider, enabled or not.
type Lister interface {
	All() []*providers.Entry
}

// Option configures a Prober.
type Option func(*Prober)

// WithTimeout sets the per-provider probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecorder feeds probe results to a metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(p *Prober) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithClock overrides the time source used for CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		if now != nil {
			p.now = now
		}
	}
}

// Prober checks provider reachability on demand or on a cron schedule.
type Prober struct {
	registry Lister
	timeout  time.Duration
	logger   *slog.Logger
	recorder observability.Recorder
	now      func() time.Time

	mu   sync.RWMutex
	last map[string]Report

	runMu sync.Mutex // one probe round at a time

	cronMu sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a prober over the given registry.
func New(registry Lister, opts ...Option) *Prober {
	p := &Prober{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   slog.New(slog.DiscardHandler),
		recorder: observability.NopRecorder{},
		now:      time.Now,
		last:     make(map[string]Report),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckAll probes every registered provider concurrently and returns the
// reports in registration order.
func (p *Prober) CheckAll(ctx context.Context) []Report {
	entries := p.registry.All()
	reports := make([]Report, len(entries))

	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = p.check(ctx, e)
		}()
	}
	wg.Wait()

	for _, r := range reports {
		p.store(r)
	}
	return reports
}

func (p *Prober) check(ctx context.Context, e *providers.Entry) Report {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	status := e.Provider.CheckStatus(ctx)
	return Report{
		Provider:  e.Name(),
		Reachable: status.Reachable,
		Detail:    status.Detail,
		CheckedAt: p.now(),
		Latency:   time.Since(started),
	}
}

func (p *Prober) store(r Report) {
	p.mu.Lock()
	prev, seen := p.last[r.Provider]
	p.last[r.Provider] = r
	p.mu.Unlock()

	p.recorder.ObserveProbe(r.Provider, r.Reachable)

	switch {
	case !seen:
		p.logger.Info("provider probed", "provider", r.Provider, "reachable", r.Reachable, "detail", r.Detail)
	case prev.Reachable && !r.Reachable:
		p.logger.Warn("provider became unreachable", "provider", r.Provider, "detail", r.Detail)
	case !prev.Reachable && r.Reachable:
		p.logger.Info("provider reachable again", "provider", r.Provider, "detail", r.Detail)
	}
}

// Last returns the most recent report for one provider.
func (p *Prober) Last(name string) (Report, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.last[name]
	return r, ok
}

// Start schedules CheckAll. The schedule accepts standard cron expressions
// and descriptors such as "@every 30s".
func (p *Prober) Start(schedule string) error {
	p.cronMu.Lock()
	defer p.cronMu.Unlock()

	if p.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		// skip the tick if the previous round is still running
		if !p.runMu.TryLock() {
			p.logger.Warn("probe round still running, skipping tick")
			return
		}
		defer p.runMu.Unlock()
		p.CheckAll(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	p.cron = c
	p.cancel = cancel
	c.Start()
	p.logger.Info("status prober started", "schedule", schedule, "timeout", p.timeout)
	return nil
}

// Stop cancels in-flight probes and waits for the running round to finish.
func (p *Prober) Stop(ctx context.Context) error {
	p.cronMu.Lock()
	defer p.cronMu.Unlock()

	if p.cron == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	p.cron = nil
	p.cancel = nil
	p.logger.Info("status prober stopped")
	return nil
}
