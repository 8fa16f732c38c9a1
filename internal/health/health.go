// Package health tracks per-provider rate windows and liveness.
//
// All window arithmetic is lazy: every access first rolls the window forward
// if its duration has elapsed, so no background timer is needed.
package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"llmrelay/internal/core"
)

// Status is the availability verdict for a provider.
type Status int

const (
	StatusAvailable       Status = iota
	StatusCircuitOpen            // consecutive errors exceeded the threshold
	StatusRateLimited            // local window quota exhausted
	StatusUpstreamLimited        // upstream signalled throttling in this window
)

// String returns a human-readable label for the status.
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusCircuitOpen:
		return "circuit_open"
	case StatusRateLimited:
		return "rate_limited"
	case StatusUpstreamLimited:
		return "upstream_limited"
	default:
		return "unknown"
	}
}

// Defaults used when options leave values unset.
const (
	DefaultThreshold = 5
	DefaultWindow    = 60 * time.Second
)

// State is a point-in-time copy of one provider's runtime counters.
type State struct {
	Name              string         `json:"name"`
	Status            string         `json:"status"`
	Available         bool           `json:"available"`
	RequestCount      uint64         `json:"request_count"`
	ErrorCount        uint64         `json:"error_count"`
	ConsecutiveErrors int            `json:"consecutive_error_count"`
	LastErrorAt       time.Time      `json:"last_error_at,omitzero"`
	LastErrorType     core.ErrorType `json:"last_error_type,omitempty"`
	RateLimit         int            `json:"rate_limit"`
	WindowCount       int            `json:"window_count"`
	WindowStart       time.Time      `json:"window_start"`
	UpstreamLimited   bool           `json:"upstream_limited"`
}

// providerState is owned by the tracker; every field is guarded by mu.
type providerState struct {
	mu                sync.Mutex
	rateLimit         int
	requestCount      uint64
	errorCount        uint64
	consecutiveErrors int
	lastErrorAt       time.Time
	lastErrorType     core.ErrorType
	windowCount       int
	windowStart       time.Time
	upstreamLimited   bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThreshold sets how many consecutive errors a provider tolerates; one more opens the circuit.
func WithThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithWindow sets the rate window duration.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithClock injects the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger used for status transitions.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithStateChange registers a callback invoked outside any lock whenever a
// provider's status changes.
func WithStateChange(fn func(name string, from, to Status)) Option {
	return func(t *Tracker) { t.onStateChange = fn }
}

// Tracker owns the runtime state of every provider. Each provider has its own
// mutex; the provider map only grows during startup registration.
type Tracker struct {
	threshold     int
	window        time.Duration
	now           func() time.Time
	logger        *slog.Logger
	onStateChange func(name string, from, to Status)

	mu     sync.RWMutex
	states map[string]*providerState
	order  []string
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		threshold: DefaultThreshold,
		window:    DefaultWindow,
		now:       time.Now,
		logger:    slog.New(slog.DiscardHandler),
		states:    make(map[string]*providerState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Window returns the configured rate window.
func (t *Tracker) Window() time.Duration { return t.window }

// Threshold returns the configured circuit threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Register creates runtime state for a provider allowed rateLimit requests per window.
func (t *Tracker) Register(name string, rateLimit int) error {
	if rateLimit <= 0 {
		return core.NewConfigError(fmt.Sprintf("provider %q: rate_limit must be positive, got %d", name, rateLimit))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.states[name]; exists {
		return core.NewConfigError(fmt.Sprintf("provider %q is already tracked", name))
	}
	t.states[name] = &providerState{rateLimit: rateLimit, windowStart: t.now()}
	t.order = append(t.order, name)
	return nil
}

func (t *Tracker) lookup(name string) *providerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[name]
}

// IsAvailable reports whether the provider may be selected right now.
// Unknown providers are never available.
func (t *Tracker) IsAvailable(name string) bool {
	s := t.lookup(name)
	if s == nil {
		return false
	}
	s.mu.Lock()
	before := t.advance(s)
	after := t.status(s)
	s.mu.Unlock()

	t.notify(name, before, after)
	return after == StatusAvailable
}

// Acquire checks availability and, when available, consumes one slot of the
// current rate window in the same critical section. It returns false without
// consuming anything otherwise. Local quota exhaustion never counts as an error.
func (t *Tracker) Acquire(name string) bool {
	s := t.lookup(name)
	if s == nil {
		return false
	}
	s.mu.Lock()
	before := t.advance(s)
	acquired := t.status(s) == StatusAvailable
	if acquired {
		s.windowCount++
	}
	after := t.status(s)
	s.mu.Unlock()

	t.notify(name, before, after)
	return acquired
}

// RecordSuccess counts a completed request and closes the circuit.
func (t *Tracker) RecordSuccess(name string) {
	s := t.lookup(name)
	if s == nil {
		return
	}
	s.mu.Lock()
	before := t.advance(s)
	s.requestCount++
	s.consecutiveErrors = 0
	after := t.status(s)
	s.mu.Unlock()

	t.notify(name, before, after)
}

// RecordFailure counts a failed request. An upstream rate_limited error marks
// the provider unavailable until the next window boundary.
func (t *Tracker) RecordFailure(name string, errType core.ErrorType) {
	s := t.lookup(name)
	if s == nil {
		return
	}
	s.mu.Lock()
	before := t.advance(s)
	s.errorCount++
	s.consecutiveErrors++
	s.lastErrorAt = t.now()
	s.lastErrorType = errType
	if errType == core.ErrorTypeRateLimited {
		s.upstreamLimited = true
	}
	after := t.status(s)
	s.mu.Unlock()

	t.notify(name, before, after)
}

// Snapshot returns a copy of one provider's state.
func (t *Tracker) Snapshot(name string) (State, bool) {
	s := t.lookup(name)
	if s == nil {
		return State{}, false
	}

	s.mu.Lock()
	before := t.advance(s)
	status := t.status(s)
	st := State{
		Name:              name,
		Status:            status.String(),
		Available:         status == StatusAvailable,
		RequestCount:      s.requestCount,
		ErrorCount:        s.errorCount,
		ConsecutiveErrors: s.consecutiveErrors,
		LastErrorAt:       s.lastErrorAt,
		LastErrorType:     s.lastErrorType,
		RateLimit:         s.rateLimit,
		WindowCount:       s.windowCount,
		WindowStart:       s.windowStart,
		UpstreamLimited:   s.upstreamLimited,
	}
	s.mu.Unlock()

	t.notify(name, before, status)
	return st, true
}

// Snapshots returns every provider's state in registration order.
func (t *Tracker) Snapshots() []State {
	t.mu.RLock()
	names := append([]string(nil), t.order...)
	t.mu.RUnlock()

	out := make([]State, 0, len(names))
	for _, name := range names {
		if st, ok := t.Snapshot(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// advance returns the status as it stood before the lazy window rollover,
// then applies the rollover. Caller holds s.mu.
func (t *Tracker) advance(s *providerState) Status {
	before := t.status(s)
	t.rollover(s)
	return before
}

// rollover advances the window by whole periods once it has elapsed, so the
// boundaries never drift no matter how many windows were skipped. A new window
// clears the quota, the upstream throttle flag and the consecutive error run.
// Caller holds s.mu.
func (t *Tracker) rollover(s *providerState) {
	elapsed := t.now().Sub(s.windowStart)
	if elapsed < t.window {
		return
	}
	periods := elapsed / t.window
	s.windowStart = s.windowStart.Add(periods * t.window)
	s.windowCount = 0
	s.upstreamLimited = false
	s.consecutiveErrors = 0
}

// status computes the verdict. Caller holds s.mu.
func (t *Tracker) status(s *providerState) Status {
	switch {
	case s.consecutiveErrors > t.threshold:
		return StatusCircuitOpen
	case s.upstreamLimited:
		return StatusUpstreamLimited
	case s.windowCount >= s.rateLimit:
		return StatusRateLimited
	default:
		return StatusAvailable
	}
}

func (t *Tracker) notify(name string, from, to Status) {
	if from == to {
		return
	}
	t.logger.Info("provider status changed",
		"provider", name,
		"from", from.String(),
		"to", to.String(),
	)
	if t.onStateChange != nil {
		t.onStateChange(name, from, to)
	}
}
