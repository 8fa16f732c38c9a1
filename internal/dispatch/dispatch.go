// Package dispatch walks fallback candidates and returns the first successful completion.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"llmrelay/internal/core"
	"llmrelay/internal/fallback"
	"llmrelay/internal/observability"
	"llmrelay/internal/providers"
	"llmrelay/internal/usage"
)

// Registry resolves candidate names to their config and adapter.
type Registry interface {
	Get(name string) (*providers.Entry, error)
}

// Health is the part of the health tracker the dispatcher drives.
type Health interface {
	Acquire(name string) bool
	RecordSuccess(name string)
	RecordFailure(name string, errType core.ErrorType)
}

// Selector produces the ordered candidate list for one dispatch.
type Selector interface {
	SelectCandidates(req *core.CompletionRequest, strategy fallback.Strategy) ([]string, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger. Nil keeps the discarding default.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithTracer sets the tracer used for dispatch and attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithUsage sets the writer that receives one entry per successful dispatch.
func WithUsage(w usage.Writer) Option {
	return func(d *Dispatcher) {
		if w != nil {
			d.usage = w
		}
	}
}

// WithDeadline bounds a whole dispatch. Zero disables the bound.
func WithDeadline(deadline time.Duration) Option {
	return func(d *Dispatcher) { d.deadline = deadline }
}

// WithDefaultStrategy sets the strategy used when Dispatch is given none.
func WithDefaultStrategy(s fallback.Strategy) Option {
	return func(d *Dispatcher) { d.strategy = s }
}

// WithRequestIDFunc overrides request-id generation.
func WithRequestIDFunc(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newID = fn
		}
	}
}

// Dispatcher is the sole entry point of the relay core. It is safe for concurrent use.
type Dispatcher struct {
	registry Registry
	health   Health
	selector Selector

	logger   *slog.Logger
	recorder observability.Recorder
	tracer   trace.Tracer
	usage    usage.Writer
	deadline time.Duration
	strategy fallback.Strategy
	newID    func() string
}

// New creates a dispatcher.
func New(registry Registry, health Health, selector Selector, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		health:   health,
		selector: selector,
		logger:   slog.New(slog.DiscardHandler),
		recorder: observability.NopRecorder{},
		tracer:   otel.Tracer(observability.TracerName),
		usage:    usage.NoopLogger{},
		strategy: fallback.StrategyPriority,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DefaultStrategy returns the strategy applied when a caller passes none.
func (d *Dispatcher) DefaultStrategy() fallback.Strategy {
	return d.strategy
}

// Dispatch validates req, then tries candidates in selector order until one
// succeeds. Failures other than invalid_request are recorded against the
// provider and the next candidate is tried. Exhaustion returns a
// *core.DispatchError carrying every attempt in order.
func (d *Dispatcher) Dispatch(ctx context.Context, req *core.CompletionRequest, strategy fallback.Strategy) (*core.CompletionResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		d.recorder.ObserveDispatch(string(core.ErrorTypeInvalidRequest), time.Since(start))
		return nil, err
	}
	if strategy == "" {
		strategy = d.strategy
	}

	requestID, ok := core.RequestIDFrom(ctx)
	if !ok {
		requestID = d.newID()
		ctx = core.WithRequestID(ctx, requestID)
	}

	if d.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deadline)
		defer cancel()
	}

	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("llmrelay.request_id", requestID),
		attribute.String("llmrelay.strategy", string(strategy)),
	))
	defer span.End()

	run := &dispatchRun{
		Dispatcher: d,
		req:        req,
		requestID:  requestID,
		start:      start,
		log:        d.logger.With("request_id", requestID, "strategy", string(strategy)),
	}

	result, err := run.execute(ctx, strategy)

	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = string(core.TypeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.String("llmrelay.provider", result.Provider))
	}
	d.recorder.ObserveDispatch(outcome, time.Since(start))
	return result, err
}

// dispatchRun carries the per-call state of one Dispatch.
type dispatchRun struct {
	*Dispatcher
	req       *core.CompletionRequest
	requestID string
	start     time.Time
	log       *slog.Logger

	attempts []core.Attempt
	skipped  []string
	calls    int
}

func (r *dispatchRun) execute(ctx context.Context, strategy fallback.Strategy) (*core.CompletionResult, error) {
	candidates, err := r.selector.SelectCandidates(r.req, strategy)
	if err != nil {
		r.log.Warn("candidate selection failed", "provider", r.req.Provider, "kind", core.TypeOf(err), "error", err)
		return nil, err
	}
	if len(candidates) == 0 {
		r.log.Warn("no eligible provider", "model", r.req.Model)
		return nil, &core.DispatchError{
			Type:    core.ErrorTypeNoProviderAvailable,
			Message: "no eligible provider for request",
		}
	}

	for i, name := range candidates {
		result, err := r.tryCandidate(ctx, name)
		if result != nil {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		if i < len(candidates)-1 {
			r.recorder.ObserveFallback(name, r.lastReason(name))
		}
	}

	message := "all providers failed"
	if len(r.attempts) == 0 {
		message = "no provider available"
	}
	r.log.Error("all providers exhausted", "attempted", len(r.attempts), "skipped", len(r.skipped))
	return nil, &core.DispatchError{
		Type:     core.ErrorTypeNoProviderAvailable,
		Message:  message,
		Attempts: r.attempts,
		Skipped:  r.skipped,
	}
}

// tryCandidate runs up to max(1, MaxRetries) attempts on one provider.
// It returns a result on success, a terminal error when the whole dispatch
// must stop, and (nil, nil) when the next candidate should be tried.
func (r *dispatchRun) tryCandidate(ctx context.Context, name string) (*core.CompletionResult, error) {
	entry, err := r.registry.Get(name)
	if err != nil {
		r.skipped = append(r.skipped, name)
		return nil, nil
	}

	model := resolveModel(r.req, entry)
	maxAttempts := max(1, entry.Config.MaxRetries)
	idx := -1

	for n := 1; n <= maxAttempts; n++ {
		if ctx.Err() != nil {
			return nil, r.interrupted(ctx)
		}
		if !r.health.Acquire(name) {
			if idx < 0 {
				r.skipped = append(r.skipped, name)
				r.recorder.ObserveAttempt(name, observability.OutcomeSkipped, 0)
				r.log.Info("provider skipped", "provider", name)
			}
			return nil, nil
		}

		r.calls++
		result, err := r.call(ctx, entry, model, n)
		if err == nil {
			r.health.RecordSuccess(name)
			return r.finish(result, name, model), nil
		}

		if idx < 0 {
			r.attempts = append(r.attempts, core.Attempt{Provider: name})
			idx = len(r.attempts) - 1
		}
		attempt := &r.attempts[idx]
		attempt.Attempts = n
		attempt.Err = err

		// The caller went away mid-call: the slot stays consumed but the
		// provider is not blamed.
		if ctx.Err() != nil {
			attempt.Type, _ = interruptKind(ctx)
			return nil, r.interrupted(ctx)
		}

		kind := core.TypeOf(err)
		attempt.Type = kind

		if kind == core.ErrorTypeInvalidRequest {
			r.log.Warn("request rejected by provider", "provider", name, "kind", kind, "error", err)
			return nil, err
		}

		r.health.RecordFailure(name, kind)
		r.log.Warn("provider attempt failed",
			"provider", name,
			"kind", kind,
			"attempt", n,
			"error", err,
		)

		if !retrySameProvider(kind) {
			return nil, nil
		}
	}
	return nil, nil
}

func (r *dispatchRun) call(ctx context.Context, entry *providers.Entry, model string, n int) (*core.CompletionResult, error) {
	name := entry.Name()

	callCtx := ctx
	if timeout := entry.Config.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	callCtx, span := r.tracer.Start(callCtx, "attempt", trace.WithAttributes(
		attribute.String("llmrelay.provider", name),
		attribute.String("llmrelay.model", model),
		attribute.Int("llmrelay.attempt", n),
	))
	defer span.End()

	started := time.Now()
	result, err := entry.Provider.GenerateCompletion(callCtx, r.req, model)
	if err == nil && result == nil {
		err = core.NewProviderError(name, 0, "adapter returned no result", nil)
	}
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = core.NewTimeoutError(name, "provider call exceeded "+entry.Config.Timeout.String(), err)
	}

	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = string(core.TypeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	r.recorder.ObserveAttempt(name, outcome, time.Since(started))
	return result, err
}

func (r *dispatchRun) finish(result *core.CompletionResult, name, model string) *core.CompletionResult {
	if result.Provider == "" {
		result.Provider = name
	}
	if result.Model == "" {
		result.Model = model
	}
	result.RequestID = r.requestID

	latency := time.Since(r.start)
	r.recorder.ObserveTokens(result.Provider, result.Model, result.Tokens)
	r.usage.Write(&usage.Entry{
		ID:        uuid.NewString(),
		RequestID: r.requestID,
		Provider:  result.Provider,
		Model:     result.Model,
		Tokens:    result.Tokens,
		Attempts:  r.calls,
		Latency:   latency,
		Timestamp: time.Now().UTC(),
	})

	r.log.Info("dispatch succeeded",
		"provider", result.Provider,
		"model", result.Model,
		"attempts", r.calls,
		"latency", latency,
	)
	return result
}

// interrupted builds the terminal error for a dispatch stopped by its context.
func (r *dispatchRun) interrupted(ctx context.Context) error {
	kind, message := interruptKind(ctx)
	r.log.Info(message, "attempted", len(r.attempts))
	return &core.DispatchError{
		Type:     kind,
		Message:  message,
		Attempts: r.attempts,
		Skipped:  r.skipped,
		Err:      ctx.Err(),
	}
}

func interruptKind(ctx context.Context) (core.ErrorType, string) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.ErrorTypeTimeout, "dispatch deadline exceeded"
	}
	return core.ErrorTypeCanceled, "dispatch canceled by caller"
}

func (r *dispatchRun) lastReason(name string) string {
	for i := len(r.attempts) - 1; i >= 0; i-- {
		if r.attempts[i].Provider == name {
			return string(r.attempts[i].Type)
		}
	}
	return observability.OutcomeSkipped
}

// retrySameProvider reports whether another attempt on the same provider can help.
// Auth and upstream throttling will not clear within one dispatch.
func retrySameProvider(kind core.ErrorType) bool {
	switch kind {
	case core.ErrorTypeTimeout, core.ErrorTypeTransient, core.ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// resolveModel picks the request model, then the provider's first configured
// model, then the adapter's own default.
func resolveModel(req *core.CompletionRequest, entry *providers.Entry) string {
	if req.Model != "" {
		return req.Model
	}
	if m := entry.Config.DefaultModel(); m != "" {
		return m
	}
	if dm, ok := entry.Provider.(core.DefaultModeler); ok {
		return dm.DefaultModel()
	}
	return ""
}
