package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder reports dispatcher metrics using Prometheus primitives.
type PrometheusRecorder struct {
	gatherer prometheus.Gatherer

	attempts         *prometheus.CounterVec
	attemptDurations *prometheus.HistogramVec
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	circuitOpen      *prometheus.GaugeVec
	tokens           *prometheus.CounterVec
	reachable        *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the dispatcher collectors on registry.
// A nil registry gets a fresh one with the Go and process collectors.
func NewPrometheusRecorder(registry *prometheus.Registry) (*PrometheusRecorder, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r := &PrometheusRecorder{
		gatherer: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_attempts_total",
			Help: "Adapter calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		attemptDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrelay_attempt_duration_seconds",
			Help:    "Adapter call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_dispatches_total",
			Help: "Dispatches by terminal outcome",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrelay_dispatch_duration_seconds",
			Help:    "End-to-end dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_fallbacks_total",
			Help: "Times the dispatcher moved past a provider",
		}, []string{"provider", "reason"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmrelay_circuit_open",
			Help: "1 while the provider circuit is open",
		}, []string{"provider"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrelay_tokens_total",
			Help: "Tokens reported by successful calls",
		}, []string{"provider", "model"}),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmrelay_provider_reachable",
			Help: "Latest out-of-band probe result (1 reachable, 0 unreachable)",
		}, []string{"provider"}),
	}

	for _, collector := range []prometheus.Collector{
		r.attempts, r.attemptDurations, r.dispatches, r.dispatchDuration,
		r.fallbacks, r.circuitOpen, r.tokens, r.reachable,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) ObserveAttempt(provider, outcome string, duration time.Duration) {
	r.attempts.WithLabelValues(provider, outcome).Inc()
	r.attemptDurations.WithLabelValues(provider).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) ObserveDispatch(outcome string, duration time.Duration) {
	r.dispatches.WithLabelValues(outcome).Inc()
	r.dispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) ObserveFallback(provider, reason string) {
	r.fallbacks.WithLabelValues(provider, reason).Inc()
}

func (r *PrometheusRecorder) ObserveCircuitChange(provider string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	r.circuitOpen.WithLabelValues(provider).Set(v)
}

func (r *PrometheusRecorder) ObserveTokens(provider, model string, tokens int) {
	if tokens <= 0 {
		return
	}
	r.tokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func (r *PrometheusRecorder) ObserveProbe(provider string, reachable bool) {
	v := 0.0
	if reachable {
		v = 1
	}
	r.reachable.WithLabelValues(provider).Set(v)
}

var _ Recorder = (*PrometheusRecorder)(nil)
