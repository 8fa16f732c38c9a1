// Package observability provides metrics and tracing for the dispatcher.
package observability

import (
	"time"
)

// Outcome labels used in addition to error types.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
)

// Recorder receives dispatch metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	// ObserveAttempt records one adapter call. outcome is OutcomeSuccess or an error type.
	ObserveAttempt(provider, outcome string, duration time.Duration)
	// ObserveDispatch records the terminal outcome of a whole dispatch.
	ObserveDispatch(outcome string, duration time.Duration)
	// ObserveFallback records the dispatcher moving past a provider.
	ObserveFallback(provider, reason string)
	// ObserveCircuitChange records a provider entering or leaving the circuit-open state.
	ObserveCircuitChange(provider string, open bool)
	// ObserveTokens records tokens reported by a successful call.
	ObserveTokens(provider, model string, tokens int)
	// ObserveProbe records the latest out-of-band reachability result.
	ObserveProbe(provider string, reachable bool)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) ObserveAttempt(string, string, time.Duration) {}
func (NopRecorder) ObserveDispatch(string, time.Duration)        {}
func (NopRecorder) ObserveFallback(string, string)               {}
func (NopRecorder) ObserveCircuitChange(string, bool)            {}
func (NopRecorder) ObserveTokens(string, string, int)            {}
func (NopRecorder) ObserveProbe(string, bool)                    {}

var _ Recorder = NopRecorder{}
