package core

import "context"

// Provider defines the capability set every upstream adapter implements
type Provider interface {
	// GenerateCompletion executes a completion against the resolved model.
	// Every failure is returned as a *GatewayError with an adapter error type.
	GenerateCompletion(ctx context.Context, req *CompletionRequest, model string) (*CompletionResult, error)

	// CheckStatus probes upstream reachability without affecting dispatch state
	CheckStatus(ctx context.Context) StatusReport
}

// DefaultModeler is implemented by adapters that know a fallback model name
type DefaultModeler interface {
	DefaultModel() string
}
