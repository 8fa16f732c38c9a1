// Package providertest provides test helpers for the providers package.
package providertest

import (
	"context"
	"sync"

	"llmrelay/internal/core"
)

// MockProvider is a configurable test double for core.Provider.
// Unset GenerateFunc succeeds with a canned result; unset StatusFunc reports reachable.
// All methods are safe for concurrent use.
type MockProvider struct {
	Name         string
	GenerateFunc func(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error)
	StatusFunc   func(ctx context.Context) core.StatusReport

	mu            sync.Mutex
	generateCalls int
	statusCalls   int
	models        []string
}

// GenerateCompletion delegates to GenerateFunc and tracks call count.
func (m *MockProvider) GenerateCompletion(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	m.mu.Lock()
	m.generateCalls++
	m.models = append(m.models, model)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req, model)
	}
	return &core.CompletionResult{
		Text:     "ok from " + m.Name,
		Provider: m.Name,
		Model:    model,
		Tokens:   1,
	}, nil
}

// CheckStatus delegates to StatusFunc and tracks call count.
func (m *MockProvider) CheckStatus(ctx context.Context) core.StatusReport {
	m.mu.Lock()
	m.statusCalls++
	m.mu.Unlock()

	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return core.StatusReport{Reachable: true, Detail: "mock"}
}

// GenerateCalls returns how many times GenerateCompletion was invoked.
func (m *MockProvider) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// StatusCalls returns how many times CheckStatus was invoked.
func (m *MockProvider) StatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

// Models returns the model names passed to GenerateCompletion, in call order.
func (m *MockProvider) Models() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.models...)
}

// Failing returns a GenerateFunc that always fails with err.
func Failing(err error) func(context.Context, *core.CompletionRequest, string) (*core.CompletionResult, error) {
	return func(context.Context, *core.CompletionRequest, string) (*core.CompletionResult, error) {
		return nil, err
	}
}

// Blocking returns a GenerateFunc that waits for ctx to end and returns its error.
func Blocking() func(context.Context, *core.CompletionRequest, string) (*core.CompletionResult, error) {
	return func(ctx context.Context, _ *core.CompletionRequest, _ string) (*core.CompletionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// Interface guard.
var _ core.Provider = (*MockProvider)(nil)
