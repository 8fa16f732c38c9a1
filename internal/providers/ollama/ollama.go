// Package ollama provides Ollama integration for the dispatcher.
package ollama

import (
	"context"
	"net/http"
	"time"

	"llmrelay/internal/core"
	"llmrelay/internal/providers"
)

// Registration provides factory registration for the Ollama provider.
var Registration = providers.Registration{
	Type: "ollama",
	New:  New,
}

const (
	defaultBaseURL = "http://localhost:11434/v1"
	defaultModel   = "llama3.2"

	// statusTimeout caps the reachability probe against a local daemon
	statusTimeout = 5 * time.Second
)

// Provider implements the core.Provider interface for Ollama
type Provider struct {
	compat *providers.CompatClient
	apiKey string // Accepted but ignored by Ollama
}

// New creates a new Ollama provider. A credential is optional.
func New(cfg providers.ProviderConfig, apiKey string, opts providers.ProviderOptions) (core.Provider, error) {
	return NewWithHTTPClient(cfg.Name, apiKey, cfg.BaseURL, opts.HTTPClient), nil
}

// NewWithHTTPClient creates a new Ollama provider with a custom HTTP client.
func NewWithHTTPClient(name, apiKey, baseURL string, httpClient *http.Client) *Provider {
	if name == "" {
		name = "ollama"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	p := &Provider{apiKey: apiKey}
	p.compat = providers.NewCompatClient(name, baseURL, httpClient, p.setHeaders)
	return p
}

func (p *Provider) setHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// DefaultModel returns the model used when neither the request nor the config names one
func (p *Provider) DefaultModel() string {
	return defaultModel
}

// GenerateCompletion sends a chat completion to the Ollama daemon
func (p *Provider) GenerateCompletion(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	return p.compat.Complete(ctx, req, model)
}

// CheckStatus verifies that Ollama is running and accessible.
func (p *Provider) CheckStatus(ctx context.Context) core.StatusReport {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	return p.compat.CheckStatus(ctx)
}
