// Package gemini provides Google Gemini integration through its OpenAI-compatible endpoint.
package gemini

import (
	"context"
	"net/http"

	"llmrelay/internal/core"
	"llmrelay/internal/providers"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type:               "gemini",
	New:                New,
	RequiresCredential: true,
}

const (
	// Gemini provides an OpenAI-compatible endpoint
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultModel   = "gemini-2.0-flash"
)

// Provider implements the core.Provider interface for Google Gemini
type Provider struct {
	compat *providers.CompatClient
	apiKey string
}

// New creates a new Gemini provider.
func New(cfg providers.ProviderConfig, apiKey string, opts providers.ProviderOptions) (core.Provider, error) {
	return NewWithHTTPClient(cfg.Name, apiKey, cfg.BaseURL, opts.HTTPClient), nil
}

// NewWithHTTPClient creates a new Gemini provider with a custom HTTP client.
func NewWithHTTPClient(name, apiKey, baseURL string, httpClient *http.Client) *Provider {
	if name == "" {
		name = "gemini"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	p := &Provider{apiKey: apiKey}
	p.compat = providers.NewCompatClient(name, baseURL, httpClient, p.setHeaders)
	return p
}

// setHeaders sets the required headers for Gemini API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// DefaultModel returns the model used when neither the request nor the config names one
func (p *Provider) DefaultModel() string {
	return defaultModel
}

// GenerateCompletion sends a chat completion to Gemini
func (p *Provider) GenerateCompletion(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	return p.compat.Complete(ctx, req, model)
}

// CheckStatus probes the models endpoint
func (p *Provider) CheckStatus(ctx context.Context) core.StatusReport {
	return p.compat.CheckStatus(ctx)
}
