// Package anthropic provides Anthropic API integration for the dispatcher.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"llmrelay/internal/core"
	"llmrelay/internal/providers"
)

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Type:               "anthropic",
	New:                New,
	RequiresCredential: true,
}

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
)

// Provider implements the core.Provider interface for Anthropic
type Provider struct {
	name   string
	client sdk.Client
}

// New creates a new Anthropic provider.
func New(cfg providers.ProviderConfig, apiKey string, opts providers.ProviderOptions) (core.Provider, error) {
	return NewWithHTTPClient(cfg.Name, apiKey, cfg.BaseURL, opts.HTTPClient), nil
}

// NewWithHTTPClient creates a new Anthropic provider with a custom HTTP client.
// SDK-level retries are disabled; the dispatcher owns retry policy.
func NewWithHTTPClient(name, apiKey, baseURL string, httpClient *http.Client) *Provider {
	if name == "" {
		name = "anthropic"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Provider{name: name, client: sdk.NewClient(opts...)}
}

// DefaultModel returns the model used when neither the request nor the config names one
func (p *Provider) DefaultModel() string {
	return defaultModel
}

// GenerateCompletion sends a single user message to the Messages API
func (p *Provider) GenerateCompletion(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.NewInvalidRequestError("prompt is required", nil)
	}

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	if message.Model != "" {
		model = string(message.Model)
	}
	return &core.CompletionResult{
		Text:     text.String(),
		Provider: p.name,
		Model:    model,
		Tokens:   int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// CheckStatus lists models as a reachability probe
func (p *Provider) CheckStatus(ctx context.Context) core.StatusReport {
	page, err := p.client.Models.List(ctx, sdk.ModelListParams{})
	if err != nil {
		return core.StatusReport{Reachable: false, Detail: p.classify(err).Error()}
	}
	return core.StatusReport{Reachable: true, Detail: providers.ModelCountDetail(len(page.Data))}
}

// classify maps SDK errors onto the gateway taxonomy
func (p *Provider) classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return core.NewProviderError(p.name, apiErr.StatusCode, apiErr.Error(), err)
	}
	return core.ClassifyTransportError(p.name, err)
}
