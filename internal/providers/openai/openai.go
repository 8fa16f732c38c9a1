// Package openai provides OpenAI API integration for the dispatcher.
package openai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"llmrelay/internal/core"
	"llmrelay/internal/providers"
)

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type:               "openai",
	New:                New,
	RequiresCredential: true,
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Provider implements the core.Provider interface for OpenAI
type Provider struct {
	name   string
	client *goopenai.Client
}

// New creates a new OpenAI provider.
func New(cfg providers.ProviderConfig, apiKey string, opts providers.ProviderOptions) (core.Provider, error) {
	return NewWithHTTPClient(cfg.Name, apiKey, cfg.BaseURL, opts.HTTPClient), nil
}

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client.
// Empty name and baseURL fall back to the defaults.
func NewWithHTTPClient(name, apiKey, baseURL string, httpClient *http.Client) *Provider {
	if name == "" {
		name = "openai"
	}
	clientCfg := goopenai.DefaultConfig(apiKey)
	clientCfg.BaseURL = defaultBaseURL
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return &Provider{name: name, client: goopenai.NewClientWithConfig(clientCfg)}
}

// DefaultModel returns the model used when neither the request nor the config names one
func (p *Provider) DefaultModel() string {
	return defaultModel
}

// GenerateCompletion sends a single-turn chat completion to OpenAI
func (p *Provider) GenerateCompletion(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.NewInvalidRequestError("prompt is required", nil)
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
		// go-openai omits a zero temperature from the body
		if chatReq.Temperature == 0 {
			chatReq.Temperature = math.SmallestNonzeroFloat32
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewTransientError(p.name, http.StatusBadGateway, "response contained no choices", nil)
	}

	if resp.Model != "" {
		model = resp.Model
	}
	return &core.CompletionResult{
		Text:     resp.Choices[0].Message.Content,
		Provider: p.name,
		Model:    model,
		Tokens:   resp.Usage.TotalTokens,
	}, nil
}

// CheckStatus lists models as a reachability probe
func (p *Provider) CheckStatus(ctx context.Context) core.StatusReport {
	models, err := p.client.ListModels(ctx)
	if err != nil {
		return core.StatusReport{Reachable: false, Detail: p.classify(err).Error()}
	}
	return core.StatusReport{Reachable: true, Detail: providers.ModelCountDetail(len(models.Models))}
}

// classify maps go-openai errors onto the gateway taxonomy
func (p *Provider) classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return core.NewProviderError(p.name, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		message := http.StatusText(reqErr.HTTPStatusCode)
		if len(reqErr.Body) > 0 {
			message = strings.TrimSpace(string(reqErr.Body))
		}
		return core.NewProviderError(p.name, reqErr.HTTPStatusCode, message, err)
	}
	return core.ClassifyTransportError(p.name, err)
}
