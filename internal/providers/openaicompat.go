package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"llmrelay/internal/core"
	"llmrelay/internal/llmclient"
)

// CompatClient speaks the OpenAI-compatible chat completions dialect that
// several upstreams expose alongside their native API.
type CompatClient struct {
	name   string
	client *llmclient.Client
}

// NewCompatClient creates a client for an OpenAI-compatible endpoint rooted at baseURL
func NewCompatClient(name, baseURL string, httpClient *http.Client, headers llmclient.HeaderSetter) *CompatClient {
	return &CompatClient{
		name:   name,
		client: llmclient.NewWithHTTPClient(httpClient, llmclient.Config{ProviderName: name, BaseURL: baseURL}, headers),
	}
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type compatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message compatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens      int `json:"total_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete posts a single-turn chat completion
func (c *CompatClient) Complete(ctx context.Context, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.NewInvalidRequestError("prompt is required", nil)
	}

	var resp compatResponse
	err := c.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body: compatRequest{
			Model:       model,
			Messages:    []compatMessage{{Role: "user", Content: req.Prompt}},
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewTransientError(c.name, http.StatusBadGateway, "response contained no choices", nil)
	}

	if resp.Model != "" {
		model = resp.Model
	}
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.CompletionTokens
	}
	return &core.CompletionResult{
		Text:     resp.Choices[0].Message.Content,
		Provider: c.name,
		Model:    model,
		Tokens:   tokens,
	}, nil
}

// CheckStatus lists models as a lightweight reachability probe
func (c *CompatClient) CheckStatus(ctx context.Context) core.StatusReport {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.client.Do(ctx, llmclient.Request{Method: http.MethodGet, Endpoint: "/models"}, &resp); err != nil {
		return core.StatusReport{Reachable: false, Detail: err.Error()}
	}
	return core.StatusReport{Reachable: true, Detail: ModelCountDetail(len(resp.Data))}
}

// ModelCountDetail formats the probe detail for a successful model listing
func ModelCountDetail(n int) string {
	if n == 1 {
		return "1 model available"
	}
	return fmt.Sprintf("%d models available", n)
}
