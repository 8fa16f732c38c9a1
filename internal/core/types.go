package core

import "strings"

// CompletionRequest represents a normalized completion request
type CompletionRequest struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Prompt      string   `json:"prompt"`
	// Provider pins the request to one named provider; no silent fallback
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Stream   bool   `json:"stream,omitempty"`
}

// Validate rejects request shapes no provider can serve.
func (r *CompletionRequest) Validate() error {
	if r == nil {
		return NewInvalidRequestError("request is required", nil)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return NewInvalidRequestError("prompt is required", nil)
	}
	if r.Stream {
		return NewInvalidRequestError("streaming is not supported", nil)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens must be positive", nil)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return NewInvalidRequestError("temperature must be between 0 and 2", nil)
	}
	return nil
}

// CompletionResult represents the normalized result of a completion
type CompletionResult struct {
	Text      string `json:"text"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	RequestID string `json:"request_id"`
	Tokens    int    `json:"tokens"`
}

// StatusReport is the outcome of an out-of-band reachability probe
type StatusReport struct {
	Detail    string `json:"detail,omitempty"`
	Reachable bool   `json:"reachable"`
}
