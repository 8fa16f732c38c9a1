package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/internal/core"
	"llmrelay/internal/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithHTTPClient("oa", "test-api-key", server.URL+"/v1", server.Client())
}

func TestNew_ReturnsProvider(t *testing.T) {
	p, err := New(providers.ProviderConfig{Name: "primary"}, "key", providers.ProviderOptions{})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, defaultModel, p.(*Provider).DefaultModel())
}

func TestGenerateCompletion(t *testing.T) {
	var received map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"model": "gpt-4o-2024-08-06",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`))
	})

	maxTokens := 64
	res, err := p.GenerateCompletion(context.Background(), &core.CompletionRequest{Prompt: "hi", MaxTokens: &maxTokens}, "gpt-4o")
	require.NoError(t, err)

	assert.Equal(t, "Hello!", res.Text)
	assert.Equal(t, "oa", res.Provider)
	assert.Equal(t, "gpt-4o-2024-08-06", res.Model)
	assert.Equal(t, 30, res.Tokens)

	assert.Equal(t, "gpt-4o", received["model"])
	assert.EqualValues(t, 64, received["max_tokens"])
}

func TestGenerateCompletion_Temperature(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		check func(t *testing.T, got float64)
	}{
		{"zero is sent", 0, func(t *testing.T, got float64) {
			assert.Greater(t, got, 0.0)
			assert.Less(t, got, 1e-30)
		}},
		{"non-zero", 0.7, func(t *testing.T, got float64) { assert.InDelta(t, 0.7, got, 1e-6) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received map[string]any
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
			})

			temp := tt.value
			_, err := p.GenerateCompletion(context.Background(), &core.CompletionRequest{Prompt: "hi", Temperature: &temp}, "m")
			require.NoError(t, err)

			require.Contains(t, received, "temperature")
			got, ok := received["temperature"].(float64)
			require.True(t, ok)
			tt.check(t, got)
		})
	}
}

func TestGenerateCompletion_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
	}{
		{"invalid key", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, core.ErrorTypeAuth},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`, core.ErrorTypeRateLimited},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"context length exceeded","type":"invalid_request_error"}}`, core.ErrorTypeInvalidRequest},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"internal","type":"server_error"}}`, core.ErrorTypeTransient},
		{"non-json failure", http.StatusBadGateway, `<html>bad gateway</html>`, core.ErrorTypeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.GenerateCompletion(context.Background(), &core.CompletionRequest{Prompt: "hi"}, "gpt-4o")
			require.Error(t, err)
			assert.Equal(t, tt.wantType, core.TypeOf(err), "err: %v", err)

			var gwErr *core.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, "oa", gwErr.Provider)
		})
	}
}

func TestGenerateCompletion_EmptyPrompt(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	_, err := p.GenerateCompletion(context.Background(), &core.CompletionRequest{Prompt: ""}, "gpt-4o")
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeInvalidRequest))
	assert.Zero(t, calls)
}

func TestCheckStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o","object":"model"},{"id":"gpt-4o-mini","object":"model"}]}`))
	})

	report := p.CheckStatus(context.Background())
	assert.True(t, report.Reachable)
	assert.Equal(t, "2 models available", report.Detail)
}

func TestCheckStatus_Unauthorized(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})

	report := p.CheckStatus(context.Background())
	assert.False(t, report.Reachable)
	assert.Contains(t, report.Detail, "auth_error")
}
