package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/internal/core"
)

func TestCompatClient_Complete(t *testing.T) {
	var received compatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m-served","choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"total_tokens":12}}`))
	}))
	defer server.Close()

	c := NewCompatClient("compat", server.URL+"/v1", server.Client(), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer k")
	})
	maxTokens := 32
	res, err := c.Complete(context.Background(), &core.CompletionRequest{Prompt: "hello", MaxTokens: &maxTokens}, "m-requested")
	require.NoError(t, err)

	assert.Equal(t, "hi there", res.Text)
	assert.Equal(t, "compat", res.Provider)
	assert.Equal(t, "m-served", res.Model)
	assert.Equal(t, 12, res.Tokens)

	assert.Equal(t, "m-requested", received.Model)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "user", received.Messages[0].Role)
	assert.Equal(t, "hello", received.Messages[0].Content)
	require.NotNil(t, received.MaxTokens)
	assert.Equal(t, 32, *received.MaxTokens)
}

func TestCompatClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType core.ErrorType
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, core.ErrorTypeAuth},
		{"throttled", http.StatusTooManyRequests, `{}`, core.ErrorTypeRateLimited},
		{"overloaded", http.StatusServiceUnavailable, `{}`, core.ErrorTypeTransient},
		{"no choices", http.StatusOK, `{"choices":[]}`, core.ErrorTypeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewCompatClient("compat", server.URL, server.Client(), nil)
			_, err := c.Complete(context.Background(), &core.CompletionRequest{Prompt: "x"}, "m")
			require.Error(t, err)
			assert.Equal(t, tt.wantType, core.TypeOf(err))
		})
	}
}

func TestCompatClient_EmptyPromptSkipsNetwork(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	c := NewCompatClient("compat", server.URL, server.Client(), nil)
	_, err := c.Complete(context.Background(), &core.CompletionRequest{Prompt: "  "}, "m")
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeInvalidRequest))
	assert.Zero(t, calls)
}

func TestCompatClient_CheckStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"a"},{"id":"b"}]}`))
	}))
	defer server.Close()

	report := NewCompatClient("compat", server.URL, server.Client(), nil).CheckStatus(context.Background())
	assert.True(t, report.Reachable)
	assert.Equal(t, "2 models available", report.Detail)

	server.Close()
	report = NewCompatClient("compat", server.URL, nil, nil).CheckStatus(context.Background())
	assert.False(t, report.Reachable)
	assert.NotEmpty(t, report.Detail)
}
