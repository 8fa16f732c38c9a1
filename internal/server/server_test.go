package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/internal/core"
	"llmrelay/internal/dispatch"
	"llmrelay/internal/fallback"
	"llmrelay/internal/health"
	"llmrelay/internal/probe"
	"llmrelay/internal/providers"
	"llmrelay/internal/providers/providertest"
	"llmrelay/internal/usage"
)

type stack struct {
	server  *Server
	mocks   map[string]*providertest.MockProvider
	tracker *health.Tracker
	store   *usage.MemoryStore
	prober  *probe.Prober
}

func newStack(t *testing.T, names ...string) *stack {
	t.Helper()
	reg := providers.NewRegistry()
	tracker := health.New()
	st := &stack{mocks: map[string]*providertest.MockProvider{}, tracker: tracker, store: usage.NewMemoryStore()}

	for i, name := range names {
		m := &providertest.MockProvider{Name: name}
		st.mocks[name] = m
		cfg := providers.ProviderConfig{
			Name:       name,
			Type:       "mock",
			Priority:   i + 1,
			Enabled:    true,
			RateLimit:  100,
			Timeout:    time.Second,
			MaxRetries: 1,
			Models:     []string{name + "-model"},
		}
		require.NoError(t, reg.Register(cfg, m))
		require.NoError(t, tracker.Register(name, cfg.RateLimit))
	}

	writer := usage.NewLogger(st.store, usage.Config{FlushInterval: 5 * time.Millisecond, BatchSize: 1}, nil)
	t.Cleanup(func() { _ = writer.Close() })

	d := dispatch.New(reg, tracker, fallback.New(reg, tracker), dispatch.WithUsage(writer))
	st.prober = probe.New(reg)
	st.server = New(Deps{
		Dispatcher: d,
		Providers:  reg,
		Health:     tracker,
		Probes:     st.prober,
		Usage:      st.store,
	}, &Config{
		MetricsEnabled: true,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		BodyLimit: "1K",
	})
	return st
}

func (s *stack) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	st := newStack(t, "p1")
	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := st.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	st := newStack(t, "p1")
	rec := st.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestCompletion_Success(t *testing.T) {
	st := newStack(t, "p1", "p2")

	rec := st.do(t, http.MethodPost, "/api/v1/completions", `{"prompt":"hi"}`, "X-Request-ID", "req-42")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "ok from p1", body["text"])
	assert.Equal(t, "p1", body["provider"])
	assert.Equal(t, "p1-model", body["model"])
	assert.Equal(t, "req-42", body["request_id"])
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestCompletion_GeneratesRequestID(t *testing.T) {
	st := newStack(t, "p1")

	rec := st.do(t, http.MethodPost, "/api/v1/completions", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Header().Get("X-Request-Id")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, decode(t, rec)["request_id"])
}

func TestCompletion_Fallback(t *testing.T) {
	st := newStack(t, "p1", "p2")
	st.mocks["p1"].GenerateFunc = providertest.Failing(core.NewTransientError("p1", 503, "down", nil))

	rec := st.do(t, http.MethodPost, "/api/v1/completions", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p2", decode(t, rec)["provider"])
}

func TestCompletion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(st *stack)
		wantStatus int
		wantType   string
	}{
		{
			name:       "malformed body",
			body:       `{"prompt":`,
			wantStatus: http.StatusBadRequest,
			wantType:   string(core.ErrorTypeInvalidRequest),
		},
		{
			name:       "empty prompt",
			body:       `{"prompt":""}`,
			wantStatus: http.StatusBadRequest,
			wantType:   string(core.ErrorTypeInvalidRequest),
		},
		{
			name:       "streaming",
			body:       `{"prompt":"hi","stream":true}`,
			wantStatus: http.StatusBadRequest,
			wantType:   string(core.ErrorTypeInvalidRequest),
		},
		{
			name:       "unknown strategy",
			body:       `{"prompt":"hi","strategy":"fastest"}`,
			wantStatus: http.StatusBadRequest,
			wantType:   string(core.ErrorTypeInvalidRequest),
		},
		{
			name:       "unknown explicit provider",
			body:       `{"prompt":"hi","provider":"ghost"}`,
			wantStatus: http.StatusBadGateway,
			wantType:   string(core.ErrorTypeProviderUnavailable),
		},
		{
			name: "all providers fail",
			body: `{"prompt":"hi"}`,
			setup: func(st *stack) {
				st.mocks["p1"].GenerateFunc = providertest.Failing(core.NewAuthError("p1", "bad key"))
			},
			wantStatus: http.StatusBadGateway,
			wantType:   string(core.ErrorTypeNoProviderAvailable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStack(t, "p1")
			if tt.setup != nil {
				tt.setup(st)
			}

			rec := st.do(t, http.MethodPost, "/api/v1/completions", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			errBody, ok := decode(t, rec)["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, errBody["type"])
		})
	}
}

func TestCompletion_AttemptHistoryInError(t *testing.T) {
	st := newStack(t, "p1", "p2")
	st.mocks["p1"].GenerateFunc = providertest.Failing(core.NewRateLimitedError("p1", "429"))
	st.mocks["p2"].GenerateFunc = providertest.Failing(core.NewTimeoutError("p2", "slow", nil))

	rec := st.do(t, http.MethodPost, "/api/v1/completions", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	assert.JSONEq(t, `{"error":{
		"type":"no_provider_available_error",
		"message":"all providers failed",
		"attempts":[
			{"provider":"p1","kind":"rate_limited_error","attempts":1},
			{"provider":"p2","kind":"timeout_error","attempts":1}
		]}}`, rec.Body.String())
}

func TestCompletion_BodyLimit(t *testing.T) {
	st := newStack(t, "p1")
	big := `{"prompt":"` + strings.Repeat("x", 4096) + `"}`

	rec := st.do(t, http.MethodPost, "/api/v1/completions", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, st.mocks["p1"].GenerateCalls())
}

func TestListProviders(t *testing.T) {
	st := newStack(t, "p1", "p2")
	st.mocks["p2"].StatusFunc = func(context.Context) core.StatusReport {
		return core.StatusReport{Reachable: false, Detail: "refused"}
	}
	st.prober.CheckAll(context.Background())

	rec := st.do(t, http.MethodPost, "/api/v1/completions", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		totals, _ := st.store.Totals(context.Background())
		return totals["p1"].Requests == 1
	}, time.Second, 5*time.Millisecond)

	rec = st.do(t, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Strategy  string           `json:"strategy"`
		Providers []ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "priority", body.Strategy)
	require.Len(t, body.Providers, 2)

	p1 := body.Providers[0]
	assert.Equal(t, "p1", p1.Name)
	assert.Equal(t, "1s", p1.Timeout)
	require.NotNil(t, p1.Health)
	assert.Equal(t, uint64(1), p1.Health.RequestCount)
	assert.Equal(t, "available", p1.Health.Status)
	require.NotNil(t, p1.Probe)
	assert.True(t, p1.Probe.Reachable)
	assert.Equal(t, usage.Totals{Requests: 1, Tokens: 1}, p1.Usage)

	p2 := body.Providers[1]
	require.NotNil(t, p2.Probe)
	assert.False(t, p2.Probe.Reachable)
	assert.Equal(t, "refused", p2.Probe.Detail)
	assert.True(t, p2.Health.Available, "probe results never change health")
}
