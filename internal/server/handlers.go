// Package server exposes the dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"llmrelay/internal/core"
	"llmrelay/internal/fallback"
	"llmrelay/internal/health"
	"llmrelay/internal/probe"
	"llmrelay/internal/providers"
	"llmrelay/internal/usage"
)

// Dispatcher is the relay core entry point.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *core.CompletionRequest, strategy fallback.Strategy) (*core.CompletionResult, error)
	DefaultStrategy() fallback.Strategy
}

// ProviderLister yields every registered provider.
type ProviderLister interface {
	All() []*providers.Entry
}

// HealthReader reads health-tracker snapshots.
type HealthReader interface {
	Snapshot(name string) (health.State, bool)
}

// ProbeReader reads the last out-of-band probe of a provider.
type ProbeReader interface {
	Last(name string) (probe.Report, bool)
}

// UsageReader reads aggregated usage.
type UsageReader interface {
	Totals(ctx context.Context) (map[string]usage.Totals, error)
}

// Deps are the collaborators the handlers read from. Probes and Usage may be nil.
type Deps struct {
	Dispatcher Dispatcher
	Providers  ProviderLister
	Health     HealthReader
	Probes     ProbeReader
	Usage      UsageReader
	Logger     *slog.Logger
}

// Handler holds the HTTP handlers
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a new handler over the given collaborators
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{deps: deps, logger: logger}
}

// CompletionRequest is the body of POST /api/v1/completions
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	Strategy    string   `json:"strategy,omitempty"`
}

// Completion handles POST /api/v1/completions
//
// @Summary      Dispatch a completion with provider fallback
// @Tags         completions
// @Accept       json
// @Produce      json
// @Param        request  body      CompletionRequest  true  "Completion request"
// @Success      200      {object}  core.CompletionResult
// @Failure      400      {object}  core.GatewayError
// @Failure      499      {object}  core.DispatchError
// @Failure      502      {object}  core.DispatchError
// @Failure      504      {object}  core.DispatchError
// @Router       /api/v1/completions [post]
func (h *Handler) Completion(c echo.Context) error {
	var body CompletionRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	strategy := h.deps.Dispatcher.DefaultStrategy()
	if body.Strategy != "" {
		parsed, err := fallback.ParseStrategy(body.Strategy)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError(err.Error(), err))
		}
		strategy = parsed
	}

	req := &core.CompletionRequest{
		Prompt:      body.Prompt,
		Provider:    body.Provider,
		Model:       body.Model,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		Stream:      body.Stream,
	}

	result, err := h.deps.Dispatcher.Dispatch(c.Request().Context(), req, strategy)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Health handles GET /health
//
// @Summary      Liveness check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ProviderStatus is one entry of GET /api/v1/providers
type ProviderStatus struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Priority   int           `json:"priority"`
	Enabled    bool          `json:"enabled"`
	RateLimit  int           `json:"rate_limit"`
	Timeout    string        `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	Models     []string      `json:"models"`
	Health     *health.State `json:"health,omitempty"`
	Probe      *probe.Report `json:"probe,omitempty"`
	Usage      usage.Totals  `json:"usage"`
}

// ListProviders handles GET /api/v1/providers
//
// @Summary      List providers with health, last probe and usage
// @Tags         providers
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /api/v1/providers [get]
func (h *Handler) ListProviders(c echo.Context) error {
	var totals map[string]usage.Totals
	if h.deps.Usage != nil {
		var err error
		totals, err = h.deps.Usage.Totals(c.Request().Context())
		if err != nil {
			// usage is best-effort; the rest of the report is still useful
			h.logger.Warn("failed to read usage totals", "error", err)
		}
	}

	entries := h.deps.Providers.All()
	out := make([]ProviderStatus, 0, len(entries))
	for _, e := range entries {
		cfg := e.Config
		models := cfg.Models
		if models == nil {
			models = []string{}
		}
		status := ProviderStatus{
			Name:       cfg.Name,
			Type:       cfg.Type,
			Priority:   cfg.Priority,
			Enabled:    cfg.Enabled,
			RateLimit:  cfg.RateLimit,
			Timeout:    cfg.Timeout.Round(time.Millisecond).String(),
			MaxRetries: cfg.MaxRetries,
			Models:     models,
			Usage:      totals[cfg.Name],
		}
		if s, ok := h.deps.Health.Snapshot(cfg.Name); ok {
			status.Health = &s
		}
		if h.deps.Probes != nil {
			if r, ok := h.deps.Probes.Last(cfg.Name); ok {
				status.Probe = &r
			}
		}
		out = append(out, status)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"strategy":  h.deps.Dispatcher.DefaultStrategy(),
		"providers": out,
	})
}

// handleError converts relay errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var dispatchErr *core.DispatchError
	if errors.As(err, &dispatchErr) {
		return c.JSON(dispatchErr.HTTPStatusCode(), dispatchErr.ToJSON())
	}

	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
