// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"llmrelay/config"
	"llmrelay/internal/dispatch"
	"llmrelay/internal/fallback"
	"llmrelay/internal/health"
	"llmrelay/internal/httpclient"
	"llmrelay/internal/observability"
	"llmrelay/internal/probe"
	"llmrelay/internal/providers"
	"llmrelay/internal/providers/anthropic"
	"llmrelay/internal/providers/gemini"
	"llmrelay/internal/providers/ollama"
	"llmrelay/internal/providers/openai"
	"llmrelay/internal/server"
	"llmrelay/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config     *config.Config
	logger     *slog.Logger
	registry   *providers.Registry
	tracker    *health.Tracker
	dispatcher *dispatch.Dispatcher
	prober     *probe.Prober
	usage      *usage.Result
	tracing    observability.Tracing
	server     *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Options holds the inputs for creating an App.
type Options struct {
	// Config is the loaded configuration
	Config *config.Config

	// Logger defaults to a discarding logger
	Logger *slog.Logger

	// Factory overrides the default adapter factory (tests)
	Factory *providers.ProviderFactory
}

// DefaultFactory returns a factory with every built-in adapter type registered.
func DefaultFactory(cfg *config.Config, logger *slog.Logger) *providers.ProviderFactory {
	client := httpclient.New(httpclient.Defaults().WithTimeout(cfg.HTTP.Timeout))
	f := providers.NewProviderFactory(
		providers.WithCredentialResolver(config.ResolveCredential),
		providers.WithHTTPClient(client),
		providers.WithLogger(logger),
	)
	f.Add(openai.Registration)
	f.Add(anthropic.Registration)
	f.Add(gemini.Registration)
	f.Add(ollama.Registration)
	return f
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("app config is required")
	}
	cfg := opts.Config

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	strategy, err := fallback.ParseStrategy(cfg.Dispatch.Strategy)
	if err != nil {
		return nil, err
	}

	factory := opts.Factory
	if factory == nil {
		factory = DefaultFactory(cfg, logger)
	}

	app := &App{config: cfg, logger: logger}

	registry, err := providers.Init(providers.FromRawList(cfg.Providers), factory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.registry = registry

	var recorder observability.Recorder = observability.NopRecorder{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom, err := observability.NewPrometheusRecorder(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		recorder = prom
		metricsHandler = prom.Handler()
	}

	app.tracker = health.New(
		health.WithThreshold(cfg.Dispatch.CircuitThreshold),
		health.WithWindow(cfg.Dispatch.RateWindow),
		health.WithLogger(logger),
		health.WithStateChange(func(name string, from, to health.Status) {
			switch {
			case to == health.StatusCircuitOpen:
				recorder.ObserveCircuitChange(name, true)
			case from == health.StatusCircuitOpen:
				recorder.ObserveCircuitChange(name, false)
			}
		}),
	)
	for _, e := range registry.All() {
		if err := app.tracker.Register(e.Name(), e.Config.RateLimit); err != nil {
			return nil, err
		}
	}

	var selectorOpts []fallback.Option
	if cfg.Dispatch.Seed != 0 {
		selectorOpts = append(selectorOpts, fallback.WithSeed(uint64(cfg.Dispatch.Seed)))
	}
	selector := fallback.New(registry, app.tracker, selectorOpts...)

	tracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.tracing = tracing

	usageResult, err := usage.New(ctx, cfg, logger)
	if err != nil {
		closeErr := app.tracing.Shutdown(ctx)
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize usage accounting: %w (also: tracing shutdown error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize usage accounting: %w", err)
	}
	app.usage = usageResult

	app.dispatcher = dispatch.New(registry, app.tracker, selector,
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(recorder),
		dispatch.WithTracer(tracing.Tracer),
		dispatch.WithUsage(usageResult.Logger),
		dispatch.WithDeadline(cfg.Dispatch.Deadline),
		dispatch.WithDefaultStrategy(strategy),
	)

	app.prober = probe.New(registry,
		probe.WithTimeout(cfg.Probe.Timeout),
		probe.WithLogger(logger),
		probe.WithRecorder(recorder),
	)

	deps := server.Deps{
		Dispatcher: app.dispatcher,
		Providers:  registry,
		Health:     app.tracker,
		Probes:     app.prober,
		Logger:     logger,
	}
	if usageResult.Store != nil {
		deps.Usage = usageResult.Store
	}
	app.server = server.New(deps, &server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		MetricsHandler:  metricsHandler,
		BodyLimit:       cfg.Server.BodyLimit,
		SwaggerEnabled:  cfg.Server.SwaggerEnabled,
		Logger:          logger,
	})

	app.logStartupInfo(strategy)
	return app, nil
}

// Dispatcher returns the relay core entry point.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Prober returns the out-of-band status prober.
func (a *App) Prober() *probe.Prober { return a.prober }

// Registry returns the provider registry.
func (a *App) Registry() *providers.Registry { return a.registry }

// Health returns the health tracker.
func (a *App) Health() *health.Tracker { return a.tracker }

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler { return a.server }

// Start starts background probing and the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	if a.config.Probe.Enabled {
		if err := a.prober.Start(a.config.Probe.Schedule); err != nil {
			return err
		}
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. Status prober stop.
// 3. Usage logger close (flushes pending entries).
// 4. Tracer provider shutdown (flushes pending spans).
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Stop accepting new requests
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Stop probing
	if a.prober != nil {
		if err := a.prober.Stop(ctx); err != nil {
			a.logger.Error("prober stop error", "error", err)
			errs = append(errs, fmt.Errorf("prober stop: %w", err))
		}
	}

	// 3. Flush usage
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.logger.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	// 4. Flush spans
	if a.tracing.Shutdown != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Error("tracing shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(strategy fallback.Strategy) {
	cfg := a.config

	a.logger.Info("dispatcher configured",
		"strategy", string(strategy),
		"providers", a.registry.Len(),
		"enabled", len(a.registry.ListEnabled()),
		"circuit_threshold", a.tracker.Threshold(),
		"rate_window", a.tracker.Window(),
		"deadline", cfg.Dispatch.Deadline,
	)

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	if cfg.Server.SwaggerEnabled {
		a.logger.Info("swagger document enabled", "path", "/swagger/doc.json")
	}

	if cfg.Tracing.Enabled {
		a.logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	if cfg.Usage.Enabled {
		a.logger.Info("usage accounting enabled",
			"store", cfg.Usage.Store,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
		)
	} else {
		a.logger.Info("usage accounting disabled")
	}

	if cfg.Probe.Enabled {
		a.logger.Info("status probing enabled", "schedule", cfg.Probe.Schedule, "timeout", cfg.Probe.Timeout)
	}
}
