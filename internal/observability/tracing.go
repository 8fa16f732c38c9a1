package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"llmrelay/config"
)

// TracerName is the instrumentation scope used for dispatcher spans.
const TracerName = "llmrelay/dispatch"

// Tracing holds the initialized tracer and its shutdown hook.
type Tracing struct {
	Tracer   trace.Tracer
	Shutdown func(context.Context) error
}

// SetupTracing installs an OTLP/HTTP tracer provider when tracing is enabled.
// When disabled it returns the global tracer (a no-op unless something else set one).
func SetupTracing(ctx context.Context, cfg config.TracingConfig) (Tracing, error) {
	noop := Tracing{
		Tracer:   otel.Tracer(TracerName),
		Shutdown: func(context.Context) error { return nil },
	}
	if !cfg.Enabled {
		return noop, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "llmrelay"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return Tracing{}, fmt.Errorf("otel resource: %w", err)
	}

	var opts []otlptracehttp.Option
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		if strings.Contains(endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return Tracing{}, fmt.Errorf("otel otlp exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	return Tracing{
		Tracer:   tp.Tracer(TracerName),
		Shutdown: tp.Shutdown,
	}, nil
}
