package usage

import (
	"context"
	"fmt"
	"log/slog"

	"llmrelay/config"
)

// Result holds the initialized usage writer and the store it feeds.
// The caller must call Close during shutdown.
type Result struct {
	Logger Writer
	Store  Store
}

// Close flushes the writer, which in turn closes the store.
// Safe to call multiple times.
func (r *Result) Close() error {
	if r.Logger == nil {
		return nil
	}
	if err := r.Logger.Close(); err != nil {
		return fmt.Errorf("usage logger close: %w", err)
	}
	return nil
}

// New creates the usage writer and store from configuration.
// If usage accounting is disabled, returns a NoopLogger with a nil store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Result, error) {
	if !cfg.Usage.Enabled {
		return &Result{Logger: NoopLogger{}}, nil
	}

	store, err := createStore(ctx, cfg.Usage, logger)
	if err != nil {
		return nil, err
	}

	return &Result{
		Logger: NewLogger(store, buildLoggerConfig(cfg.Usage), logger),
		Store:  store,
	}, nil
}

func createStore(ctx context.Context, cfg config.UsageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
			TTL: cfg.Redis.TTL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown usage store: %s", cfg.Store)
	}
}

func buildLoggerConfig(cfg config.UsageConfig) Config {
	return Config{
		BufferSize:    cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
		BatchSize:     cfg.BatchSize,
	}
}
