package providers

import (
	"log/slog"

	"llmrelay/internal/core"
)

// Init builds an adapter for every config and registers it in a new registry.
// Any failure is a config error and aborts startup.
func Init(cfgs []ProviderConfig, factory *ProviderFactory, logger *slog.Logger) (*Registry, error) {
	if factory == nil {
		return nil, core.NewConfigError("provider factory is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	registry := NewRegistry()
	for _, cfg := range cfgs {
		p, err := factory.Create(cfg)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(cfg, p); err != nil {
			return nil, err
		}
		logger.Info("provider initialized",
			"provider", cfg.Name,
			"type", cfg.Type,
			"priority", cfg.Priority,
			"enabled", cfg.Enabled,
			"rate_limit", cfg.RateLimit,
		)
	}

	if len(registry.ListEnabled()) == 0 {
		return nil, core.NewConfigError("no enabled providers configured")
	}
	return registry, nil
}
