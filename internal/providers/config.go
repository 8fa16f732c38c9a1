package providers

import (
	"time"

	"llmrelay/config"
)

// Defaults applied to provider fields the config file leaves unset
const (
	DefaultPriority   = 1
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRateLimit  = 60
)

// ProviderConfig holds the fully resolved, immutable configuration of one provider.
type ProviderConfig struct {
	Name       string
	Type       string
	Priority   int
	Enabled    bool
	RateLimit  int
	Timeout    time.Duration
	MaxRetries int
	// Models lists supported model identifiers; the first one is the default
	Models  []string
	BaseURL string
	// CredentialRef points at the secret (env:NAME, file:PATH); never the secret itself
	CredentialRef string
}

// Supports reports whether the provider serves model. An empty model list
// means the provider accepts any model name.
func (c ProviderConfig) Supports(model string) bool {
	if model == "" || len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// DefaultModel returns the first configured model, or "" when none is configured
func (c ProviderConfig) DefaultModel() string {
	if len(c.Models) == 0 {
		return ""
	}
	return c.Models[0]
}

// FromRaw merges a raw config entry with the provider defaults.
// Explicit values are kept even when invalid so the registry can reject them.
func FromRaw(raw config.RawProviderConfig) ProviderConfig {
	resolved := ProviderConfig{
		Name:          raw.Name,
		Type:          raw.Type,
		Priority:      DefaultPriority,
		Enabled:       true,
		RateLimit:     DefaultRateLimit,
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		Models:        append([]string(nil), raw.Models...),
		BaseURL:       raw.BaseURL,
		CredentialRef: raw.Credential,
	}
	if raw.Priority != nil {
		resolved.Priority = *raw.Priority
	}
	if raw.Enabled != nil {
		resolved.Enabled = *raw.Enabled
	}
	if raw.RateLimit != nil {
		resolved.RateLimit = *raw.RateLimit
	}
	if raw.Timeout != nil {
		resolved.Timeout = *raw.Timeout
	}
	if raw.MaxRetries != nil {
		resolved.MaxRetries = *raw.MaxRetries
	}
	return resolved
}

// FromRawList resolves every raw entry, preserving file order
func FromRawList(raw []config.RawProviderConfig) []ProviderConfig {
	out := make([]ProviderConfig, 0, len(raw))
	for _, r := range raw {
		out = append(out, FromRaw(r))
	}
	return out
}
