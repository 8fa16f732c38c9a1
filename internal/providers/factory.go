// Package providers holds the provider registry and the factory that builds adapters.
package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"llmrelay/internal/core"
	"llmrelay/internal/httpclient"
)

// ProviderOptions carries shared infrastructure into adapter constructors
type ProviderOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Builder creates an adapter from its resolved config and secret
type Builder func(cfg ProviderConfig, credential string, opts ProviderOptions) (core.Provider, error)

// Registration describes how to build one adapter type
type Registration struct {
	Type string
	New  Builder
	// RequiresCredential rejects configs whose credential reference is empty
	RequiresCredential bool
}

// CredentialResolver turns a credential reference into the secret value
type CredentialResolver func(ref string) (string, error)

// ProviderFactory maps adapter types to their constructors
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[string]Registration
	resolve  CredentialResolver
	opts     ProviderOptions
}

// FactoryOption configures a ProviderFactory
type FactoryOption func(*ProviderFactory)

// WithCredentialResolver sets how credential references are resolved
func WithCredentialResolver(r CredentialResolver) FactoryOption {
	return func(f *ProviderFactory) { f.resolve = r }
}

// WithHTTPClient sets the HTTP client shared by adapters
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *ProviderFactory) { f.opts.HTTPClient = c }
}

// WithLogger sets the logger handed to adapters
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *ProviderFactory) { f.opts.Logger = l }
}

// NewProviderFactory creates an empty factory. Without a resolver only
// credential-less adapters can be built.
func NewProviderFactory(opts ...FactoryOption) *ProviderFactory {
	f := &ProviderFactory{
		builders: make(map[string]Registration),
		resolve: func(ref string) (string, error) {
			if ref != "" {
				return "", fmt.Errorf("no credential resolver configured")
			}
			return "", nil
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.opts.HTTPClient == nil {
		f.opts.HTTPClient = httpclient.Default()
	}
	if f.opts.Logger == nil {
		f.opts.Logger = slog.New(slog.DiscardHandler)
	}
	return f
}

// Add registers an adapter type. A later registration for the same type wins.
func (f *ProviderFactory) Add(reg Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[reg.Type] = reg
}

// Create builds the adapter for cfg, resolving its credential first
func (f *ProviderFactory) Create(cfg ProviderConfig) (core.Provider, error) {
	f.mu.RLock()
	reg, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, core.NewConfigError(fmt.Sprintf("provider %q: unknown provider type: %s", cfg.Name, cfg.Type))
	}

	if reg.RequiresCredential && cfg.CredentialRef == "" {
		return nil, core.NewConfigError(fmt.Sprintf("provider %q: credential is required for type %s", cfg.Name, cfg.Type))
	}
	secret, err := f.resolve(cfg.CredentialRef)
	if err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("provider %q: %v", cfg.Name, err))
	}

	p, err := reg.New(cfg, secret, f.opts)
	if err != nil {
		return nil, core.NewConfigError(fmt.Sprintf("provider %q: %v", cfg.Name, err))
	}
	return p, nil
}

// ListRegistered returns the registered adapter types in sorted order
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
