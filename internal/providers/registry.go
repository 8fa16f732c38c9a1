package providers

import (
	"fmt"
	"sort"
	"sync"

	"llmrelay/internal/core"
)

// Entry pairs an adapter with its static configuration
type Entry struct {
	Config   ProviderConfig
	Provider core.Provider
	order    int
}

// Name returns the provider's unique name
func (e *Entry) Name() string { return e.Config.Name }

// Registry holds every configured provider. It is populated once at startup
// and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
	byName  map[string]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Entry)}
}

// Register adds a provider. It fails with a config error on a duplicate or
// empty name, a nil adapter, or a non-positive priority or rate limit.
func (r *Registry) Register(cfg ProviderConfig, p core.Provider) error {
	switch {
	case cfg.Name == "":
		return core.NewConfigError("provider name is required")
	case p == nil:
		return core.NewConfigError(fmt.Sprintf("provider %q: adapter is nil", cfg.Name))
	case cfg.Priority <= 0:
		return core.NewConfigError(fmt.Sprintf("provider %q: priority must be positive, got %d", cfg.Name, cfg.Priority))
	case cfg.RateLimit <= 0:
		return core.NewConfigError(fmt.Sprintf("provider %q: rate_limit must be positive, got %d", cfg.Name, cfg.RateLimit))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[cfg.Name]; exists {
		return core.NewConfigError(fmt.Sprintf("provider %q is already registered", cfg.Name))
	}
	e := &Entry{Config: cfg, Provider: p, order: len(r.entries)}
	r.entries = append(r.entries, e)
	r.byName[cfg.Name] = e
	return nil
}

// Get returns the entry for name or a not-found error
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, core.NewNotFoundError(fmt.Sprintf("provider %q is not registered", name))
	}
	return e, nil
}

// ListEnabled returns enabled entries by ascending priority, ties broken by
// registration order
func (r *Registry) ListEnabled() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Config.Enabled {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Config.Priority != out[j].Config.Priority {
			return out[i].Config.Priority < out[j].Config.Priority
		}
		return out[i].order < out[j].order
	})
	return out
}

// All returns every entry in registration order
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
