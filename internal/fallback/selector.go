// Package fallback orders the providers a dispatch will try.
package fallback

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"llmrelay/internal/core"
	"llmrelay/internal/providers"
)

// Strategy names a candidate ordering policy.
type Strategy string

const (
	// StrategyPriority orders by ascending priority, ties by registration order
	StrategyPriority Strategy = "priority"
	// StrategyRoundRobin rotates the starting provider across calls
	StrategyRoundRobin Strategy = "round-robin"
	// StrategyRandom draws a fresh permutation per call
	StrategyRandom Strategy = "random"
)

// ParseStrategy validates a strategy name. Empty selects priority.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "", StrategyPriority:
		return StrategyPriority, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyRandom:
		return StrategyRandom, nil
	default:
		return "", core.NewConfigError(fmt.Sprintf("unknown fallback strategy %q (want priority, round-robin or random)", name))
	}
}

// Registry is the read side of the provider registry the selector needs.
type Registry interface {
	Get(name string) (*providers.Entry, error)
	ListEnabled() []*providers.Entry
}

// Availability reports whether a provider may currently be selected.
type Availability interface {
	IsAvailable(name string) bool
}

// Option configures a Selector.
type Option func(*Selector)

// WithSeed makes the random strategy reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Selector) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// Selector produces ordered candidate lists. It is safe for concurrent use.
type Selector struct {
	registry Registry
	health   Availability

	// cursor is shared by every round-robin call
	cursor atomic.Uint64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a selector over the given registry and availability source.
func New(registry Registry, health Availability, opts ...Option) *Selector {
	now := uint64(time.Now().UnixNano())
	s := &Selector{
		registry: registry,
		health:   health,
		rng:      rand.New(rand.NewPCG(now, now>>1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectCandidates returns provider names to try in order. Only enabled,
// model-compatible, currently available providers are included. An explicit
// provider in the request goes first; when it is not eligible the call fails
// with a provider_unavailable error instead of falling back silently.
// An empty result with a nil error means nothing is eligible.
func (s *Selector) SelectCandidates(req *core.CompletionRequest, strategy Strategy) ([]string, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required", nil)
	}

	var explicit string
	if req.Provider != "" {
		if err := s.checkExplicit(req.Provider, req.Model); err != nil {
			return nil, err
		}
		explicit = req.Provider
	}

	eligible := make([]string, 0)
	for _, e := range s.registry.ListEnabled() {
		name := e.Name()
		if name == explicit {
			continue
		}
		if !e.Config.Supports(req.Model) || !s.health.IsAvailable(name) {
			continue
		}
		eligible = append(eligible, name)
	}

	ordered, err := s.order(eligible, strategy)
	if err != nil {
		return nil, err
	}
	if explicit != "" {
		return append([]string{explicit}, ordered...), nil
	}
	return ordered, nil
}

func (s *Selector) checkExplicit(name, model string) error {
	entry, err := s.registry.Get(name)
	if err != nil {
		var gwErr *core.GatewayError
		if errors.As(err, &gwErr) && gwErr.Type == core.ErrorTypeNotFound {
			return core.NewProviderUnavailableError(name, "requested provider is not registered", err)
		}
		return err
	}
	switch {
	case !entry.Config.Enabled:
		return core.NewProviderUnavailableError(name, "requested provider is disabled", nil)
	case !entry.Config.Supports(model):
		return core.NewProviderUnavailableError(name, fmt.Sprintf("requested provider does not support model %q", model), nil)
	case !s.health.IsAvailable(name):
		return core.NewProviderUnavailableError(name, "requested provider is currently unavailable", nil)
	}
	return nil
}

// order applies the strategy to names, which arrive in priority order.
func (s *Selector) order(names []string, strategy Strategy) ([]string, error) {
	switch strategy {
	case StrategyPriority, "":
		return names, nil
	case StrategyRoundRobin:
		// The cursor advances once per call even when nothing is eligible.
		next := s.cursor.Add(1) - 1
		if len(names) == 0 {
			return names, nil
		}
		start := int(next % uint64(len(names)))
		out := make([]string, 0, len(names))
		out = append(out, names[start:]...)
		out = append(out, names[:start]...)
		return out, nil
	case StrategyRandom:
		out := append([]string(nil), names...)
		s.rngMu.Lock()
		s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		s.rngMu.Unlock()
		return out, nil
	default:
		return nil, core.NewConfigError(fmt.Sprintf("unknown fallback strategy %q", strategy))
	}
}
