// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"llmrelay/internal/core"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Dispatch  DispatchConfig      `yaml:"dispatch"`
	Providers []RawProviderConfig `yaml:"providers"`
	Logging   LogConfig           `yaml:"logging"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	Tracing   TracingConfig       `yaml:"tracing"`
	Usage     UsageConfig         `yaml:"usage"`
	Probe     ProbeConfig         `yaml:"probe"`
	HTTP      HTTPConfig          `yaml:"http"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string `yaml:"port"`
	BodyLimit string `yaml:"body_limit"`
	// SwaggerEnabled serves the OpenAPI document at /swagger/doc.json
	SwaggerEnabled bool `yaml:"swagger_enabled"`
}

// DispatchConfig holds fallback and health tracking settings
type DispatchConfig struct {
	// Strategy is one of priority, round-robin, random
	Strategy string `yaml:"strategy"`

	// CircuitThreshold is the consecutive error count a provider may reach; one more opens its circuit
	CircuitThreshold int `yaml:"circuit_threshold"`

	// RateWindow is the rolling window over which each provider's rate_limit applies
	RateWindow time.Duration `yaml:"rate_window"`

	// Deadline bounds a whole dispatch. Zero means no overall deadline.
	Deadline time.Duration `yaml:"deadline"`

	// Seed makes the random strategy reproducible. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// RawProviderConfig is the provider entry as written in the config file.
// Pointer fields distinguish "unset" from an explicit zero so defaults only
// fill the gaps.
type RawProviderConfig struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Priority   *int           `yaml:"priority"`
	Enabled    *bool          `yaml:"enabled"`
	RateLimit  *int           `yaml:"rate_limit"`
	Timeout    *time.Duration `yaml:"timeout"`
	MaxRetries *int           `yaml:"max_retries"`
	Models     []string       `yaml:"models"`
	BaseURL    string         `yaml:"base_url"`
	// Credential is a reference such as env:OPENAI_API_KEY or file:/run/secrets/key
	Credential string `yaml:"credential"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	// Format is json, pretty or auto
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// UsageConfig holds usage accounting configuration
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Store         string        `yaml:"store"` // memory or redis
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the usage store
type RedisConfig struct {
	URL string        `yaml:"url"`
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`
}

// ProbeConfig holds out-of-band status probing configuration
type ProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HTTPConfig holds the shared upstream HTTP client settings
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default values applied by buildDefaultConfig
const (
	DefaultPort             = "8080"
	DefaultStrategy         = "priority"
	DefaultCircuitThreshold = 5
	DefaultRateWindow       = 60 * time.Second
	DefaultProbeSchedule    = "@every 30s"
)

// knownProviderEnvs maps well-known provider names to their environment variables.
// Used for auto-discovery only when the config file lists no providers.
var knownProviderEnvs = []struct {
	name       string
	apiKeyEnv  string
	baseURLEnv string
	priority   int
	models     []string
}{
	{"openai", "OPENAI_API_KEY", "OPENAI_BASE_URL", 1, []string{"gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"}},
	{"anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", 2, []string{"claude-3-5-sonnet-latest", "claude-3-opus-latest", "claude-3-haiku-20240307"}},
	{"gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL", 3, []string{"gemini-2.0-flash", "gemini-1.5-pro"}},
	{"ollama", "", "OLLAMA_BASE_URL", 4, nil},
}

// Load reads configuration from the optional YAML file at path, the optional
// .env file in the working directory and the process environment.
//
// Precedence, lowest first: defaults, YAML file, environment overrides.
func Load(path string) (*Config, error) {
	// .env is optional and never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return nil, core.NewConfigError("failed to parse config file: " + err.Error())
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = discoverProviders()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildDefaultConfig returns the configuration used when nothing else is set
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      DefaultPort,
			BodyLimit: "1M",
		},
		Dispatch: DispatchConfig{
			Strategy:         DefaultStrategy,
			CircuitThreshold: DefaultCircuitThreshold,
			RateWindow:       DefaultRateWindow,
		},
		Logging: LogConfig{
			Format: "auto",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "llmrelay",
			SampleRatio: 1.0,
		},
		Usage: UsageConfig{
			Enabled:       true,
			Store:         "memory",
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			BatchSize:     100,
			Redis: RedisConfig{
				Key: "llmrelay:usage",
				TTL: 24 * time.Hour,
			},
		},
		Probe: ProbeConfig{
			Enabled:  true,
			Schedule: DefaultProbeSchedule,
			Timeout:  5 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout: 600 * time.Second,
		},
	}
}

// applyEnvOverrides overlays well-known environment variables onto cfg
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SWAGGER_ENABLED"); v != "" {
		cfg.Server.SwaggerEnabled = parseBool(v)
	}
	if v := os.Getenv("DISPATCH_STRATEGY"); v != "" {
		cfg.Dispatch.Strategy = v
	}
	if v := os.Getenv("DISPATCH_CIRCUIT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return core.NewConfigError("DISPATCH_CIRCUIT_THRESHOLD: " + err.Error())
		}
		cfg.Dispatch.CircuitThreshold = n
	}
	if v := os.Getenv("DISPATCH_RATE_WINDOW"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return core.NewConfigError("DISPATCH_RATE_WINDOW: " + err.Error())
		}
		cfg.Dispatch.RateWindow = d
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("USAGE_ENABLED"); v != "" {
		cfg.Usage.Enabled = parseBool(v)
	}
	if v := os.Getenv("USAGE_STORE"); v != "" {
		cfg.Usage.Store = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Usage.Redis.URL = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return core.NewConfigError("HTTP_TIMEOUT: " + err.Error())
		}
		cfg.HTTP.Timeout = d
	}
	return nil
}

// discoverProviders builds provider entries from well-known environment variables.
// Entries carry env: references, never the secret itself.
func discoverProviders() []RawProviderConfig {
	var discovered []RawProviderConfig
	for _, kp := range knownProviderEnvs {
		baseURL := os.Getenv(kp.baseURLEnv)
		var credential string
		if kp.apiKeyEnv != "" {
			if os.Getenv(kp.apiKeyEnv) == "" {
				continue
			}
			credential = "env:" + kp.apiKeyEnv
		} else if baseURL == "" {
			continue
		}

		priority := kp.priority
		discovered = append(discovered, RawProviderConfig{
			Name:       kp.name,
			Type:       kp.name,
			Priority:   &priority,
			Models:     kp.models,
			BaseURL:    baseURL,
			Credential: credential,
		})
	}
	return discovered
}

// Validate checks the static configuration for errors that must stop startup
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return core.NewConfigError("server.port is required")
	}
	if c.Dispatch.CircuitThreshold <= 0 {
		return core.NewConfigError("dispatch.circuit_threshold must be positive")
	}
	if c.Dispatch.RateWindow <= 0 {
		return core.NewConfigError("dispatch.rate_window must be positive")
	}
	if c.Dispatch.Deadline < 0 {
		return core.NewConfigError("dispatch.deadline must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return core.NewConfigError(fmt.Sprintf("providers[%d]: name is required", i))
		}
		if _, dup := seen[p.Name]; dup {
			return core.NewConfigError(fmt.Sprintf("providers[%d]: duplicate provider name %q", i, p.Name))
		}
		seen[p.Name] = struct{}{}
		if p.Type == "" {
			return core.NewConfigError(fmt.Sprintf("provider %q: type is required", p.Name))
		}
		if p.Timeout != nil && *p.Timeout <= 0 {
			return core.NewConfigError(fmt.Sprintf("provider %q: timeout must be positive", p.Name))
		}
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			return core.NewConfigError(fmt.Sprintf("provider %q: max_retries must not be negative", p.Name))
		}
	}

	switch c.Usage.Store {
	case "memory":
	case "redis":
		if c.Usage.Enabled && c.Usage.Redis.URL == "" {
			return core.NewConfigError("usage.redis.url is required when usage.store is redis")
		}
	default:
		return core.NewConfigError(fmt.Sprintf("usage.store %q is not supported", c.Usage.Store))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "json", "pretty", "text":
	default:
		return core.NewConfigError(fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} placeholders with environment values.
// Unresolved placeholders without a default are left in place.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

// parseDuration accepts plain integers as seconds or Go duration strings
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
