package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "string without placeholders",
			input:    "simple-string",
			expected: "simple-string",
		},
		{
			name:     "simple variable expansion",
			input:    "${RELAY_TEST_KEY}",
			envVars:  map[string]string{"RELAY_TEST_KEY": "sk-12345"},
			expected: "sk-12345",
		},
		{
			name:     "multiple variables",
			input:    "${RELAY_SCHEME}://${RELAY_HOST}:${RELAY_PORT}",
			envVars:  map[string]string{"RELAY_SCHEME": "https", "RELAY_HOST": "api.example.com", "RELAY_PORT": "8080"},
			expected: "https://api.example.com:8080",
		},
		{
			name:     "default value - env var missing",
			input:    "${RELAY_TEST_KEY:-default-key}",
			expected: "default-key",
		},
		{
			name:     "default value - env var empty",
			input:    "${RELAY_TEST_KEY:-default-key}",
			envVars:  map[string]string{"RELAY_TEST_KEY": ""},
			expected: "default-key",
		},
		{
			name:     "default value with colon in it",
			input:    "${RELAY_URL:-http://localhost:8080}",
			expected: "http://localhost:8080",
		},
		{
			name:     "unresolved variable - no default",
			input:    "${RELAY_MISSING_VAR}",
			expected: "${RELAY_MISSING_VAR}",
		},
		{
			name:     "mixed resolved and unresolved with defaults",
			input:    "${RELAY_RESOLVED}:${RELAY_UNRESOLVED:-fallback}:${RELAY_MISSING}",
			envVars:  map[string]string{"RELAY_RESOLVED": "value1"},
			expected: "value1:fallback:${RELAY_MISSING}",
		},
		{
			name:     "empty default value",
			input:    "${RELAY_OPTIONAL:-}",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			result := expandString(tt.input)
			if result != tt.expected {
				t.Errorf("expandString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "PORT override",
			envVars: map[string]string{"PORT": "3000"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "3000", cfg.Server.Port)
			},
		},
		{
			name: "dispatch overrides",
			envVars: map[string]string{
				"DISPATCH_STRATEGY":          "round-robin",
				"DISPATCH_CIRCUIT_THRESHOLD": "7",
				"DISPATCH_RATE_WINDOW":       "90",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "round-robin", cfg.Dispatch.Strategy)
				assert.Equal(t, 7, cfg.Dispatch.CircuitThreshold)
				assert.Equal(t, 90*time.Second, cfg.Dispatch.RateWindow)
			},
		},
		{
			name:    "duration string",
			envVars: map[string]string{"HTTP_TIMEOUT": "2m"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2*time.Minute, cfg.HTTP.Timeout)
			},
		},
		{
			name: "usage and observability toggles",
			envVars: map[string]string{
				"USAGE_STORE":      "redis",
				"REDIS_URL":        "redis://localhost:6379",
				"METRICS_ENABLED":  "false",
				"TRACING_ENABLED":  "true",
				"TRACING_ENDPOINT": "localhost:4318",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.Usage.Store)
				assert.Equal(t, "redis://localhost:6379", cfg.Usage.Redis.URL)
				assert.False(t, cfg.Metrics.Enabled)
				assert.True(t, cfg.Tracing.Enabled)
				assert.Equal(t, "localhost:4318", cfg.Tracing.Endpoint)
			},
		},
		{
			name:    "invalid threshold",
			envVars: map[string]string{"DISPATCH_CIRCUIT_THRESHOLD": "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := buildDefaultConfig()
			err := applyEnvOverrides(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestBuildDefaultConfig(t *testing.T) {
	cfg := buildDefaultConfig()

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "priority", cfg.Dispatch.Strategy)
	assert.Equal(t, 5, cfg.Dispatch.CircuitThreshold)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.RateWindow)
	assert.Zero(t, cfg.Dispatch.Deadline)
	assert.Equal(t, "memory", cfg.Usage.Store)
	assert.Equal(t, "@every 30s", cfg.Probe.Schedule)
	assert.Empty(t, cfg.Providers)
	require.NoError(t, cfg.Validate())
}
