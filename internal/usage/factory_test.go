package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/config"
)

func TestNew_Disabled(t *testing.T) {
	res, err := New(context.Background(), &config.Config{}, nil)
	require.NoError(t, err)

	assert.IsType(t, NoopLogger{}, res.Logger)
	assert.Nil(t, res.Store)
	assert.NoError(t, res.Close())
}

func TestNew_Memory(t *testing.T) {
	cfg := &config.Config{Usage: config.UsageConfig{Enabled: true, Store: "memory"}}
	res, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.IsType(t, &Logger{}, res.Logger)
	assert.IsType(t, &MemoryStore{}, res.Store)

	res.Logger.Write(&Entry{Provider: "p1", Tokens: 4})
	require.NoError(t, res.Close())
	require.NoError(t, res.Close())

	totals, err := res.Store.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Totals{Requests: 1, Tokens: 4}, totals["p1"])
}

func TestNew_UnknownStore(t *testing.T) {
	cfg := &config.Config{Usage: config.UsageConfig{Enabled: true, Store: "etcd"}}
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown usage store")
}

func TestNew_RedisInvalidURL(t *testing.T) {
	cfg := &config.Config{Usage: config.UsageConfig{
		Enabled: true,
		Store:   "redis",
		Redis:   config.RedisConfig{URL: "not-a-url"},
	}}
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid redis URL")
}
