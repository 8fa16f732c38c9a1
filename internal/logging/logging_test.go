package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "json", Out: &buf})
	require.NoError(t, err)

	logger.Info("dispatch succeeded", "provider", "p1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch succeeded", line["msg"])
	assert.Equal(t, "p1", line["provider"])
}

func TestNew_AutoFallsBackToJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Out: &buf})
	require.NoError(t, err)

	logger.Info("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "pretty", Out: &buf})
	require.NoError(t, err)

	logger.Warn("provider attempt failed", "kind", "timeout_error")

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "provider attempt failed")
	assert.Contains(t, out, "kind=timeout_error")
	assert.NotContains(t, out, "\033[", "no colors when not writing to a terminal")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "TEXT", Out: &buf})
	require.NoError(t, err)

	logger.Info("hello", "k", "v")
	assert.True(t, strings.Contains(buf.String(), "k=v"))
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Format: "json", Level: "warn", Out: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Error("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.ErrorContains(t, err, "unknown log format")

	_, err = New(Options{Level: "loud"})
	assert.ErrorContains(t, err, "unknown log level")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
