package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "render-api"})

	log.Info("test message", "key", "value")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "render-api", entry["service"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info("dropped")
	assert.Empty(t, buf.String())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	ctx := ContextWithJobID(context.Background(), "job-1")
	ctx = ContextWithClientID(ctx, "client-9")
	ctx = ContextWithComponent(ctx, "orchestrator")
	log.FromContext(ctx).Info("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "client-9", entry["client_id"])
	assert.Equal(t, "orchestrator", entry["component"])
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})

	assert.Same(t, log, log.WithError(nil))

	log.WithError(errors.New("boom")).Error("failed")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
