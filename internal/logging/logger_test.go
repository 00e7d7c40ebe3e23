package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.WithRequestID("req-1").WithFields("nodes", 3).Info("compiled")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "compiled", record["msg"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.EqualValues(t, 3, record["nodes"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Output: &buf})
	logger.Debug("edge dropped", slog.String("edge", "e3"))

	assert.Contains(t, buf.String(), "msg=\"edge dropped\"")
	assert.Contains(t, buf.String(), "edge=e3")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFanoutRespectsEachLevel(t *testing.T) {
	var verbose, quiet bytes.Buffer
	handler := fanout{
		slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(handler).With("component", "compiler").WithGroup("graph")

	logger.Debug("node skipped", "id", "n3")
	logger.Warn("edge dropped", "id", "e2")

	assert.Contains(t, verbose.String(), "node skipped")
	assert.Contains(t, verbose.String(), "graph.id=e2")
	assert.NotContains(t, quiet.String(), "node skipped")
	assert.Contains(t, quiet.String(), "component=compiler")
	assert.Contains(t, quiet.String(), "graph.id=e2")
	assert.False(t, handler.Enabled(context.Background(), slog.LevelDebug-1))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx))
	assert.Empty(t, GetRequestID(ctx))

	logger := Discard()
	ctx = WithLogger(ctx, logger)
	ctx = WithRequestIDContext(ctx, "abc")
	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "abc", GetRequestID(ctx))
}
