package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())

	return entry
}

func newTestLogger(buf *bytes.Buffer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(NewTraceHandler(slog.NewJSONHandler(buf, opts)))
}

func TestTraceHandler_NoContextValues(t *testing.T) {
	var buf bytes.Buffer

	newTestLogger(&buf, nil).InfoContext(context.Background(), "scan finished", "files", 3)

	entry := decodeRecord(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "cycle_id")
	assert.Equal(t, "scan finished", entry["msg"])
	assert.EqualValues(t, 3, entry["files"])
}

func TestTraceHandler_CycleID(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithCycleID(context.Background(), "c0ffee")
	newTestLogger(&buf, nil).InfoContext(ctx, "plan ready")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "c0ffee", entry["cycle_id"])
	assert.Equal(t, "c0ffee", CycleID(ctx))
	assert.Empty(t, CycleID(context.Background()))
}

func TestTraceHandler_WithValidSpan(t *testing.T) {
	var buf bytes.Buffer

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	newTestLogger(&buf, nil).InfoContext(ctx, "download complete", "filename", "c.txt")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "c.txt", entry["filename"])
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "downloader")})
	_, ok := withAttrs.(*TraceHandler)
	assert.True(t, ok, "WithAttrs should return *TraceHandler, got %T", withAttrs)

	withGroup := withAttrs.WithGroup("session")
	_, ok = withGroup.(*TraceHandler)
	assert.True(t, ok, "WithGroup should return *TraceHandler, got %T", withGroup)

	slog.New(withGroup).InfoContext(WithCycleID(context.Background(), "abc"), "progress", "percent", 10)

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "downloader", entry["component"])
	assert.Contains(t, entry, "session")
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithAttrs(WithLogger(context.Background(), logger), "filename", "a.txt")

	LoggerFromContext(ctx).Info("moved")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "a.txt", entry["filename"])
	assert.Equal(t, slog.Default(), LoggerFromContext(context.Background()))
}
