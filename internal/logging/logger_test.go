package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*SpadevLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf}), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarn)
	ctx := context.Background()

	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, nil, "warn message")
	logger.Error(ctx, errors.New("boom"), "error message")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn message", lines[0]["msg"])
	assert.Equal(t, "error message", lines[1]["msg"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestFatalLevelKeepsErrors(t *testing.T) {
	logger, buf := newBufferLogger(LevelFatal)
	ctx := context.Background()

	logger.Info(ctx, "info message")
	logger.Warn(ctx, nil, "warn message")
	logger.Error(ctx, errors.New("boom"), "error message")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error message", lines[0]["msg"])
}

func TestWithFieldsAndComponent(t *testing.T) {
	base, buf := newBufferLogger(LevelDebug)
	logger := WithRequestID(base.WithComponent("proxy").With("path", "/about"), "req-1")

	logger.Info(context.Background(), "forwarded", "status", 200)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "proxy", line["component"])
	assert.Equal(t, "/about", line["path"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.EqualValues(t, 200, line["status"])
}

func TestWithDoesNotMutateParent(t *testing.T) {
	base, buf := newBufferLogger(LevelInfo)
	_ = base.With("extra", "value")

	base.Info(context.Background(), "plain")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	_, found := lines[0]["extra"]
	assert.False(t, found)
}

func TestPerfLogger(t *testing.T) {
	base, buf := newBufferLogger(LevelInfo)
	ctx := context.Background()

	StartOperation(base, "assemble").End(ctx)
	StartOperation(base, "stage").EndWithError(ctx, errors.New("copy failed"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "assemble", lines[0]["operation"])
	assert.Contains(t, lines[0], "duration_ms")
	assert.Equal(t, "Operation failed", lines[1]["msg"])
	assert.Equal(t, "copy failed", lines[1]["error"])
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), errors.New("x"), "dropped")
	})
}

func TestFieldsKeepTheirOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "text", Output: &buf, Component: "lifecycle"})

	logger.With("b", 1, "a", 2).Info(context.Background(), "ordered", "c", 3, "dangling")

	out := buf.String()
	assert.Regexp(t, `component=lifecycle b=1 a=2 c=3\n$`, out)
	assert.NotContains(t, out, "dangling")
}

func TestFatalLevelSilencesEverything(t *testing.T) {
	logger, buf := newBufferLogger(LevelFatal)
	logger.Error(context.Background(), errors.New("boom"), "dropped")
	assert.Empty(t, buf.String())
}
