package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Format: "json", Timestamp: true, Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"DEBUG":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitJSON(t *testing.T) {
	buf := capture(t, "info")

	Info().Str("b_number", "+19876543210").Msg("alert created")
	m := lastEntry(t, buf)
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "alert created", m["message"])
	assert.Equal(t, "+19876543210", m["b_number"])
	assert.Contains(t, m, "time")

	buf.Reset()
	Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}

func TestWithChild(t *testing.T) {
	buf := capture(t, "debug")

	l := With().Str("component", "bus").Logger()
	l.Debug().Msg("subscribed")
	m := lastEntry(t, buf)
	assert.Equal(t, "bus", m["component"])
}

func TestSlogBridge(t *testing.T) {
	buf := capture(t, "info")

	logger := NewSlog().With("service", "cleanup").WithGroup("supervisor")
	logger.Warn("service failed", "attempt", 3, "err", errors.New("boom"), slog.Group("backoff", "seconds", 15))

	m := lastEntry(t, buf)
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "service failed", m["message"])
	assert.Equal(t, "cleanup", m["service"])
	assert.Equal(t, float64(3), m["supervisor.attempt"])
	assert.Equal(t, "boom", m["supervisor.err"])
	assert.Equal(t, float64(15), m["supervisor.backoff.seconds"])

	buf.Reset()
	logger.Debug("not shown")
	assert.Empty(t, buf.String())
	assert.False(t, NewSlogHandler().Enabled(t.Context(), slog.LevelDebug))
}
