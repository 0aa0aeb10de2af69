package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Str("component", "test").Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"message":"hello"`)
	assert.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestInitLeavesGlobalLevel(t *testing.T) {
	before := zerolog.GlobalLevel()
	var buf bytes.Buffer
	Init(Config{Level: "disabled", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Error().Msg("dropped")
	assert.Empty(t, buf.String())
	assert.Equal(t, before, zerolog.GlobalLevel())
	assert.Equal(t, zerolog.Disabled, Logger().GetLevel())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"DEBUG":    zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSlogHandlerGroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	l := slog.New(NewSlogHandler(zerolog.New(&buf))).With("service", "sweeper").WithGroup("event")
	l.Warn("restarting", "attempt", 2)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"service":"sweeper"`)
	assert.Contains(t, out, `"event.attempt":2`)
}

func TestSlogHandlerEnabled(t *testing.T) {
	h := NewSlogHandler(zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel))
	assert.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, h.Enabled(t.Context(), slog.LevelError))
}
