package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	_, ok := ParseLevel("loud")
	require.False(t, ok)
}

func TestNewJSONFormat(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "")

	var buf bytes.Buffer
	logger := New(&buf, "telemd", Config{Level: "debug", Format: "json"})
	logger.Debug().Uint64("accepted", 3).Msg("decoder stats")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "telemd", line["app"])
	require.Equal(t, "decoder stats", line["message"])
	require.EqualValues(t, 3, line["accepted"])
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")

	var buf bytes.Buffer
	logger := New(&buf, "telemd", Config{Level: "debug", Format: "console"})
	logger.Info().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Error().Msg("shown")
	require.Contains(t, buf.String(), `"shown"`)
}
