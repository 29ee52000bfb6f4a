package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "TELEMD_LOG_LEVEL"
	EnvLogFormat  = "TELEMD_LOG_FORMAT"
	EnvLogNoColor = "TELEMD_LOG_NOCOLOR"
)

type Config struct {
	Level   string
	Format  string
	NoColor bool
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// New builds the process logger and installs it as zerolog's global one.
// Env overrides win over cfg.
func New(w io.Writer, app string, cfg Config) zerolog.Logger {
	applyEnvOverrides(&cfg)

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	out := w
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ConfigureTests returns a quiet logger for tests: warnings and up only,
// no colors, no timestamps.
func ConfigureTests(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}}).
		Level(zerolog.WarnLevel)
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel understands the usual level names plus "off".
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
