// Package logger builds the service-wide zerolog logger.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Environment string // development enables the console writer
	ServiceName string
	Version     string
}

// Logger wraps zerolog.Logger so callers can take &log.Logger where a plain
// zerolog.Logger is expected (middleware, publishers).
type Logger struct {
	zerolog.Logger
}

// New creates a configured logger. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Environment == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}

	logger = logger.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: logger}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
