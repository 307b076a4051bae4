// Package logger configures the service's structured logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger so callers use the usual
// log.Info().Str(...).Msg(...) chain.
type Logger struct {
	zerolog.Logger
}

// Config controls logger construction.
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
}

// New builds a Logger configured for the given environment. In "production"
// it emits JSON; otherwise it emits a human-readable console writer.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var writer zerolog.ConsoleWriter
	var base zerolog.Logger
	if strings.EqualFold(cfg.Environment, "production") {
		base = zerolog.New(os.Stdout)
	} else {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(writer)
	}

	l := base.With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Logger()

	return &Logger{Logger: l}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		lvl, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.InfoLevel
		}
		return lvl
	}
}
