// Package applog wires the engine's structured logging. It mirrors the
// logging bootstrap used across the rest of this codebase's sibling
// services: level parsed from a string, RFC3339Nano timestamps, JSON by
// default, pretty console output for local development.
package applog

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog.Logger for the named component.
func New(component string, levelStr string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := parseLevel(levelStr)

	var out zerolog.ConsoleWriter
	useConsole := os.Getenv("DOC_ENGINE_LOG_PRETTY") == "1"

	if useConsole {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		return zerolog.New(out).Level(level).With().Timestamp().Str("component", component).Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("component", component).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
