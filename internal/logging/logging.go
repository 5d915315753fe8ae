// Package logging provides structured, component-scoped logging for Engram.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is a logging verbosity level, mirrored from the zerolog levels
// Engram's config surface is allowed to name.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the process-wide logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Base is the process-wide logger. Init replaces it; WithComponent
// derives a child logger carrying a "component" field.
var Base zerolog.Logger

func init() {
	Base = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures the process-wide logger from cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Base = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Base = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the given component name,
// e.g. "sqlite", "embedding-worker", "salience-sweep".
func WithComponent(component string) zerolog.Logger {
	return Base.With().Str("component", component).Logger()
}
