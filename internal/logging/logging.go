// Package logging builds the zerolog root logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger output.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console writer instead of JSON
	Output io.Writer
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// New creates the root logger.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Component derives a child logger tagged with a component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
