// Package logging configures the process-wide zerolog setup. Components
// never log through a global; they receive a child logger tagged with
// their component name.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, format and destination.
type Config struct {
	Level  string `yaml:"level" default:"info" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Format string `yaml:"format" default:"json" validate:"omitempty,oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// New builds the root logger. Output is "stdout", "stderr" or a file path
// (opened append-only).
func New(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("open log file: %w", err)
		}
		output = f
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("comp", name).Logger()
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger { return zerolog.Nop() }
