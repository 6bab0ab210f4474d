// Package logging configures the global zerolog logger and hands out the
// component loggers every contractooor package writes through.
//
// Levels are used consistently across packages:
//
//   - debug: single retry attempts, fetched pages, stored assets, gas estimates
//   - info: confirmed batches, completed runs and downloads, resumption points
//   - warn: rate limit waits, exhausted retry budgets, isolated leaf failures
//   - error: halted runs and checkpoint write failures
//
// Common fields are component, run_id, batch, operation (retry or pipeline
// name) and url (always the redacted form).
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Field names shared by every component logger.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
)

// ErrUnknownLevel is returned by ParseLevel for a level name it does not know.
var ErrUnknownLevel = errors.New("unknown log level")

// Config holds logger configuration.
type Config struct {
	// Level is a level name accepted by ParseLevel.
	Level string

	// Pretty switches from JSON lines to console output.
	Pretty bool

	// Output receives log lines. Nil writes to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: os.Stderr,
	}
}

// ParseLevel maps a level name to a zerolog level. The empty name is info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("%w %q", ErrUnknownLevel, name)
	}
}

// Setup installs the global logger described by cfg and returns it. An unknown
// level falls back to info.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	if err != nil {
		log.Warn().Err(err).Msg("Falling back to info level")
	}
	return log.Logger
}

// NewLogger returns a logger tagged with component. It captures the global
// logger at call time, so call it after Setup.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// ForRun is NewLogger with the executor run id attached, so every line of a
// resumed run can be matched with the run it continues.
func ForRun(component, runID string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Str(FieldRunID, runID).Logger()
}
