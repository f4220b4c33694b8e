// Package logging provides structured logging shared by cmd/ingest and
// cmd/monitor, built on zerolog the way the rest of the pipeline family does
// it (see stellar-arrow-source's logging package for the pattern this is
// adapted from).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger is a zerolog.Logger pre-tagged with a component name so
// every line from a given binary is attributable at a glance.
type ComponentLogger struct {
	logger zerolog.Logger
}

// New creates a component-specific logger. verbose raises the level to
// debug regardless of LOG_LEVEL; otherwise LOG_LEVEL (default "info")
// controls verbosity.
func New(component string, verbose bool) *ComponentLogger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("ENVIRONMENT") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		})
	}

	return &ComponentLogger{
		logger: log.With().Str("component", component).Logger(),
	}
}

func (c *ComponentLogger) Debug() *zerolog.Event { return c.logger.Debug() }
func (c *ComponentLogger) Info() *zerolog.Event  { return c.logger.Info() }
func (c *ComponentLogger) Warn() *zerolog.Event  { return c.logger.Warn() }
func (c *ComponentLogger) Error() *zerolog.Event { return c.logger.Error() }
func (c *ComponentLogger) Fatal() *zerolog.Event { return c.logger.Fatal() }

// With returns a zerolog.Context on the underlying logger for callers that
// need sub-loggers with extra fields (e.g. per-exchange, per-date context).
func (c *ComponentLogger) With() zerolog.Context { return c.logger.With() }

// Raw exposes the underlying zerolog.Logger.
func (c *ComponentLogger) Raw() zerolog.Logger { return c.logger }
