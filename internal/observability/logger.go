// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is json or console.
	Format string `mapstructure:"format"`

	// Output is stdout or stderr.
	Output string `mapstructure:"output"`

	TimeFormat string `mapstructure:"time_format"`
}

// DefaultLoggingConfig logs JSON at info to stderr, keeping stdout free
// for command results.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a zerolog logger from configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return NewLoggerTo(output, cfg)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) zerolog.Logger {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent tags a logger with the emitting component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithRunContext adds the pipeline run id.
func WithRunContext(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}
