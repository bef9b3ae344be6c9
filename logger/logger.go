// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultFile is the log file used by Init.
const DefaultFile = "llmrt.log"

// Options controls where and how logs are written.
type Options struct {
	// File receives JSON logs. Empty writes to Output.
	File string
	// Pretty uses ConsoleWriter; ignored when File is set.
	Pretty bool
	// Level overrides the LOG_LEVEL environment variable.
	Level string
	// Output defaults to stderr so command output on stdout stays clean.
	Output io.Writer
}

// Init writes JSON logs to DefaultFile in the current directory.
func Init() (zerolog.Logger, io.Closer, error) {
	return New(Options{File: DefaultFile})
}

// New builds a logger. The returned closer releases the log file, if any.
// Log level can be configured via LOG_LEVEL environment variable (debug, info, warn, error).
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	levelName := opts.Level
	if levelName == "" {
		levelName = os.Getenv("LOG_LEVEL")
	}
	level := parseLogLevel(levelName)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var closer io.Closer = nopCloser{}

	switch {
	case opts.File != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		out = file
		closer = file
	case opts.Pretty:
		out = zerolog.ConsoleWriter{Out: out}
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if opts.File != "" {
		log.Debug().Str("path", opts.File).Str("level", level.String()).Msg("Logger initialized")
	}
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
