// Package logging provides structured logging with file output support.
// It uses environment variables for configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// ParseLevel maps a level name to a charm log level. "trace" has no level
// of its own and is treated as debug. Unknown names return info and an error.
func ParseLevel(name string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// NewLoggerWithWriter creates a new logger with the provided writer. An
// empty level falls back to DEXACCESS_LOG_LEVEL.
func NewLoggerWithWriter(w io.Writer, level string) (*LoggerCloser, error) {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	if level == "" {
		level = os.Getenv("DEXACCESS_LOG_LEVEL")
	}
	lvl, err := ParseLevel(level)
	lg.SetLevel(lvl)

	// Set prefix from environment
	prefix := os.Getenv("DEXACCESS_LOG_PREFIX")
	if prefix == "" {
		prefix = "dexaccess"
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}, err
}

// NewLogger creates a new logger based on environment variables
// DEXACCESS_LOG_LEVEL: trace, debug, info, warn, error (default: info)
// DEXACCESS_LOG_PREFIX: prefix for log messages (default: "dexaccess")
// DEXACCESS_LOG_TO_FILE: when set to "1", logs to a timestamped file instead of stderr
func NewLogger(level string) (*LoggerCloser, error) {
	output := io.Writer(os.Stderr)

	if os.Getenv("DEXACCESS_LOG_TO_FILE") == "1" {
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("dexaccess-%s.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to stderr
	}

	return NewLoggerWithWriter(output, level)
}
