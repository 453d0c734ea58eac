package log

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"

	"dexaccess/internal/logging"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
	setupErr    error
	closer      *logging.LoggerCloser
)

// Setup installs the process logger at the given level. Only the first call
// has any effect; later calls return the first call's error and change
// nothing, including when they race with it.
func Setup(level string) error {
	initOnce.Do(func() {
		lc, err := logging.NewLogger(level)
		setupErr = err
		closer = lc

		charmlog.SetDefault(lc.Logger)
		slog.SetDefault(slog.New(lc.Logger))
		initialized.Store(true)
		if err != nil {
			lc.Warn("falling back to info", "err", err)
		}
	})
	return setupErr
}

func Initialized() bool {
	return initialized.Load()
}

// Close releases the log file opened when DEXACCESS_LOG_TO_FILE is set.
func Close() error {
	if !Initialized() || closer == nil {
		return nil
	}
	return closer.Close()
}

func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		if Initialized() {
			slog.Error(fmt.Sprintf("Panic in %s", name),
				"panic", r,
				"stack", string(debug.Stack()))
		}
		if cleanup != nil {
			cleanup()
		}
	}
}
