package setup

import (
	"log/slog"
	"os"
	"sync"
)

var (
	suiteLogger     *slog.Logger
	suiteLoggerOnce sync.Once
)

// SuiteLogger returns the shared suite logger. E2E_VERBOSE=1 adds debug output.
func SuiteLogger() *slog.Logger {
	suiteLoggerOnce.Do(func() {
		level := slog.LevelInfo
		if getenvBool("E2E_VERBOSE") {
			level = slog.LevelDebug
		}
		suiteLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
			With("suite", "odoonova-e2e")
	})
	return suiteLogger
}
