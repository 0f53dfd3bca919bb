// Package logging provides the shared zap logger for voiceloom.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the global sugared logger and redirects the standard library
// logger into zap so all output is unified. Debug logging is enabled by the
// verbose flag or LOG_LEVEL=debug. Safe to call multiple times; only the
// first call configures anything.
func Init(verbose bool) *zap.SugaredLogger {
	once.Do(func() {
		var logger *zap.Logger
		if verbose || strings.ToLower(os.Getenv("LOG_LEVEL")) == "debug" {
			l, _ := zap.NewDevelopment()
			logger = l
		} else {
			l, _ := zap.NewProduction()
			logger = l
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

// Sugar returns the initialized sugared logger. Call Init first.
func Sugar() *zap.SugaredLogger { return sugar }
