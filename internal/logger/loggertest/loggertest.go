// Package loggertest provides loggers for tests.
package loggertest

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"yolooverlay/internal/logger"
)

// New returns a Logger that writes through tb.Log.
func New(tb testing.TB) *logger.Logger {
	return logger.FromZap(zaptest.NewLogger(tb))
}
