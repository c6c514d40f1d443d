// Package testhelpers provides shared test utilities.
package testhelpers

import "github.com/jonesrussell/fluentbot/internal/logger"

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() logger.Logger {
	return logger.NewNopLogger()
}
