package main

import (
	"os"

	"github.com/calebsw/reforge/internal/logger"
)

// newLogger builds the process logger from the log-level and log-format
// flags. Format auto picks pretty output on a terminal and plain text
// otherwise.
func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "pretty":
		return logger.Pretty(os.Stderr, level)
	case "text":
		return logger.Text(os.Stderr, level)
	default:
		if stderrIsTTY() {
			return logger.Pretty(os.Stderr, level)
		}
		return logger.Text(os.Stderr, level)
	}
}
