package vm

import (
	"os"

	"github.com/rs/zerolog"
)

// NewConsoleLogger returns a human-readable zerolog logger writing to
// stderr, for interactive use (cmd/wispdemo). Engines embedded in a larger
// service should instead pass their own zerolog.Logger via WithLogger.
func NewConsoleLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
