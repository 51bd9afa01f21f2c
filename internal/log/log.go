// Package log wraps zerolog behind the call shape the teacher's
// internal/vote/run.go uses (log.Info("Listen on %s", listenAddr)),
// so every call site in this repository reads exactly like the
// teacher's even though the backing implementation is structured.
package log

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

// SetLevel adjusts the minimum level that reaches the writer. Counts
// run with Info by default; cmd/stvcount exposes a --debug flag that
// calls SetLevel(zerolog.DebugLevel).
func SetLevel(level zerolog.Level) {
	logger = logger.Level(level)
}

// Info logs at info level, printf-style.
func Info(format string, a ...interface{}) {
	logger.Info().Msg(fmt.Sprintf(format, a...))
}

// Debug logs at debug level, printf-style.
func Debug(format string, a ...interface{}) {
	logger.Debug().Msg(fmt.Sprintf(format, a...))
}

// Error logs at error level, printf-style.
func Error(format string, a ...interface{}) {
	logger.Error().Msg(fmt.Sprintf(format, a...))
}
