// Package mmlog provides the leveled logging used throughout the
// allocator. Call sites look the same as a hand-rolled log.Logger
// wrapper would (Debug/Info/Error/Fatal), but the backend is zerolog so
// a disabled level costs one atomic read, not a Sprintf.
package mmlog

import (
	"os"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel adjusts the minimum level that reaches the writer.
func SetLevel(l zerolog.Level) {
	zerolog.SetGlobalLevel(l)
}

// Debug logs region-manager state transitions: splits, coalesces,
// create/delete-block, and find-free misses.
func Debug() *zerolog.Event { return base.Debug() }

// Info logs coarse lifecycle events (such as the demo harness's rpc server starting to listen).
func Info() *zerolog.Event { return base.Info() }

// Error logs recoverable failures surfaced to a caller (mmap failure, block table full).
func Error() *zerolog.Event { return base.Error() }

// Fatal logs an unreachable internal-invariant violation. Does not exit the process;
// callers decide whether to panic.
func Fatal() *zerolog.Event { return base.Error().Bool("fatal", true) }
