// Package telemetry centralizes the capture engine's structured logging.
// Every backend logs through this package's Logger rather than constructing
// its own zerolog instance, so log level and output sink are configured in
// one place.
package telemetry

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.Mutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()
)

// Logger returns the process-wide engine logger.
func Logger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return &log
}

// SetOutput redirects the engine logger's sink, e.g. to a test buffer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum logged level.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(level)
}

// Component returns a child logger tagged with a component name, used by
// each backend to namespace its log lines (e.g. "wayland", "x11",
// "keystore").
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}
