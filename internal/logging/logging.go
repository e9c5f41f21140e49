// Package logging provides the zerolog setup shared by every component of
// the sync daemon.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	base    = zerolog.New(io.Discard).With().Timestamp().Logger()
	started bool
)

// Configure wires up the process-wide base logger. Call once at startup.
// When debug is true the console gets debug-level, human-readable output;
// otherwise only info-and-above go to stderr. When logPath is non-empty,
// the same records are additionally appended there as JSON lines; the
// level is set globally, so the file is filtered exactly like the console.
func Configure(debug bool, logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}

	var writers []io.Writer
	writers = append(writers, console)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	base = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	started = true
	return nil
}

// WithComponent returns a logger tagged with the given component name.
// Safe to call before Configure (falls back to a plain stderr logger), which
// keeps package-level store constructors simple.
func WithComponent(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger()
	}
	return base.With().Str("component", component).Logger()
}
