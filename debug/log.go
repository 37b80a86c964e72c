package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies the subsystem a log record originates from.
type Component string

const (
	ComponentSDHost Component = "sdhost"
	ComponentSim    Component = "sdsim"
	ComponentSDImg  Component = "sdimg"
	ComponentTest   Component = "testrun"
)

var (
	level = new(slog.LevelVar)

	mu     sync.RWMutex
	logger *slog.Logger
)

func init() {
	level.Set(slog.LevelWarn)
	logger = NewLogger(os.Stderr)
}

// NewLogger returns a text logger writing to w that honours the level set by
// SetLevel.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum level of records emitted by the default logger.
func SetLevel(l slog.Level) { level.Set(l) }

// Level returns the current minimum log level.
func Level() slog.Level { return level.Level() }

// SetLogger replaces the logger used by the Log functions.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the logger used by the Log functions.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func log(l slog.Level, c Component, msg string, args []any) {
	lg := Logger()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	lg.Log(context.Background(), l, msg, append([]any{"component", string(c)}, args...)...)
}

func LogDebug(c Component, msg string, args ...any) { log(slog.LevelDebug, c, msg, args) }
func LogInfo(c Component, msg string, args ...any)  { log(slog.LevelInfo, c, msg, args) }
func LogWarn(c Component, msg string, args ...any)  { log(slog.LevelWarn, c, msg, args) }
func LogError(c Component, msg string, args ...any) { log(slog.LevelError, c, msg, args) }
