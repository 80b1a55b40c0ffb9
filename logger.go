package qubedb

import (
	"io"
	"log/slog"
	"math"
	"os"
	"time"
)

// Logger is the engine's structured logging surface, a thin veneer over
// slog so callers can route records into their own handler.
type Logger struct {
	l *slog.Logger
}

// NewTextLogger logs human-readable lines to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return &Logger{l: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NewJSONLogger logs one JSON object per record to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return &Logger{l: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}
}

// NewNoopLogger discards everything.
func NewNoopLogger() *Logger {
	return &Logger{l: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))}
}

// NewSlogLogger wraps an existing slog logger.
func NewSlogLogger(l *slog.Logger) *Logger {
	return &Logger{l: l}
}

func defaultLogger() *Logger {
	return NewTextLogger(os.Stderr, slog.LevelInfo)
}

func (lg *Logger) logOpen(dir string, instanceID string) {
	lg.l.Info("database opened", "dir", dir, "instance", instanceID)
}

func (lg *Logger) logRecovery(records int, fromLSN uint64, took time.Duration) {
	lg.l.Info("recovery complete", "records", records, "from_lsn", fromLSN, "took", took)
}

func (lg *Logger) logCheckpoint(lsn uint64, took time.Duration) {
	lg.l.Info("checkpoint complete", "lsn", lsn, "took", took)
}

func (lg *Logger) logCheckpointError(err error) {
	lg.l.Error("checkpoint failed", "error", err)
}

func (lg *Logger) logClose(dir string) {
	lg.l.Info("database closed", "dir", dir)
}
