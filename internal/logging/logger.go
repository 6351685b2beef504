// Package logging is the module's structured-logging surface: a single
// package-level *slog.Logger configured once at startup. Modeled on
// utkarsh5026-StoreMy's pkg/logging (a global logger behind an Init/Get
// pair with level and output configuration) rather than the teacher's bare
// log.Printf calls — this module's buffer pool, lock manager, and deadlock
// detector all need leveled, structured fields, not plain text lines.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Config selects the level and destination for the package logger.
type Config struct {
	Level  slog.Level
	Output io.Writer // defaults to os.Stderr when nil
}

// Init replaces the package logger. Safe to call concurrently; intended to
// be called once at process startup before any component logs.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level}))
}

// Get returns the current package logger.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
