// Package logging provides categorized structured logging for mindloop.
// Each category writes JSON lines to its own file under <home>/logs/ via a
// zap core; when logging is disabled (the default) every call is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a log stream/system.
type Category string

const (
	CategoryRun        Category = "run"        // batch orchestration
	CategoryHands      Category = "hands"      // execution agent subprocess
	CategoryMind       Category = "mind"       // judgment service calls
	CategoryStore      Category = "store"      // thought db / evidence log
	CategoryCheckpoint Category = "checkpoint" // segment tracking, mining
	CategoryRecall     Category = "recall"     // text index
	CategoryCLI        Category = "cli"        // command surface
)

// Options controls logger construction.
type Options struct {
	Enabled    bool
	Level      zapcore.Level
	Categories map[string]bool // nil means all enabled
}

var (
	mu      sync.RWMutex
	logsDir string
	opts    Options
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize sets the logs directory and options. Safe to call once at
// startup; a disabled configuration makes every logger a no-op.
func Initialize(homeDir string, o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	loggers = make(map[Category]*zap.SugaredLogger)
	if !o.Enabled {
		logsDir = ""
		return nil
	}
	if homeDir == "" {
		return fmt.Errorf("logging: home dir required")
	}
	logsDir = filepath.Join(homeDir, "logs")
	return os.MkdirAll(logsDir, 0o755)
}

// Get returns the logger for a category, creating it on first use.
// Disabled categories get a no-op logger.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	enabled := opts.Enabled && logsDir != ""
	if enabled && opts.Categories != nil {
		if on, present := opts.Categories[string(category)]; present && !on {
			enabled = false
		}
	}
	mu.RUnlock()

	if !enabled {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", path, err)
		l := zap.NewNop().Sugar()
		loggers[category] = l
		return l
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "lvl",
		MessageKey:     "msg",
		NameKey:        "cat",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(f), opts.Level)
	l := zap.New(core).Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Timer measures an operation and logs its duration at debug level.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the elapsed duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugw(t.op+" completed", "elapsed", elapsed)
	return elapsed
}

// Sync flushes all open loggers. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
}
