// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides structured, component-scoped logging built on
// log/slog, with an optional syslog forwarding sink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// Level mirrors slog.Level so callers don't need to import log/slog
// directly for the common cases.
type Level int

const (
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// Config controls how a Logger renders and where it writes.
type Config struct {
	Output io.Writer
	Level  Level
	// JSON selects slog.JSONHandler over slog.TextHandler.
	JSON bool
}

// DefaultConfig returns the logging configuration used when no explicit
// Config is supplied: text output to stderr at Info level.
func DefaultConfig() Config {
	return Config{Output: os.Stderr, Level: LevelInfo}
}

// Logger wraps slog.Logger with the component-scoped helpers used
// throughout the control plane.
type Logger struct {
	slog *slog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slog.Level(cfg.Level)}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{slog: slog.New(h)}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// Default returns the process-wide default Logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide default Logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// WithComponent returns a Logger scoped to the named component, derived
// from the process default.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// WithComponent returns a derived Logger tagging all records with
// component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{slog: l.slog.With("component", name)}
}

// WithError returns a derived Logger tagging all records with err. A
// kind-tagged error (internal/errors) also surfaces its Kind and any
// Attr-attached context (iface, flow_id, ...) as their own fields,
// instead of leaving that context buried in the message string.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	kv := []any{"error", err.Error()}
	if kind := flywallerrors.GetKind(err); kind != flywallerrors.KindUnknown {
		kv = append(kv, "error_kind", kind.String())
	}
	for k, v := range flywallerrors.GetAttributes(err) {
		kv = append(kv, k, v)
	}
	return &Logger{slog: l.slog.With(kv...)}
}

// With returns a derived Logger with the given key-value pairs attached
// to every subsequent record.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{slog: l.slog.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.slog.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.slog.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.slog.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.slog.Error(msg, kv...) }

// DebugContext, InfoContext, etc. forward to slog's context-aware calls
// so handlers that extract trace/request ids from ctx still work.
func (l *Logger) DebugContext(ctx context.Context, msg string, kv ...any) {
	l.slog.DebugContext(ctx, msg, kv...)
}
func (l *Logger) InfoContext(ctx context.Context, msg string, kv ...any) {
	l.slog.InfoContext(ctx, msg, kv...)
}
func (l *Logger) WarnContext(ctx context.Context, msg string, kv ...any) {
	l.slog.WarnContext(ctx, msg, kv...)
}
func (l *Logger) ErrorContext(ctx context.Context, msg string, kv ...any) {
	l.slog.ErrorContext(ctx, msg, kv...)
}

// Slog exposes the underlying *slog.Logger for libraries that accept one
// directly (e.g. modernc.org/sqlite driver hooks).
func (l *Logger) Slog() *slog.Logger { return l.slog }
