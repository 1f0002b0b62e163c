// Copyright (c) The tunelens Authors.
// Licensed under the MIT license.

// Package logger wraps log/slog for the packages under apps/.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type Level string

const (
	Info  Level = "info"
	Err   Level = "error"
	Warn  Level = "warn"
	Debug Level = "debug"
)

// Logger writes structured log lines. A nil *Logger discards everything.
type Logger struct {
	logging *slog.Logger
}

// New wraps slogLogger. A nil slogLogger gets a text handler writing to stderr.
func New(slogLogger *slog.Logger) *Logger {
	if slogLogger == nil {
		slogLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Logger{logging: slogLogger}
}

// Discard returns a Logger that writes nothing.
func Discard() *Logger {
	return &Logger{logging: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a Logger that adds fields to every line.
func (l *Logger) With(fields ...any) *Logger {
	if l == nil || l.logging == nil {
		return l
	}
	return &Logger{logging: l.logging.With(fields...)}
}

// Log writes message at level with the given fields.
func (l *Logger) Log(ctx context.Context, level Level, message string, fields ...any) {
	if l == nil || l.logging == nil {
		return
	}
	var slogLevel slog.Level
	switch level {
	case Info:
		slogLevel = slog.LevelInfo
	case Err:
		slogLevel = slog.LevelError
	case Warn:
		slogLevel = slog.LevelWarn
	case Debug:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}
	l.logging.Log(ctx, slogLevel, message, fields...)
}

// Field creates a slog field for any value
func Field(key string, value any) any {
	return slog.Any(key, value)
}
