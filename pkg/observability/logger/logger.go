// Package logger provides the structured logger used by configuration
// resolution, backends and the CLI.
package logger

import (
	"context"
)

// Logger is a leveled, structured logger. Every method takes a message followed
// by alternating key-value pairs.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the fields stored in ctx by ContextWithFields.
	WithContext(ctx context.Context) Logger
}

type contextFieldsKey struct{}

// ContextWithFields attaches key-value pairs to ctx so that loggers derived
// with WithContext include them, e.g. the locator being fetched.
func ContextWithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	existing := FieldsFromContext(ctx)
	merged := make([]any, 0, len(existing)+len(args))
	merged = append(merged, existing...)
	merged = append(merged, args...)
	return context.WithValue(ctx, contextFieldsKey{}, merged)
}

// FieldsFromContext returns the key-value pairs stored by ContextWithFields.
func FieldsFromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(contextFieldsKey{}).([]any)
	return fields
}
