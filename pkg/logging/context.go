package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey struct{}

// WithLogger returns a new context with the logger attached.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger attached to the context, or the default
// logger if none is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(contextKey{}).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}
