// Package buildlog carries the zerolog logger through contexts.
package buildlog

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logKey struct{}

// Log returns the logger attached to ctx or the global logger if there is none
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		return &log.Logger
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// WithTask returns a context whose logger tags every message with the given task name
func WithTask(ctx context.Context, task string) context.Context {
	logger := Log(ctx).With().Str("task", task).Logger()
	return WithLogger(ctx, &logger)
}
