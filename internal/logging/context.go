package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	loggerKey contextKey = "logger"
)

// NewRunID returns a short identifier for one job or sync run.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// WithRunID stores a run id in the context; loggers from Ctx carry it.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run id or "".
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is passed by value by design of the library
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Ctx returns the logger stored in ctx, or the global logger, annotated with
// the run id when one is present.
func Ctx(ctx context.Context) *zerolog.Logger {
	var l zerolog.Logger
	if stored, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = stored
	} else {
		l = Logger()
	}
	if id := RunIDFromContext(ctx); id != "" {
		l = l.With().Str("run_id", id).Logger()
	}
	return &l
}
