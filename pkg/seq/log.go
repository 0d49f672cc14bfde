package seq

import (
	"context"

	"github.com/rs/zerolog"
)

type OptionKey string

const LoggerOptionKey OptionKey = "logger_options"

// WithLogger embeds a logger in the context; the sequencer traces step
// advance, defer settlement, timeout arming and completion at Debug level.
// Without one, tracing is a no-op.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerOptionKey, logger)
}

func loggerFrom(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerOptionKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}
