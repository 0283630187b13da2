// Package artemislog provides structured logging built on zerolog,
// context-carried loggers keyed by run/card correlation IDs, and an
// EventBus observer that mirrors every pipeline/stage/campaign event
// into the log at a severity matched to its kind.
package artemislog

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// Options configures a root Logger.
type Options struct {
	Writer        io.Writer // defaults to os.Stderr
	Level         string    // zerolog level name; defaults to "info"
	HumanReadable bool      // force a console writer regardless of TTY detection
	Component     string    // e.g. "orchestrator", "supervisor", "campaign"
}

// New builds a root zerolog.Logger from Options. When Writer is a TTY
// (or HumanReadable is set), output uses zerolog's console writer;
// otherwise it emits newline-delimited JSON, the default for
// production log aggregation.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Logger{}, err
		}
		level = parsed
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	human := opts.HumanReadable
	if f, ok := w.(*os.File); ok && !human {
		human = isatty.IsTerminal(f.Fd())
	}
	if human {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if opts.Component != "" {
		logger = logger.With().Str("component", opts.Component).Logger()
	}
	return logger, nil
}

// WithContext attaches logger to ctx, retrievable via FromContext.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or a disabled
// zerolog.Nop() logger (a safe silent no-op) if none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return zerolog.Nop()
	}
	if logger, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithRunID derives a logger carrying a run_id field, for one
// Orchestrator.Run or campaign.Runner.Run invocation.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithCardID derives a logger carrying a card_id field.
func WithCardID(logger zerolog.Logger, cardID string) zerolog.Logger {
	return logger.With().Str("card_id", cardID).Logger()
}
