// Package logging configures the global zerolog logger.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the level and output format.
type Config struct {
	Debug bool
	Info  bool
	// Human switches to the colored console writer.
	Human bool
	// Out defaults to os.Stderr.
	Out io.Writer
}

// Configure sets the global level and log.Logger. Without Info or Debug only
// errors are logged.
func Configure(cfg Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	if cfg.Info {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Human {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

type ctxKey struct{}

// WithRunID stores the run ID in ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RunID returns the run ID stored in ctx, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Component returns the global logger annotated with a component name and
// the run ID from ctx.
func Component(ctx context.Context, name string) zerolog.Logger {
	c := log.With().Str("component", name)
	if id := RunID(ctx); id != "" {
		c = c.Str("run_id", id)
	}
	return c.Logger()
}
