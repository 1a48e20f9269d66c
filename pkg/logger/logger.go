package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the process logger.
// local/dev get debug level and a text handler; everything else gets JSON at info.
func New(appEnv, service string) *slog.Logger {
	return newWithWriter(os.Stdout, appEnv, service)
}

func newWithWriter(w io.Writer, appEnv, service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var h slog.Handler
	switch appEnv {
	case "local", "dev":
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	l := slog.New(h)
	if service != "" {
		l = l.With("service", service)
	}
	return l
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
