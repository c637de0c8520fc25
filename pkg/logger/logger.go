package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures New. The zero value logs JSON at info level to stdout.
type Options struct {
	// Env is APP_ENV. local and dev default to debug level.
	Env string
	// Level overrides the env default when set (debug, info, warn, error).
	Level string
	// Service is attached to every line so api and billingctl output can be
	// told apart once shipped to the same sink.
	Service string
	// Writer defaults to stdout. CLIs that print results on stdout log to
	// stderr instead.
	Writer io.Writer
}

// New returns a JSON slog logger. An unparsable Level falls back to the env
// default; config validation rejects it before this point.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Env == "local" || opts.Env == "dev" {
		level = slog.LevelDebug
	}
	if opts.Level != "" {
		if l, err := ParseLevel(opts.Level); err == nil {
			level = l
		}
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	if opts.Service != "" {
		l = l.With("service", opts.Service)
	}
	if opts.Env != "" {
		l = l.With("env", opts.Env)
	}
	return l
}

// ParseLevel accepts debug, info, warn (or warning) and error, case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// WithAttrs derives the context logger with extra attributes, e.g. the scope
// of a billing pass, so everything called below it logs them too.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	return With(ctx, From(ctx).With(args...))
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
