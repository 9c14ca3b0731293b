package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// sink is one named log destination: stdout, journal or the ring buffer.
type sink struct {
	name string
	slog.Handler
}

// fanout writes each record to every sink that accepts its level. A failing
// sink does not stop the rest; its error comes back tagged with its name.
type fanout []sink

// Enabled implements slog.Handler.
func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f {
		if !s.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (f fanout) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) derive(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, s := range f {
		out[i] = sink{name: s.name, Handler: fn(s.Handler)}
	}
	return out
}
