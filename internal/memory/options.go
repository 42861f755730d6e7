package memory

import (
	"log/slog"

	"github.com/memvra/convmem/internal/clock"
	"github.com/memvra/convmem/internal/retention"
	"github.com/memvra/convmem/internal/topics"
)

type options struct {
	clock     clock.Clock
	logger    *slog.Logger
	scheduler retention.Scheduler
	tables    *topics.Tables
}

// Option configures a Manager.
type Option func(*options)

// WithClock replaces the wall clock. Tests pass a *clock.Manual.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the base logger. Each component adds its own attribute.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithScheduler replaces the cron scheduler that drives retention.
func WithScheduler(s retention.Scheduler) Option {
	return func(o *options) {
		if s != nil {
			o.scheduler = s
		}
	}
}

// WithTables replaces the built-in keyword tables.
func WithTables(t topics.Tables) Option {
	return func(o *options) {
		o.tables = &t
	}
}
