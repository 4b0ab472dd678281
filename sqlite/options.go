package sqlite

import (
	"time"

	"github.com/velmie/offsync"
)

const defaultBusyTimeout = 5 * time.Second

// Config defines how the database is opened.
type Config struct {
	BusyTimeout time.Duration
	Logger      offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures Open.
type Option func(*Config)

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = d
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(logger offsync.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
