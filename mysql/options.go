package mysql

import "github.com/velmie/offsync"

// Config defines MySQL backend behavior.
type Config struct {
	// MaxOpenConns caps the pool; zero leaves the driver default.
	MaxOpenConns int
	Logger       offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures the MySQL backend.
type Option func(*Config)

// WithMaxOpenConns caps the connection pool opened by Open.
func WithMaxOpenConns(n int) Option {
	return func(c *Config) {
		c.MaxOpenConns = n
	}
}

// WithLogger sets the logger used by the store and the advisory locker.
func WithLogger(logger offsync.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
