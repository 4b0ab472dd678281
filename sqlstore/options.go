package sqlstore

import "github.com/velmie/offsync"

// Config defines Store behavior.
type Config struct {
	// Logger receives every generated statement at debug level.
	Logger offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures the Store.
type Option func(*Config)

// WithLogger sets the statement logger.
func WithLogger(logger offsync.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
