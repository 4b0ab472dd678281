package wsnotify

import (
	"errors"
	"time"

	"github.com/velmie/offsync"
)

const (
	// Path is the conventional route of the hub.
	Path = "/v1/notifications"

	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// ErrURLRequired is returned when a Notifier is built without a hub URL.
var ErrURLRequired = errors.New("offsync websocket: url is required")

// Config defines Hub and Notifier behavior.
type Config struct {
	// Token is required by the Hub and sent by the Notifier as a bearer token.
	Token string
	// Buffer is the per-client queue of the Hub; notifications beyond it are dropped.
	Buffer       int
	WriteTimeout time.Duration
	Logger       offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures a Hub or Notifier.
type Option func(*Config)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Config) {
		c.Token = token
	}
}

// WithBuffer sets the per-client queue size of the Hub.
func WithBuffer(n int) Option {
	return func(c *Config) {
		c.Buffer = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger offsync.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func newConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.withDefaults()
}
