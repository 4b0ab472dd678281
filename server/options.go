package server

import (
	"context"

	"github.com/velmie/offsync"
)

const (
	// DefaultChangelogTable is the change log table name.
	DefaultChangelogTable = "_sync_changelog"
	defaultPageSize       = 500
)

// Publisher announces accepted changes so other clients can sync early.
type Publisher interface {
	Publish(ctx context.Context, note offsync.Notification) error
}

// Config defines Receiver behavior.
type Config struct {
	ChangelogTable string
	// PageSize caps the remote changes returned per push.
	PageSize  int
	Publisher Publisher
	Clock     offsync.Clock
	Logger    offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.ChangelogTable == "" {
		c.ChangelogTable = DefaultChangelogTable
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.Clock == nil {
		c.Clock = offsync.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures a Receiver.
type Option func(*Config)

// WithChangelogTable overrides the change log table name.
func WithChangelogTable(name string) Option {
	return func(c *Config) {
		c.ChangelogTable = name
	}
}

// WithPageSize caps the remote changes returned per push.
func WithPageSize(n int) Option {
	return func(c *Config) {
		c.PageSize = n
	}
}

// WithPublisher sets the notification publisher.
func WithPublisher(p Publisher) Option {
	return func(c *Config) {
		c.Publisher = p
	}
}

// WithClock sets the time source for change log entries.
func WithClock(clock offsync.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger offsync.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
