// Package natsnotify carries offsync change notifications over core NATS.
//
// The server side publishes one message per accepted push; clients subscribe
// and trigger a sync cycle. Core NATS is at most once, which is enough here:
// a missed notification only delays a change until the next poll.
package natsnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/velmie/offsync"
)

// DefaultSubject is the subject notifications are published on.
const DefaultSubject = "offsync.changes"

const (
	defaultBuffer        = 64
	defaultClosedCheck   = time.Second
	defaultReconnectWait = 2 * time.Second
)

// ErrConnRequired is returned when no NATS connection is given.
var ErrConnRequired = errors.New("offsync nats: connection is required")

// Config defines publisher and notifier behavior.
type Config struct {
	Subject string
	Logger  offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures a Publisher or Notifier.
type Option func(*Config)

// WithSubject overrides the subject.
func WithSubject(subject string) Option {
	return func(c *Config) {
		c.Subject = subject
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

// Connect dials NATS with unlimited reconnects.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("offsync nats: connect %s: %w", url, err)
	}

	return nc, nil
}

// Publisher publishes notifications. It satisfies server.Publisher.
type Publisher struct {
	nc  *nats.Conn
	cfg Config
}

// NewPublisher builds a Publisher on an open connection.
func NewPublisher(nc *nats.Conn, opts ...Option) (*Publisher, error) {
	if nc == nil {
		return nil, ErrConnRequired
	}

	return &Publisher{nc: nc, cfg: newConfig(opts)}, nil
}

// Publish sends note and waits for the server to acknowledge the flush.
func (p *Publisher) Publish(ctx context.Context, note offsync.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("offsync nats: encode notification: %w", err)
	}
	if err := p.nc.Publish(p.cfg.Subject, data); err != nil {
		return fmt.Errorf("offsync nats: publish: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("offsync nats: flush: %w", err)
	}

	return nil
}

// Notifier subscribes to notifications. It satisfies offsync.Notifier.
type Notifier struct {
	nc  *nats.Conn
	cfg Config
}

// NewNotifier builds a Notifier on an open connection.
func NewNotifier(nc *nats.Conn, opts ...Option) (*Notifier, error) {
	if nc == nil {
		return nil, ErrConnRequired
	}

	return &Notifier{nc: nc, cfg: newConfig(opts)}, nil
}

// Subscribe delivers notifications until ctx is done or the connection closes.
// Malformed messages are logged and skipped.
func (n *Notifier) Subscribe(ctx context.Context, handle func(offsync.Notification)) error {
	msgs := make(chan *nats.Msg, defaultBuffer)
	sub, err := n.nc.ChanSubscribe(n.cfg.Subject, msgs)
	if err != nil {
		return fmt.Errorf("offsync nats: subscribe %s: %w", n.cfg.Subject, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			n.cfg.Logger.Warn("nats unsubscribe failed", "subject", n.cfg.Subject, "err", err)
		}
	}()

	ticker := time.NewTicker(defaultClosedCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n.nc.IsClosed() {
				return nats.ErrConnectionClosed
			}
		case msg := <-msgs:
			note, err := Decode(msg.Data)
			if err != nil {
				n.cfg.Logger.Warn("dropping malformed notification", "subject", msg.Subject, "err", err)
				continue
			}
			handle(note)
		}
	}
}

// Decode parses a notification message.
func Decode(data []byte) (offsync.Notification, error) {
	var note offsync.Notification
	if err := json.Unmarshal(data, &note); err != nil {
		return offsync.Notification{}, fmt.Errorf("offsync nats: decode notification: %w", err)
	}

	return note, nil
}
