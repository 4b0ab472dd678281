package offsync

import (
	"context"
	"sync/atomic"
	"time"
)

const defaultResubscribeDelay = 5 * time.Second

// Notification announces that remote data changed.
type Notification struct {
	// Source is the id of the client whose push produced the change.
	Source string `json:"source,omitempty"`
	// Tables lists the affected logical tables; empty means unknown.
	Tables []string `json:"tables,omitempty"`
	// Cursor is the server change-log position after the change.
	Cursor int64 `json:"cursor,omitempty"`
}

// Notifier delivers remote change notifications. Subscribe blocks until ctx is
// done or the subscription breaks. Delivery is at least once.
type Notifier interface {
	Subscribe(ctx context.Context, handle func(Notification)) error
}

// CycleTrigger starts sync cycles on demand. *Engine implements it.
type CycleTrigger interface {
	Trigger()
	SourceID() string
}

// RealtimeConfig controls how the RealtimeManager filters and resubscribes.
type RealtimeConfig struct {
	// Registry filters out notifications naming only unregistered tables.
	Registry         *Registry
	ResubscribeDelay time.Duration
	Logger           Logger
}

func (c RealtimeConfig) withDefaults() RealtimeConfig {
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = defaultResubscribeDelay
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// RealtimeOption configures RealtimeManager behavior.
type RealtimeOption func(*RealtimeConfig)

// WithRealtimeRegistry filters notifications by registered tables.
func WithRealtimeRegistry(registry *Registry) RealtimeOption {
	return func(c *RealtimeConfig) {
		c.Registry = registry
	}
}

// WithResubscribeDelay sets the pause before resubscribing after a failure.
func WithResubscribeDelay(delay time.Duration) RealtimeOption {
	return func(c *RealtimeConfig) {
		c.ResubscribeDelay = delay
	}
}

// WithRealtimeLogger sets the realtime logger.
func WithRealtimeLogger(logger Logger) RealtimeOption {
	return func(c *RealtimeConfig) {
		c.Logger = logger
	}
}

// RealtimeManager turns remote notifications into sync cycles. Duplicate
// notifications are harmless because triggers coalesce.
type RealtimeManager struct {
	notifier Notifier
	target   CycleTrigger
	cfg      RealtimeConfig

	triggered atomic.Int64
	ignored   atomic.Int64
}

// NewRealtimeManager builds a RealtimeManager.
func NewRealtimeManager(notifier Notifier, target CycleTrigger, opts ...RealtimeOption) (*RealtimeManager, error) {
	if notifier == nil {
		return nil, ErrNotifierRequired
	}
	if target == nil {
		return nil, ErrEngineRequired
	}

	var cfg RealtimeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &RealtimeManager{notifier: notifier, target: target, cfg: cfg.withDefaults()}, nil
}

// Run subscribes until ctx is done, resubscribing after failures. A cycle is
// triggered after every resubscribe because notifications may have been missed.
func (m *RealtimeManager) Run(ctx context.Context) error {
	for {
		err := m.notifier.Subscribe(ctx, m.Handle)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.cfg.Logger.Warn("offsync realtime subscription failed", "err", err)
		}

		timer := time.NewTimer(m.cfg.ResubscribeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil
		case <-timer.C:
		}
		m.target.Trigger()
	}
}

// Handle processes one notification.
func (m *RealtimeManager) Handle(n Notification) {
	if n.Source != "" && n.Source == m.target.SourceID() {
		m.ignored.Add(1)

		return
	}
	if !m.relevant(n) {
		m.ignored.Add(1)

		return
	}
	m.cfg.Logger.Debug("offsync realtime notification", "source", n.Source, "tables", n.Tables, "cursor", n.Cursor)
	m.triggered.Add(1)
	m.target.Trigger()
}

// Counts returns how many notifications triggered a cycle and how many were ignored.
func (m *RealtimeManager) Counts() (triggered, ignored int64) {
	return m.triggered.Load(), m.ignored.Load()
}

func (m *RealtimeManager) relevant(n Notification) bool {
	if m.cfg.Registry == nil || len(n.Tables) == 0 {
		return true
	}
	for _, t := range n.Tables {
		if m.cfg.Registry.Syncable(t) {
			return true
		}
	}

	return false
}
