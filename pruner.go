package offsync

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultPruneEvery      = time.Hour
	defaultPruneLockPrefix = "offsync:prune:"
)

// Locker provides a cross-process mutual exclusion primitive.
type Locker interface {
	// TryLock acquires name without waiting. ok is false when another session
	// holds it. release must be called once the lock is no longer needed.
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// PrunerConfig controls periodic outbox pruning.
type PrunerConfig struct {
	// Retention removes items whose changed_at is older than now-retention (required).
	// Pending items are removed too, so a client offline for longer than
	// Retention loses its unpushed writes unless FailedOnly is set.
	Retention time.Duration
	// FailedOnly restricts pruning to permanently failed items.
	FailedOnly bool
	// CheckEvery is the interval between prune runs.
	CheckEvery time.Duration
	// Locker, when set, keeps concurrent pruners sharing a store from overlapping.
	Locker Locker
	// LockName defaults to offsync:prune:<outbox table>.
	LockName string
	Logger   Logger
}

// Pruner periodically clears old outbox items.
type Pruner struct {
	queue *Queue
	cfg   PrunerConfig
}

// NewPruner creates a pruner with defaults applied.
func NewPruner(queue *Queue, cfg PrunerConfig) (*Pruner, error) {
	if queue == nil {
		return nil, ErrQueueRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrRetentionInvalid
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultPruneEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = queue.rt.Logger
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultPruneLockPrefix + queue.rt.OutboxTable
	}

	return &Pruner{queue: queue, cfg: cfg}, nil
}

// Run prunes immediately and then every CheckEvery until ctx is canceled.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := p.Ensure(ctx); err != nil {
		p.cfg.Logger.Warn("offsync prune failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Ensure(ctx); err != nil {
				p.cfg.Logger.Warn("offsync prune failed", "err", err)
			}
		}
	}
}

// Ensure executes a single prune pass and returns the number of removed items.
func (p *Pruner) Ensure(ctx context.Context) (int, error) {
	if p.cfg.Locker != nil {
		release, ok, err := p.cfg.Locker.TryLock(ctx, p.cfg.LockName)
		if err != nil {
			return 0, fmt.Errorf("offsync: acquire prune lock: %w", err)
		}
		if !ok {
			p.cfg.Logger.Debug("offsync prune lock held by another session")

			return 0, nil
		}
		defer release()
	}

	prune := p.queue.ClearOld
	if p.cfg.FailedOnly {
		prune = p.queue.ClearOldFailed
	}
	n, err := prune(ctx, p.cfg.Retention)
	if err != nil {
		return n, err
	}
	if n > 0 {
		p.cfg.Logger.Info("offsync pruned outbox", "deleted", n)
	}

	return n, nil
}
