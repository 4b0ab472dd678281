package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/offsync"
)

// AdvisoryLocker implements offsync.Locker with session-level
// pg_try_advisory_lock on a dedicated connection.
type AdvisoryLocker struct {
	db     *sql.DB
	logger offsync.Logger
}

var _ offsync.Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker constructs a locker on db.
func NewAdvisoryLocker(db *sql.DB, logger offsync.Logger) (*AdvisoryLocker, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if logger == nil {
		logger = offsync.NopLogger{}
	}

	return &AdvisoryLocker{db: db, logger: logger}, nil
}

// TryLock implements offsync.Locker. The name is hashed to a lock key with hashtext.
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	if name == "" {
		return nil, false, ErrLockNameRequired
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("offsync postgres: lock conn failed: %w", err)
	}

	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("offsync postgres: acquire lock failed: %w", err)
	}
	if !got {
		_ = conn.Close()
		l.logger.Debug("advisory lock held by another session", "lock", name)

		return nil, false, nil
	}

	release := func() {
		var released bool
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock(hashtext($1))", name).Scan(&released); err != nil {
			l.logger.Warn("advisory lock release failed", "lock", name, "err", err)
		}
		_ = conn.Close()
	}

	return release, true, nil
}
