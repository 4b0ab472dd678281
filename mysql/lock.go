package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/velmie/offsync"
)

// AdvisoryLocker implements offsync.Locker with GET_LOCK. The lock lives on a
// dedicated connection held until release, so it is dropped by the server if
// the process dies.
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

// TryLock attempts GET_LOCK(name, 0). ok is false when another session holds it.
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	if name == "" {
		return nil, false, ErrLockNameRequired
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("offsync mysql: lock conn failed: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("offsync mysql: acquire lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		_ = conn.Close()
		l.logger.Debug("advisory lock held by another session", "lock", name)

		return nil, false, nil
	}

	release := func() {
		var released sql.NullInt64
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
			l.logger.Warn("advisory lock release failed", "lock", name, "err", err)
		}
		_ = conn.Close()
	}

	return release, true, nil
}
