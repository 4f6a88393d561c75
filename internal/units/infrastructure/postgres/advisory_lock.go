package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log"
)

const unlockSQL = "SELECT pg_advisory_unlock(hashtextextended($1, 0))"

// sessionConn is the part of *sql.Conn the locker needs.
type sessionConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Raw(f func(driverConn any) error) error
	Close() error
}

// AdvisoryLocker serializes evaluation of one unit across service instances
// using a session-level Postgres advisory lock held on a dedicated connection.
type AdvisoryLocker struct {
	db     *sql.DB
	logger *log.Logger
}

// NewAdvisoryLocker constructs a locker.
func NewAdvisoryLocker(db *sql.DB, logger *log.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = log.Default()
	}
	return &AdvisoryLocker{db: db, logger: logger}
}

// Lock blocks until the advisory lock for key is held.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.db == nil {
		return nil, errors.New("advisory lock: nil db")
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtextextended($1, 0))", key); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return func() { l.release(conn, key) }, nil
}

// release unlocks and returns the session to the pool. When the unlock fails
// the session may still hold the lock, so it is discarded instead.
func (l *AdvisoryLocker) release(conn sessionConn, key string) {
	if _, err := conn.ExecContext(context.Background(), unlockSQL, key); err != nil {
		l.logger.Printf("advisory lock: unlock failed, discarding session: key=%s err=%v", key, err)
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	_ = conn.Close()
}
