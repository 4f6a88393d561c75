package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log"
	"testing"
)

type fakeSession struct {
	unlockErr error
	rawErr    error
	closed    bool
}

func (f *fakeSession) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, f.unlockErr
}

func (f *fakeSession) Raw(fn func(driverConn any) error) error {
	f.rawErr = fn(nil)
	return f.rawErr
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func TestAdvisoryLockerReleaseDiscardsSessionOnUnlockFailure(t *testing.T) {
	locker := NewAdvisoryLocker(nil, log.New(io.Discard, "", 0))

	session := &fakeSession{unlockErr: errors.New("connection reset")}
	locker.release(session, "unit:u1")
	if !errors.Is(session.rawErr, driver.ErrBadConn) || !session.closed {
		t.Fatalf("expected session discarded and closed, raw=%v closed=%v", session.rawErr, session.closed)
	}

	healthy := &fakeSession{}
	locker.release(healthy, "unit:u1")
	if healthy.rawErr != nil || !healthy.closed {
		t.Fatalf("expected healthy session returned to pool, raw=%v closed=%v", healthy.rawErr, healthy.closed)
	}
}
