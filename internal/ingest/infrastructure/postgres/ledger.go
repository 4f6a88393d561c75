package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	ingest "freshtrack-cloud/internal/ingest/application"
)

const defaultEventsTable = "ingest_events"

// EventLedger records pushed events in Postgres, keyed by (org_id, event_id).
type EventLedger struct {
	db    *sql.DB
	table string
}

// LedgerOption configures the ledger.
type LedgerOption func(*EventLedger)

// WithEventsTable overrides the table name.
func WithEventsTable(table string) LedgerOption {
	return func(l *EventLedger) {
		if table != "" {
			l.table = table
		}
	}
}

// NewEventLedger constructs a ledger.
func NewEventLedger(db *sql.DB, opts ...LedgerOption) *EventLedger {
	ledger := &EventLedger{db: db, table: defaultEventsTable}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Reserve inserts the event; on conflict the stored reading id is returned.
func (l *EventLedger) Reserve(ctx context.Context, orgID, eventID, readingID string, at time.Time) (string, bool, error) {
	if l == nil || l.db == nil {
		return "", false, errors.New("event ledger: nil db")
	}
	if orgID == "" || eventID == "" || readingID == "" {
		return "", false, errors.New("event ledger: invalid arguments")
	}
	table := pgx.Identifier{l.table}.Sanitize()
	insert := fmt.Sprintf(`
INSERT INTO %s (org_id, event_id, reading_id, received_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (org_id, event_id) DO NOTHING
RETURNING reading_id`, table)
	var stored string
	err := l.db.QueryRowContext(ctx, insert, orgID, eventID, readingID, at.UTC()).Scan(&stored)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}
	lookup := fmt.Sprintf(`SELECT reading_id FROM %s WHERE org_id = $1 AND event_id = $2`, table)
	if err := l.db.QueryRowContext(ctx, lookup, orgID, eventID).Scan(&stored); err != nil {
		return "", false, err
	}
	return stored, false, nil
}

// Release deletes a reservation.
func (l *EventLedger) Release(ctx context.Context, orgID, eventID string) error {
	if l == nil || l.db == nil {
		return errors.New("event ledger: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE org_id = $1 AND event_id = $2`, pgx.Identifier{l.table}.Sanitize())
	_, err := l.db.ExecContext(ctx, query, orgID, eventID)
	return err
}

// Prune deletes events older than cutoff and returns how many were removed.
func (l *EventLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("event ledger: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE received_at < $1`, pgx.Identifier{l.table}.Sanitize())
	res, err := l.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ ingest.EventLedger = (*EventLedger)(nil)
