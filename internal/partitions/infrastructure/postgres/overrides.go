package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	partitions "freshtrack-cloud/internal/partitions/domain"
)

const defaultOverridesTable = "partition_overrides"

// OverrideStore persists retention overrides.
type OverrideStore struct {
	db    *sql.DB
	table string
}

// OverrideOption configures the store.
type OverrideOption func(*OverrideStore)

// WithOverridesTable overrides the table name.
func WithOverridesTable(table string) OverrideOption {
	return func(s *OverrideStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewOverrideStore constructs a store.
func NewOverrideStore(db *sql.DB, opts ...OverrideOption) *OverrideStore {
	store := &OverrideStore{db: db, table: defaultOverridesTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Put upserts the override of a partition.
func (s *OverrideStore) Put(ctx context.Context, override partitions.Override) error {
	if s == nil || s.db == nil {
		return errors.New("override store: nil db")
	}
	if err := override.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (partition_name, reason, created_by, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (partition_name) DO UPDATE SET
	reason = EXCLUDED.reason,
	created_by = EXCLUDED.created_by,
	expires_at = EXCLUDED.expires_at,
	created_at = EXCLUDED.created_at`, pgx.Identifier{s.table}.Sanitize())
	_, err := s.db.ExecContext(ctx, query,
		override.Partition,
		override.Reason,
		override.CreatedBy,
		nullableTime(override.ExpiresAt),
		override.CreatedAt.UTC(),
	)
	return err
}

// Delete removes the override of a partition.
func (s *OverrideStore) Delete(ctx context.Context, partition string) error {
	if s == nil || s.db == nil {
		return errors.New("override store: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE partition_name = $1`, pgx.Identifier{s.table}.Sanitize())
	res, err := s.db.ExecContext(ctx, query, partition)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return partitions.ErrOverrideNotFound
	}
	return nil
}

// List returns all overrides.
func (s *OverrideStore) List(ctx context.Context) ([]partitions.Override, error) {
	return s.list(ctx, "", nil)
}

// ListActive returns overrides without expiry or expiring after now.
func (s *OverrideStore) ListActive(ctx context.Context, now time.Time) ([]partitions.Override, error) {
	return s.list(ctx, "WHERE expires_at IS NULL OR expires_at > $1", []any{now.UTC()})
}

func (s *OverrideStore) list(ctx context.Context, where string, args []any) ([]partitions.Override, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("override store: nil db")
	}
	query := fmt.Sprintf(`
SELECT partition_name, reason, created_by, expires_at, created_at
FROM %s %s
ORDER BY partition_name`, pgx.Identifier{s.table}.Sanitize(), where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []partitions.Override
	for rows.Next() {
		var override partitions.Override
		var expires sql.NullTime
		if err := rows.Scan(&override.Partition, &override.Reason, &override.CreatedBy, &expires, &override.CreatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			at := expires.Time.UTC()
			override.ExpiresAt = &at
		}
		override.CreatedAt = override.CreatedAt.UTC()
		result = append(result, override)
	}
	return result, rows.Err()
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

var _ partitions.OverrideStore = (*OverrideStore)(nil)
