package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	partitions "freshtrack-cloud/internal/partitions/domain"
)

// Catalog manages monthly partitions of the readings table through DDL.
type Catalog struct {
	db     *sql.DB
	parent string
}

// CatalogOption configures the catalog.
type CatalogOption func(*Catalog)

// WithParentTable overrides the partitioned table name.
func WithParentTable(table string) CatalogOption {
	return func(c *Catalog) {
		if table != "" {
			c.parent = table
		}
	}
}

// NewCatalog constructs a catalog.
func NewCatalog(db *sql.DB, opts ...CatalogOption) *Catalog {
	catalog := &Catalog{db: db, parent: partitions.Parent}
	for _, opt := range opts {
		opt(catalog)
	}
	return catalog
}

// List returns the attached partitions whose names follow the monthly scheme.
func (c *Catalog) List(ctx context.Context) ([]partitions.Partition, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("partition catalog: nil db")
	}
	rows, err := c.db.QueryContext(ctx, `
SELECT child.relname
FROM pg_inherits inh
JOIN pg_class parent ON parent.oid = inh.inhparent
JOIN pg_class child ON child.oid = inh.inhrelid
WHERE parent.relname = $1
ORDER BY child.relname`, c.parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []partitions.Partition
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		partition, err := partitions.ParseName(name)
		if err != nil {
			continue
		}
		result = append(result, partition)
	}
	return result, rows.Err()
}

// Create attaches the monthly partition if it does not exist yet.
func (c *Catalog) Create(ctx context.Context, partition partitions.Partition) (bool, error) {
	if c == nil || c.db == nil {
		return false, errors.New("partition catalog: nil db")
	}
	if partition.Default || partition.Name == "" {
		return false, errors.New("partition catalog: invalid partition")
	}
	var exists bool
	if err := c.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, partition.Name).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := c.db.ExecContext(ctx, createPartitionDDL(c.parent, partition)); err != nil {
		return false, err
	}
	return true, nil
}

// boundLayout carries an explicit UTC offset so bounds do not shift with the
// session TimeZone of a timestamptz column.
const boundLayout = "2006-01-02 15:04:05-07:00"

func createPartitionDDL(parent string, partition partitions.Partition) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		pgx.Identifier{partition.Name}.Sanitize(),
		pgx.Identifier{parent}.Sanitize(),
		partition.From.UTC().Format(boundLayout),
		partition.To.UTC().Format(boundLayout),
	)
}

// Drop detaches and drops a monthly partition. The default partition is refused.
func (c *Catalog) Drop(ctx context.Context, name string) error {
	if c == nil || c.db == nil {
		return errors.New("partition catalog: nil db")
	}
	partition, err := partitions.ParseName(name)
	if err != nil {
		return err
	}
	if partition.Default {
		return errors.New("partition catalog: refusing to drop the default partition")
	}
	_, err = c.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{name}.Sanitize()))
	return err
}

// CountRows counts the rows of one partition.
func (c *Catalog) CountRows(ctx context.Context, name string) (int64, error) {
	if c == nil || c.db == nil {
		return 0, errors.New("partition catalog: nil db")
	}
	if _, err := partitions.ParseName(name); err != nil {
		return 0, err
	}
	var rows int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, pgx.Identifier{name}.Sanitize())
	if err := c.db.QueryRowContext(ctx, query).Scan(&rows); err != nil {
		return 0, err
	}
	return rows, nil
}

// ExportColumns lists the columns written by ExportRows.
var ExportColumns = []string{
	"id", "org_id", "unit_id", "device_id", "temperature_tenths", "humidity",
	"battery_percent", "signal_rssi", "recorded_at", "received_at", "source",
}

// ExportRows streams the partition as text records in recorded-time order.
func (c *Catalog) ExportRows(ctx context.Context, name string, emit func(record []string) error) error {
	if c == nil || c.db == nil {
		return errors.New("partition catalog: nil db")
	}
	if _, err := partitions.ParseName(name); err != nil {
		return err
	}
	query := fmt.Sprintf(`
SELECT id, org_id, unit_id, COALESCE(device_id, ''), temperature_tenths::text,
	COALESCE(humidity::text, ''), COALESCE(battery_percent::text, ''), COALESCE(signal_rssi::text, ''),
	to_char(recorded_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'),
	to_char(received_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'),
	source
FROM %s
ORDER BY unit_id, recorded_at, id`, pgx.Identifier{name}.Sanitize())
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	record := make([]string, len(ExportColumns))
	dest := make([]any, len(record))
	for i := range record {
		dest[i] = &record[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := emit(record); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ partitions.Catalog = (*Catalog)(nil)
