package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	readings "freshtrack-cloud/internal/readings/domain"
)

const defaultReadingsTable = "readings"

var readingColumns = []string{
	"id", "org_id", "unit_id", "device_id", "temperature_tenths", "humidity",
	"battery_percent", "signal_rssi", "recorded_at", "received_at", "source",
}

// ReadingRepository stores readings in the monthly partitioned readings table.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertBatch writes the whole batch with a single COPY, so either every row lands or none.
func (r *ReadingRepository) InsertBatch(ctx context.Context, batch []readings.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(batch) == 0 {
		return nil
	}
	for _, reading := range batch {
		if err := reading.Validate(); err != nil {
			return err
		}
	}

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		stdConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errors.New("reading repo: driver is not pgx")
		}
		source := pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			reading := batch[i]
			return []any{
				reading.ID,
				reading.OrgID,
				reading.UnitID,
				nullableString(reading.DeviceID),
				int32(reading.Temperature),
				reading.Humidity,
				reading.BatteryPercent,
				reading.SignalRSSI,
				reading.RecordedAt.UTC(),
				reading.ReceivedAt.UTC(),
				string(reading.Source),
			}, nil
		})
		copied, err := stdConn.Conn().CopyFrom(ctx, pgx.Identifier{r.table}, readingColumns, source)
		if err != nil {
			return err
		}
		if copied != int64(len(batch)) {
			return fmt.Errorf("reading repo: copied %d of %d rows", copied, len(batch))
		}
		return nil
	})
}

// ListByUnit returns one keyset page ordered by (recorded_at, id).
func (r *ReadingRepository) ListByUnit(ctx context.Context, query readings.Query) (readings.Page, error) {
	if r == nil || r.db == nil {
		return readings.Page{}, errors.New("reading repo: nil db")
	}
	if query.UnitID == "" {
		return readings.Page{}, errors.New("reading repo: unit id required")
	}
	limit := query.PageLimit()

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE unit_id = $1", strings.Join(readingColumns, ", "), pgx.Identifier{r.table}.Sanitize())
	args := []any{query.UnitID}
	if !query.From.IsZero() {
		args = append(args, query.From.UTC())
		fmt.Fprintf(&sb, " AND recorded_at >= $%d", len(args))
	}
	if !query.To.IsZero() {
		args = append(args, query.To.UTC())
		fmt.Fprintf(&sb, " AND recorded_at < $%d", len(args))
	}
	if query.Cursor != "" {
		at, id, err := readings.DecodeCursor(query.Cursor)
		if err != nil {
			return readings.Page{}, err
		}
		args = append(args, at, id)
		fmt.Fprintf(&sb, " AND (recorded_at, id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	fmt.Fprintf(&sb, " ORDER BY recorded_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return readings.Page{}, err
	}
	defer rows.Close()

	page := readings.Page{Readings: make([]readings.Reading, 0, limit)}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return readings.Page{}, err
		}
		page.Readings = append(page.Readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return readings.Page{}, err
	}
	if len(page.Readings) > limit {
		page.Readings = page.Readings[:limit]
		page.NextCursor = readings.EncodeCursor(page.Readings[limit-1])
	}
	return page, nil
}

// Latest returns the newest reading by recorded time.
func (r *ReadingRepository) Latest(ctx context.Context, unitID string) (*readings.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("reading repo: unit id required")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE unit_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT 1`, strings.Join(readingColumns, ", "), pgx.Identifier{r.table}.Sanitize())
	return scanReading(r.db.QueryRowContext(ctx, query, unitID))
}

type readingScanner interface {
	Scan(dest ...any) error
}

func scanReading(row readingScanner) (*readings.Reading, error) {
	var reading readings.Reading
	var deviceID sql.NullString
	var temperature int32
	var humidity sql.NullFloat64
	var battery sql.NullInt64
	var rssi sql.NullInt64
	var source string
	if err := row.Scan(
		&reading.ID,
		&reading.OrgID,
		&reading.UnitID,
		&deviceID,
		&temperature,
		&humidity,
		&battery,
		&rssi,
		&reading.RecordedAt,
		&reading.ReceivedAt,
		&source,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reading.DeviceID = deviceID.String
	reading.Temperature = readings.Tenths(temperature)
	if humidity.Valid {
		value := humidity.Float64
		reading.Humidity = &value
	}
	if battery.Valid {
		value := int(battery.Int64)
		reading.BatteryPercent = &value
	}
	if rssi.Valid {
		value := int(rssi.Int64)
		reading.SignalRSSI = &value
	}
	reading.RecordedAt = reading.RecordedAt.UTC()
	reading.ReceivedAt = reading.ReceivedAt.UTC()
	reading.Source = readings.Source(source)
	return &reading, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

var _ readings.Repository = (*ReadingRepository)(nil)

