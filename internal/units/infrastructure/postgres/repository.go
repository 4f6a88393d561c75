package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

const defaultUnitsTable = "units"

const unitColumns = `id, org_id, site_id, name, temp_min_tenths, temp_max_tenths, temp_unit,
	expected_interval_seconds, status, last_temperature_tenths, last_reading_at,
	excursion_started_at, restoring_started_at, interrupted_at, anchor_at, created_at, updated_at`

// UnitRepository is a Postgres repository for units.
type UnitRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*UnitRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *UnitRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db *sql.DB, opts ...RepositoryOption) *UnitRepository {
	repo := &UnitRepository{db: db, table: defaultUnitsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create inserts a unit.
func (r *UnitRepository) Create(ctx context.Context, unit *units.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if unit.Status == "" {
		unit.Status = units.StatusOK
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now().UTC()
	}
	if unit.UpdatedAt.IsZero() {
		unit.UpdatedAt = unit.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, org_id, site_id, name, temp_min_tenths, temp_max_tenths, temp_unit,
	expected_interval_seconds, status, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11
)`, r.ident())
	_, err := r.db.ExecContext(ctx, query,
		unit.ID, unit.OrgID, nullableString(unit.SiteID), unit.Name,
		int32(unit.TempMin), int32(unit.TempMax), string(unit.TempUnit),
		int64(unit.ExpectedInterval/time.Second), string(unit.Status),
		unit.CreatedAt, unit.UpdatedAt)
	return err
}

// Get loads a unit by id.
func (r *UnitRepository) Get(ctx context.Context, id string) (*units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", unitColumns, r.ident())
	return scanUnit(r.db.QueryRowContext(ctx, query, id))
}

// GetMany loads the units that exist among ids.
func (r *UnitRepository) GetMany(ctx context.Context, ids []string) (map[string]units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	result := make(map[string]units.Unit, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ANY($1)", unitColumns, r.ident())
	rows, err := r.db.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		result[unit.ID] = *unit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveState persists the evaluation state columns of a unit.
func (r *UnitRepository) SaveState(ctx context.Context, unit units.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if !unit.Status.Valid() {
		return errors.New("unit repo: invalid status")
	}
	if unit.UpdatedAt.IsZero() {
		unit.UpdatedAt = time.Now().UTC()
	}
	var lastTemp sql.NullInt32
	if unit.LastTemperature != nil {
		lastTemp = sql.NullInt32{Int32: int32(*unit.LastTemperature), Valid: true}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	last_temperature_tenths = $2,
	last_reading_at = $3,
	excursion_started_at = $4,
	restoring_started_at = $5,
	interrupted_at = $6,
	anchor_at = $7,
	updated_at = $8
WHERE id = $9`, r.ident())
	res, err := r.db.ExecContext(ctx, query,
		string(unit.Status),
		lastTemp,
		nullableTime(unit.LastReadingAt),
		nullableTime(unit.ExcursionStartedAt),
		nullableTime(unit.RestoringStartedAt),
		nullableTime(unit.InterruptedAt),
		nullableTime(unit.AnchorAt),
		unit.UpdatedAt,
		unit.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return units.ErrNotFound
	}
	return nil
}

// ListMonitored returns every unit for the liveness sweep.
func (r *UnitRepository) ListMonitored(ctx context.Context) ([]units.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", unitColumns, r.ident())
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []units.Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *UnitRepository) ident() string {
	return pgx.Identifier{r.table}.Sanitize()
}

type unitScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row unitScanner) (*units.Unit, error) {
	var unit units.Unit
	var siteID sql.NullString
	var tempMin, tempMax int32
	var tempUnit, status string
	var intervalSeconds int64
	var lastTemp sql.NullInt32
	var lastReadingAt, excursionAt, restoringAt, interruptedAt, anchorAt sql.NullTime
	if err := row.Scan(
		&unit.ID,
		&unit.OrgID,
		&siteID,
		&unit.Name,
		&tempMin,
		&tempMax,
		&tempUnit,
		&intervalSeconds,
		&status,
		&lastTemp,
		&lastReadingAt,
		&excursionAt,
		&restoringAt,
		&interruptedAt,
		&anchorAt,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	unit.SiteID = siteID.String
	unit.TempMin = readings.Tenths(tempMin)
	unit.TempMax = readings.Tenths(tempMax)
	unit.TempUnit = readings.TempUnit(strings.ToUpper(tempUnit))
	unit.ExpectedInterval = time.Duration(intervalSeconds) * time.Second
	unit.Status = units.Status(status)
	if lastTemp.Valid {
		value := readings.Tenths(lastTemp.Int32)
		unit.LastTemperature = &value
	}
	unit.LastReadingAt = timeOrZero(lastReadingAt)
	unit.ExcursionStartedAt = timeOrZero(excursionAt)
	unit.RestoringStartedAt = timeOrZero(restoringAt)
	unit.InterruptedAt = timeOrZero(interruptedAt)
	unit.AnchorAt = timeOrZero(anchorAt)
	unit.CreatedAt = unit.CreatedAt.UTC()
	unit.UpdatedAt = unit.UpdatedAt.UTC()
	return &unit, nil
}

func timeOrZero(value sql.NullTime) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return value.Time.UTC()
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

var _ units.Repository = (*UnitRepository)(nil)
