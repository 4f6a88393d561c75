package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	alerts "freshtrack-cloud/internal/alerts/domain"
	readings "freshtrack-cloud/internal/readings/domain"
)

const defaultAlertsTable = "alerts"

const alertColumns = `id, org_id, unit_id, rule_id, type, severity, status,
	trigger_temperature_tenths, last_temperature_tenths, threshold_violated, trigger_reading_id,
	escalation_level, triggered_at, acknowledged_at, acknowledged_by, ack_notes,
	escalated_at, resolved_at, resolved_by, resolution, created_at, updated_at`

// AlertRepository is a Postgres repository for alerts. A partial unique index on
// (unit_id, type) WHERE status <> 'resolved' enforces one open alert per type.
type AlertRepository struct {
	db    *sql.DB
	table string
}

// AlertOption configures the repository.
type AlertOption func(*AlertRepository)

// WithAlertsTable overrides the default table name.
func WithAlertsTable(table string) AlertOption {
	return func(repo *AlertRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB, opts ...AlertOption) *AlertRepository {
	repo := &AlertRepository{db: db, table: defaultAlertsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Open inserts the alert or returns the already open one for the same unit and type.
func (r *AlertRepository) Open(ctx context.Context, alert alerts.Alert) (alerts.Alert, bool, error) {
	if r == nil || r.db == nil {
		return alerts.Alert{}, false, errors.New("alert repo: nil db")
	}
	if alert.ID == "" || alert.OrgID == "" || alert.UnitID == "" || !alert.Type.Valid() {
		return alerts.Alert{}, false, errors.New("alert repo: missing fields")
	}
	if alert.Status == "" {
		alert.Status = alerts.StatusActive
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, org_id, unit_id, rule_id, type, severity, status,
	trigger_temperature_tenths, last_temperature_tenths, threshold_violated, trigger_reading_id,
	escalation_level, triggered_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11,
	$12, $13, $14, $15
)
ON CONFLICT (unit_id, type) WHERE status <> 'resolved'
DO NOTHING
RETURNING %s`, r.ident(), alertColumns)

	// The open alert can be resolved between a conflicting insert and the lookup; retry then.
	for attempt := 0; attempt < 3; attempt++ {
		created, err := scanAlert(r.db.QueryRowContext(ctx, query,
			alert.ID, alert.OrgID, alert.UnitID, nullableString(alert.RuleID),
			string(alert.Type), string(alert.Severity), string(alert.Status),
			nullableTenths(alert.TriggerTemperature), nullableTenths(alert.LastTemperature),
			nullableString(string(alert.ThresholdViolated)), nullableString(alert.TriggerReadingID),
			alert.EscalationLevel, alert.TriggeredAt.UTC(), alert.CreatedAt.UTC(), alert.UpdatedAt.UTC(),
		))
		if err != nil {
			return alerts.Alert{}, false, err
		}
		if created != nil {
			return *created, true, nil
		}
		existing, err := r.FindOpen(ctx, alert.UnitID, alert.Type)
		if err != nil {
			return alerts.Alert{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}
	return alerts.Alert{}, false, errors.New("alert repo: open contention")
}

// Get fetches an alert by id.
func (r *AlertRepository) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", alertColumns, r.ident())
	return scanAlert(r.db.QueryRowContext(ctx, query, id))
}

// FindOpen returns the open alert of a type for a unit.
func (r *AlertRepository) FindOpen(ctx context.Context, unitID string, alertType alerts.Type) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if unitID == "" || alertType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE unit_id = $1 AND type = $2 AND status <> 'resolved'
LIMIT 1`, alertColumns, r.ident())
	return scanAlert(r.db.QueryRowContext(ctx, query, unitID, string(alertType)))
}

// List returns alerts matching filter, newest trigger first.
func (r *AlertRepository) List(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.OrgID != "" {
		add("org_id = $%d", filter.OrgID)
	}
	if filter.UnitID != "" {
		add("unit_id = $%d", filter.UnitID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("triggered_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("triggered_at < $%d", filter.To.UTC())
	}
	query := fmt.Sprintf("SELECT %s FROM %s", alertColumns, r.ident())
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryAlerts(ctx, query, args...)
}

// ListEscalatable returns active and escalated alerts.
func (r *AlertRepository) ListEscalatable(ctx context.Context) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE status IN ('active', 'escalated')
ORDER BY created_at ASC`, alertColumns, r.ident())
	return r.queryAlerts(ctx, query)
}

// Acknowledge moves active -> acknowledged.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, actor, notes string, at time.Time) (alerts.Alert, error) {
	if r == nil || r.db == nil {
		return alerts.Alert{}, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'acknowledged', acknowledged_at = $2, acknowledged_by = $3, ack_notes = $4, updated_at = $2
WHERE id = $1 AND status = 'active'
RETURNING %s`, r.ident(), alertColumns)
	return r.transition(ctx, id, alerts.CheckAcknowledge, query, id, at.UTC(), actor, notes)
}

// Resolve moves an open alert to resolved.
func (r *AlertRepository) Resolve(ctx context.Context, id, actor, resolution string, at time.Time) (alerts.Alert, error) {
	if r == nil || r.db == nil {
		return alerts.Alert{}, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'resolved', resolved_at = $2, resolved_by = $3, resolution = $4, updated_at = $2
WHERE id = $1 AND status IN ('active', 'acknowledged', 'escalated')
RETURNING %s`, r.ident(), alertColumns)
	return r.transition(ctx, id, alerts.CheckResolve, query, id, at.UTC(), actor, resolution)
}

// Escalate increments the escalation level of an active or escalated alert.
func (r *AlertRepository) Escalate(ctx context.Context, id string, criticalAt int, at time.Time) (alerts.Alert, error) {
	if r == nil || r.db == nil {
		return alerts.Alert{}, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'escalated',
	escalation_level = escalation_level + 1,
	severity = CASE WHEN $3 > 0 AND escalation_level + 1 >= $3 THEN 'critical' ELSE severity END,
	escalated_at = $2,
	updated_at = $2
WHERE id = $1 AND status IN ('active', 'escalated')
RETURNING %s`, r.ident(), alertColumns)
	return r.transition(ctx, id, alerts.CheckEscalate, query, id, at.UTC(), criticalAt)
}

// UpdateLastTemperature records the latest violating temperature.
func (r *AlertRepository) UpdateLastTemperature(ctx context.Context, id string, temperature readings.Tenths, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_temperature_tenths = $2, updated_at = $3
WHERE id = $1`, r.ident())
	_, err := r.db.ExecContext(ctx, query, id, int32(temperature), at.UTC())
	return err
}

// transition runs a compare-and-set update; on no match it reports why.
func (r *AlertRepository) transition(ctx context.Context, id string, check func(alerts.Status) error, query string, args ...any) (alerts.Alert, error) {
	updated, err := scanAlert(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return alerts.Alert{}, err
	}
	if updated != nil {
		return *updated, nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return alerts.Alert{}, err
	}
	if current == nil {
		return alerts.Alert{}, alerts.ErrNotFound
	}
	if err := check(current.Status); err != nil {
		return *current, err
	}
	return *current, alerts.ErrInvalidTransition
}

func (r *AlertRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]alerts.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *AlertRepository) ident() string {
	return pgx.Identifier{r.table}.Sanitize()
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var ruleID, threshold, triggerReadingID, ackBy, ackNotes, resolvedBy, resolution sql.NullString
	var alertType, severity, status string
	var triggerTemp, lastTemp sql.NullInt32
	var ackAt, escalatedAt, resolvedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.OrgID,
		&alert.UnitID,
		&ruleID,
		&alertType,
		&severity,
		&status,
		&triggerTemp,
		&lastTemp,
		&threshold,
		&triggerReadingID,
		&alert.EscalationLevel,
		&alert.TriggeredAt,
		&ackAt,
		&ackBy,
		&ackNotes,
		&escalatedAt,
		&resolvedAt,
		&resolvedBy,
		&resolution,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.RuleID = ruleID.String
	alert.Type = alerts.Type(alertType)
	alert.Severity = alerts.Severity(severity)
	alert.Status = alerts.Status(status)
	alert.TriggerTemperature = tenthsOrNil(triggerTemp)
	alert.LastTemperature = tenthsOrNil(lastTemp)
	alert.ThresholdViolated = alerts.Threshold(threshold.String)
	alert.TriggerReadingID = triggerReadingID.String
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.AcknowledgedAt = timeOrZero(ackAt)
	alert.AcknowledgedBy = ackBy.String
	alert.AckNotes = ackNotes.String
	alert.EscalatedAt = timeOrZero(escalatedAt)
	alert.ResolvedAt = timeOrZero(resolvedAt)
	alert.ResolvedBy = resolvedBy.String
	alert.Resolution = resolution.String
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	return &alert, nil
}

func tenthsOrNil(value sql.NullInt32) *readings.Tenths {
	if !value.Valid {
		return nil
	}
	t := readings.Tenths(value.Int32)
	return &t
}

func nullableTenths(value *readings.Tenths) sql.NullInt32 {
	if value == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*value), Valid: true}
}

func timeOrZero(value sql.NullTime) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return value.Time.UTC()
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

var _ alerts.Repository = (*AlertRepository)(nil)
