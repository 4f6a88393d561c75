package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/audit"
	"freshtrack-cloud/internal/auth"
)

const defaultAlertRulesTable = "alert_rules"

const ruleColumns = `id, org_id, site_id, unit_id, temp_min_tenths, temp_max_tenths,
	confirm_delay_seconds, stabilization_window_seconds, escalate_after_seconds,
	critical_at_level, interrupt_after_missed, offline_after_missed, manual_required_after_seconds,
	enabled, created_at, updated_at`

// RuleRepository is a Postgres repository for alert rules.
type RuleRepository struct {
	db    *sql.DB
	table string
	audit audit.Logger
}

// RuleOption configures the rule repository.
type RuleOption func(*RuleRepository)

// WithRuleAudit records rule writes to the audit log.
func WithRuleAudit(logger audit.Logger) RuleOption {
	return func(repo *RuleRepository) {
		repo.audit = logger
	}
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB, opts ...RuleOption) *RuleRepository {
	repo := &RuleRepository{db: db, table: defaultAlertRulesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rule *alerts.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alert rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, r.ident(), ruleColumns)
	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.OrgID, nullableString(rule.SiteID), nullableString(rule.UnitID),
		nullableTenths(rule.TempMin), nullableTenths(rule.TempMax),
		nullableSeconds(rule.ConfirmDelay), nullableSeconds(rule.StabilizationWindow), nullableSeconds(rule.EscalateAfter),
		rule.CriticalAtLevel, rule.InterruptAfterMissed, rule.OfflineAfterMissed,
		int64(rule.ManualRequiredAfter/time.Second), rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	r.logRuleAudit(ctx, rule)
	return nil
}

// ListForUnit returns enabled rules of the org scoped to the unit, its site, or the whole org.
func (r *RuleRepository) ListForUnit(ctx context.Context, orgID, siteID, unitID string) ([]alerts.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if orgID == "" {
		return nil, errors.New("alert rule repo: invalid query")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE org_id = $1 AND enabled = TRUE
	AND (site_id IS NULL OR site_id = $2)
	AND (unit_id IS NULL OR unit_id = $3)
ORDER BY created_at ASC`, ruleColumns, r.ident())
	rows, err := r.db.QueryContext(ctx, query, orgID, siteID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Rule
	for rows.Next() {
		var rule alerts.Rule
		var siteCol, unitCol sql.NullString
		var tempMin, tempMax sql.NullInt32
		var confirm, window, escalate sql.NullInt64
		var manualSeconds int64
		if err := rows.Scan(
			&rule.ID,
			&rule.OrgID,
			&siteCol,
			&unitCol,
			&tempMin,
			&tempMax,
			&confirm,
			&window,
			&escalate,
			&rule.CriticalAtLevel,
			&rule.InterruptAfterMissed,
			&rule.OfflineAfterMissed,
			&manualSeconds,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.SiteID = siteCol.String
		rule.UnitID = unitCol.String
		rule.TempMin = tenthsOrNil(tempMin)
		rule.TempMax = tenthsOrNil(tempMax)
		rule.ConfirmDelay = secondsOrNil(confirm)
		rule.StabilizationWindow = secondsOrNil(window)
		rule.EscalateAfter = secondsOrNil(escalate)
		rule.ManualRequiredAfter = time.Duration(manualSeconds) * time.Second
		rule.CreatedAt = rule.CreatedAt.UTC()
		rule.UpdatedAt = rule.UpdatedAt.UTC()
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RuleRepository) logRuleAudit(ctx context.Context, rule *alerts.Rule) {
	if r.audit == nil || rule == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"site_id":  rule.SiteID,
		"unit_id":  rule.UnitID,
		"temp_min": rule.TempMin,
		"temp_max": rule.TempMax,
		"enabled":  rule.Enabled,
	})
	_ = r.audit.Log(ctx, audit.Entry{
		OrgID:        rule.OrgID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "alert_rule.create",
		ResourceType: "alert_rule",
		ResourceID:   rule.ID,
		UnitID:       rule.UnitID,
		Metadata:     meta,
	})
}

func (r *RuleRepository) ident() string {
	return pgx.Identifier{r.table}.Sanitize()
}

func nullableSeconds(value *time.Duration) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*value / time.Second), Valid: true}
}

func secondsOrNil(value sql.NullInt64) *time.Duration {
	if !value.Valid {
		return nil
	}
	d := time.Duration(value.Int64) * time.Second
	return &d
}

var _ alerts.RuleRepository = (*RuleRepository)(nil)
