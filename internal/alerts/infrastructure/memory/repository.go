package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	readings "freshtrack-cloud/internal/readings/domain"
)

// AlertRepository is an in-memory alert store with the same transition rules as Postgres.
type AlertRepository struct {
	mu     sync.Mutex
	alerts map[string]alerts.Alert
	order  []string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]alerts.Alert)}
}

// Open inserts the alert unless one of the same unit and type is open.
func (r *AlertRepository) Open(ctx context.Context, alert alerts.Alert) (alerts.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findOpenLocked(alert.UnitID, alert.Type); existing != nil {
		return *existing, false, nil
	}
	if alert.Status == "" {
		alert.Status = alerts.StatusActive
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	r.alerts[alert.ID] = alert
	r.order = append(r.order, alert.ID)
	return alert, true, nil
}

// Get returns an alert by id.
func (r *AlertRepository) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, nil
	}
	return &alert, nil
}

// FindOpen returns the open alert of a type for a unit.
func (r *AlertRepository) FindOpen(ctx context.Context, unitID string, alertType alerts.Type) (*alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOpenLocked(unitID, alertType), nil
}

// List returns alerts matching filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []alerts.Alert
	for _, id := range r.order {
		alert := r.alerts[id]
		if filter.OrgID != "" && alert.OrgID != filter.OrgID {
			continue
		}
		if filter.UnitID != "" && alert.UnitID != filter.UnitID {
			continue
		}
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if filter.Type != "" && alert.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && alert.TriggeredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !alert.TriggeredAt.Before(filter.To) {
			continue
		}
		result = append(result, alert)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].TriggeredAt.After(result[j].TriggeredAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListEscalatable returns active and escalated alerts.
func (r *AlertRepository) ListEscalatable(ctx context.Context) ([]alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []alerts.Alert
	for _, id := range r.order {
		if alert := r.alerts[id]; alert.Escalatable() {
			result = append(result, alert)
		}
	}
	return result, nil
}

// Acknowledge moves active -> acknowledged.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, actor, notes string, at time.Time) (alerts.Alert, error) {
	return r.transition(id, alerts.CheckAcknowledge, func(alert *alerts.Alert) {
		alert.Status = alerts.StatusAcknowledged
		alert.AcknowledgedAt = at.UTC()
		alert.AcknowledgedBy = actor
		alert.AckNotes = notes
		alert.UpdatedAt = at.UTC()
	})
}

// Resolve moves an open alert to resolved.
func (r *AlertRepository) Resolve(ctx context.Context, id, actor, resolution string, at time.Time) (alerts.Alert, error) {
	return r.transition(id, alerts.CheckResolve, func(alert *alerts.Alert) {
		alert.Status = alerts.StatusResolved
		alert.ResolvedAt = at.UTC()
		alert.ResolvedBy = actor
		alert.Resolution = resolution
		alert.UpdatedAt = at.UTC()
	})
}

// Escalate increments the escalation level.
func (r *AlertRepository) Escalate(ctx context.Context, id string, criticalAt int, at time.Time) (alerts.Alert, error) {
	return r.transition(id, alerts.CheckEscalate, func(alert *alerts.Alert) {
		alert.EscalationLevel++
		alert.Severity = alerts.SeverityForLevel(alert.Severity, alert.EscalationLevel, criticalAt)
		alert.Status = alerts.StatusEscalated
		alert.EscalatedAt = at.UTC()
		alert.UpdatedAt = at.UTC()
	})
}

// UpdateLastTemperature records the latest violating temperature.
func (r *AlertRepository) UpdateLastTemperature(ctx context.Context, id string, temperature readings.Tenths, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return alerts.ErrNotFound
	}
	alert.LastTemperature = &temperature
	alert.UpdatedAt = at.UTC()
	r.alerts[id] = alert
	return nil
}

func (r *AlertRepository) transition(id string, check func(alerts.Status) error, apply func(*alerts.Alert)) (alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return alerts.Alert{}, alerts.ErrNotFound
	}
	if err := check(alert.Status); err != nil {
		return alert, err
	}
	apply(&alert)
	r.alerts[id] = alert
	return alert, nil
}

func (r *AlertRepository) findOpenLocked(unitID string, alertType alerts.Type) *alerts.Alert {
	for _, id := range r.order {
		alert := r.alerts[id]
		if alert.UnitID == unitID && alert.Type == alertType && alert.IsOpen() {
			return &alert
		}
	}
	return nil
}

// RuleRepository is an in-memory rule store.
type RuleRepository struct {
	mu    sync.RWMutex
	rules []alerts.Rule
}

// NewRuleRepository constructs a rule repository.
func NewRuleRepository(rules ...alerts.Rule) *RuleRepository {
	return &RuleRepository{rules: rules}
}

// Add appends a rule.
func (r *RuleRepository) Add(rule alerts.Rule) {
	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
}

// ListForUnit returns rules of the org; scope filtering happens in ResolvePolicy.
func (r *RuleRepository) ListForUnit(ctx context.Context, orgID, siteID, unitID string) ([]alerts.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []alerts.Rule
	for _, rule := range r.rules {
		if rule.Matches(orgID, siteID, unitID) {
			result = append(result, rule)
		}
	}
	return result, nil
}

var (
	_ alerts.Repository     = (*AlertRepository)(nil)
	_ alerts.RuleRepository = (*RuleRepository)(nil)
)
