package evaluator

import (
	"context"
	"errors"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/observability/metrics"
)

// EscalateOverdue escalates open alerts that nobody acknowledged within the
// rule's EscalateAfter, measured from their last raise. Returns the count escalated.
func (e *Evaluator) EscalateOverdue(ctx context.Context, now time.Time) (int, error) {
	if e == nil {
		return 0, errors.New("evaluator: nil evaluator")
	}
	candidates, err := e.alerts.ListEscalatable(ctx)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	now = now.UTC()
	policies := make(map[string]*alerts.Policy)
	escalated := 0
	var errs []error
	for _, alert := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		policy, ok := policies[alert.UnitID]
		if !ok {
			policy, err = e.policyForUnit(ctx, alert.UnitID)
			if err != nil {
				errs = append(errs, evalErr(alert.UnitID, err))
				continue
			}
			policies[alert.UnitID] = policy
		}
		if policy == nil || policy.EscalateAfter <= 0 {
			continue
		}
		if now.Sub(alert.LastRaisedAt()) < policy.EscalateAfter {
			continue
		}
		done, err := e.escalateOne(ctx, alert, *policy, now)
		if err != nil {
			e.logger.Printf("evaluator: escalation failed: alert=%s err=%v", alert.ID, err)
			errs = append(errs, evalErr(alert.UnitID, err))
			continue
		}
		if done {
			escalated++
		}
	}
	metrics.AddSweepActions("escalation", escalated)
	return escalated, errors.Join(errs...)
}

func (e *Evaluator) escalateOne(ctx context.Context, alert alerts.Alert, policy alerts.Policy, now time.Time) (bool, error) {
	unlock, err := e.locker.Lock(ctx, alert.UnitID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Re-read under the unit lock; an operator may have acted since listing.
	current, err := e.alerts.Get(ctx, alert.ID)
	if err != nil {
		return false, err
	}
	if current == nil || !current.Escalatable() || now.Sub(current.LastRaisedAt()) < policy.EscalateAfter {
		return false, nil
	}
	escalated, err := e.alerts.Escalate(ctx, current.ID, policy.CriticalAtLevel, now)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	e.emit(ctx, alerts.EventEscalated, escalated, now)
	return true, nil
}

func (e *Evaluator) policyForUnit(ctx context.Context, unitID string) (*alerts.Policy, error) {
	unit, err := e.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, nil
	}
	policy, err := e.policyFor(ctx, *unit)
	if err != nil {
		return nil, err
	}
	return &policy, nil
}
