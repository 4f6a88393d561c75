package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/observability/metrics"
	units "freshtrack-cloud/internal/units/domain"
)

// LivenessReport summarizes one liveness sweep.
type LivenessReport struct {
	Checked        int
	Interrupted    int
	Offline        int
	ManualRequired int
	Failures       int
}

// CheckLiveness moves silent units into the interrupted statuses. A unit only
// moves forward: monitoring_interrupted, then offline, then manual_required.
func (e *Evaluator) CheckLiveness(ctx context.Context, now time.Time) (LivenessReport, error) {
	var report LivenessReport
	if e == nil {
		return report, errors.New("evaluator: nil evaluator")
	}
	list, err := e.units.ListMonitored(ctx)
	if err != nil {
		return report, apperr.Storage(err)
	}
	now = now.UTC()
	var errs []error
	for _, candidate := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Checked++
		status, err := e.checkUnit(ctx, candidate.ID, now)
		if err != nil {
			report.Failures++
			metrics.IncEvaluationFailure()
			e.logger.Printf("evaluator: liveness check failed: unit=%s err=%v", candidate.ID, err)
			errs = append(errs, err)
			continue
		}
		switch status {
		case units.StatusMonitoringInterrupted:
			report.Interrupted++
		case units.StatusOffline:
			report.Offline++
		case units.StatusManualRequired:
			report.ManualRequired++
		}
	}
	metrics.AddSweepActions("liveness", report.Interrupted+report.Offline+report.ManualRequired)
	return report, errors.Join(errs...)
}

// checkUnit returns the status the unit entered, or "" when unchanged.
func (e *Evaluator) checkUnit(ctx context.Context, unitID string, now time.Time) (units.Status, error) {
	unlock, err := e.locker.Lock(ctx, unitID)
	if err != nil {
		return "", evalErr(unitID, err)
	}
	defer unlock()

	unit, err := e.units.Get(ctx, unitID)
	if err != nil {
		return "", evalErr(unitID, err)
	}
	if unit == nil {
		return "", nil
	}
	lastSeen := unit.LastSeen()
	if lastSeen.IsZero() {
		return "", nil
	}
	policy, err := e.policyFor(ctx, *unit)
	if err != nil {
		return "", evalErr(unitID, err)
	}

	target := livenessStatus(now.Sub(lastSeen), unit.Interval(), policy)
	if target.InterruptionRank() <= unit.Status.InterruptionRank() {
		return "", nil
	}

	if err := e.raiseInterruption(ctx, *unit, target, policy, now); err != nil {
		return "", evalErr(unitID, err)
	}

	state := *unit
	state.Status = target
	state.ClearTimers()
	if state.InterruptedAt.IsZero() {
		state.InterruptedAt = now
	}
	state.UpdatedAt = now
	if err := e.units.SaveState(ctx, state); err != nil {
		return "", evalErr(unitID, err)
	}
	e.logger.Printf("evaluator: unit %s: %s -> %s (silent for %s)", unitID, unit.Status, target, now.Sub(lastSeen).Truncate(time.Second))
	return target, nil
}

func livenessStatus(silence, interval time.Duration, policy alerts.Policy) units.Status {
	switch {
	case policy.ManualRequiredAfter > 0 && silence >= policy.ManualRequiredAfter:
		return units.StatusManualRequired
	case policy.OfflineAfterMissed > 0 && silence >= time.Duration(policy.OfflineAfterMissed)*interval:
		return units.StatusOffline
	case policy.InterruptAfterMissed > 0 && silence >= time.Duration(policy.InterruptAfterMissed)*interval:
		return units.StatusMonitoringInterrupted
	default:
		return ""
	}
}

// raiseInterruption opens and escalates the liveness alerts for the target status.
func (e *Evaluator) raiseInterruption(ctx context.Context, unit units.Unit, target units.Status, policy alerts.Policy, now time.Time) error {
	interrupted, err := e.openLivenessAlert(ctx, unit, alerts.TypeMonitoringInterrupted, policy, now)
	if err != nil {
		return err
	}
	if target.InterruptionRank() >= units.StatusOffline.InterruptionRank() &&
		unit.Status.InterruptionRank() < units.StatusOffline.InterruptionRank() &&
		interrupted.Escalatable() && interrupted.Severity != alerts.SeverityCritical {
		escalated, err := e.alerts.Escalate(ctx, interrupted.ID, 1, now)
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return err
		}
		if err == nil {
			e.emit(ctx, alerts.EventEscalated, escalated, now)
		}
	}
	if target == units.StatusManualRequired {
		if _, err := e.openLivenessAlert(ctx, unit, alerts.TypeMissedManualEntry, policy, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) openLivenessAlert(ctx context.Context, unit units.Unit, alertType alerts.Type, policy alerts.Policy, now time.Time) (alerts.Alert, error) {
	alert, created, err := e.alerts.Open(ctx, alerts.Alert{
		ID:              e.newID(),
		OrgID:           unit.OrgID,
		UnitID:          unit.ID,
		RuleID:          policy.RuleID,
		Type:            alertType,
		Severity:        alerts.SeverityWarning,
		Status:          alerts.StatusActive,
		LastTemperature: unit.LastTemperature,
		TriggeredAt:     unit.LastSeen(),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("open %s alert: %w", alertType, err)
	}
	if created {
		e.emit(ctx, alerts.EventOpened, alert, now)
	}
	return alert, nil
}
