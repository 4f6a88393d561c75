package evaluator

import (
	"context"
	"errors"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
	units "freshtrack-cloud/internal/units/domain"
)

const (
	resolutionStabilized = "temperature stable within range"
	resolutionResumed    = "readings resumed"
)

// transition applies one reading to a working copy of the unit.
type transition struct {
	e      *Evaluator
	unit   units.Unit
	policy alerts.Policy
	in     input
	now    time.Time
	out    *Outcome
}

func (t *transition) apply(ctx context.Context) error {
	temp := t.in.temperature
	t.unit.LastTemperature = &temp
	t.unit.LastReadingAt = t.in.recordedAt
	t.unit.AnchorAt = t.in.recordedAt

	if t.unit.Status.Interrupted() {
		if err := t.recover(ctx); err != nil {
			return err
		}
	}

	violation := t.policy.Violation(temp)
	switch t.unit.Status {
	case units.StatusOK:
		if violation == alerts.ThresholdNone {
			return nil
		}
		return t.beginExcursion(ctx, violation)

	case units.StatusExcursion:
		if violation == alerts.ThresholdNone {
			t.unit.Status = units.StatusOK
			t.unit.ClearTimers()
			return nil
		}
		if t.unit.ExcursionStartedAt.IsZero() {
			t.unit.ExcursionStartedAt = t.in.recordedAt
		}
		if t.in.recordedAt.Sub(t.unit.ExcursionStartedAt) >= t.policy.ConfirmDelay {
			return t.confirm(ctx, violation)
		}
		return nil

	case units.StatusAlarmActive:
		if violation == alerts.ThresholdNone {
			t.unit.Status = units.StatusRestoring
			t.unit.RestoringStartedAt = t.in.recordedAt
			if t.policy.StabilizationWindow <= 0 {
				return t.stabilize(ctx)
			}
			return nil
		}
		return t.sustain(ctx, violation)

	case units.StatusRestoring:
		if violation == alerts.ThresholdNone {
			if t.unit.RestoringStartedAt.IsZero() {
				t.unit.RestoringStartedAt = t.in.recordedAt
			}
			if t.in.recordedAt.Sub(t.unit.RestoringStartedAt) >= t.policy.StabilizationWindow {
				return t.stabilize(ctx)
			}
			return nil
		}
		t.unit.Status = units.StatusAlarmActive
		t.unit.RestoringStartedAt = time.Time{}
		return t.relapse(ctx, violation)
	}
	return nil
}

// recover leaves an interrupted status: interruption alerts close and the
// reading is evaluated from alarm_active when a temperature alarm is still open.
func (t *transition) recover(ctx context.Context) error {
	for _, alertType := range []alerts.Type{alerts.TypeMonitoringInterrupted, alerts.TypeMissedManualEntry} {
		resolved, err := t.e.resolveOpen(ctx, t.unit.ID, alertType, resolutionResumed, t.now)
		if err != nil {
			return err
		}
		if resolved != nil {
			t.out.AlertResolved = true
		}
	}
	open, err := t.e.alerts.FindOpen(ctx, t.unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return err
	}
	t.unit.InterruptedAt = time.Time{}
	t.unit.ClearTimers()
	if open != nil {
		t.unit.Status = units.StatusAlarmActive
	} else {
		t.unit.Status = units.StatusOK
	}
	return nil
}

// confirm moves excursion -> alarm_active and opens the alert.
func (t *transition) confirm(ctx context.Context, violation alerts.Threshold) error {
	startedAt := t.unit.ExcursionStartedAt
	if startedAt.IsZero() {
		startedAt = t.in.recordedAt
	}
	t.unit.Status = units.StatusAlarmActive
	t.unit.ClearTimers()

	temp := t.in.temperature
	alert, created, err := t.e.alerts.Open(ctx, alerts.Alert{
		ID:                 t.e.newID(),
		OrgID:              t.unit.OrgID,
		UnitID:             t.unit.ID,
		RuleID:             t.policy.RuleID,
		Type:               alerts.TypeAlarmActive,
		Severity:           alerts.SeverityWarning,
		Status:             alerts.StatusActive,
		TriggerTemperature: &temp,
		LastTemperature:    &temp,
		ThresholdViolated:  violation,
		TriggerReadingID:   t.in.readingID,
		TriggeredAt:        startedAt,
		CreatedAt:          t.now,
		UpdatedAt:          t.now,
	})
	if err != nil {
		return err
	}
	t.out.AlertID = alert.ID
	if created {
		t.out.AlertCreated = true
		t.e.emit(ctx, alerts.EventOpened, alert, t.now)
		return nil
	}
	// A replay of the confirming reading finds the alert it opened.
	if alert.TriggeredAt.Equal(startedAt) {
		return t.e.alerts.UpdateLastTemperature(ctx, alert.ID, temp, t.now)
	}
	return t.raise(ctx, alert)
}

// sustain handles continued violation while alarm_active.
func (t *transition) sustain(ctx context.Context, violation alerts.Threshold) error {
	open, err := t.e.alerts.FindOpen(ctx, t.unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return err
	}
	if open == nil {
		return t.beginExcursion(ctx, violation)
	}
	t.out.AlertID = open.ID
	return t.e.alerts.UpdateLastTemperature(ctx, open.ID, t.in.temperature, t.now)
}

// relapse handles a violation during the stabilization window.
func (t *transition) relapse(ctx context.Context, violation alerts.Threshold) error {
	open, err := t.e.alerts.FindOpen(ctx, t.unit.ID, alerts.TypeAlarmActive)
	if err != nil {
		return err
	}
	if open == nil {
		return t.beginExcursion(ctx, violation)
	}
	t.out.AlertID = open.ID
	return t.raise(ctx, *open)
}

// beginExcursion starts the confirmation delay. A violation with no open
// alert, including one an operator already resolved, waits out the delay
// like any new excursion.
func (t *transition) beginExcursion(ctx context.Context, violation alerts.Threshold) error {
	t.unit.Status = units.StatusExcursion
	t.unit.ClearTimers()
	t.unit.ExcursionStartedAt = t.in.recordedAt
	if t.policy.ConfirmDelay <= 0 {
		return t.confirm(ctx, violation)
	}
	return nil
}

// raise escalates an open alert; acknowledged alerts only track temperature.
func (t *transition) raise(ctx context.Context, alert alerts.Alert) error {
	if err := t.e.alerts.UpdateLastTemperature(ctx, alert.ID, t.in.temperature, t.now); err != nil {
		return err
	}
	if !alert.Escalatable() {
		return nil
	}
	escalated, err := t.e.alerts.Escalate(ctx, alert.ID, t.policy.CriticalAtLevel, t.now)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil
		}
		return err
	}
	t.out.AlertEscalated = true
	t.out.AlertID = escalated.ID
	t.e.emit(ctx, alerts.EventEscalated, escalated, t.now)
	return nil
}

// stabilize completes restoring -> ok and auto-resolves the temperature alert.
func (t *transition) stabilize(ctx context.Context) error {
	t.unit.Status = units.StatusOK
	t.unit.ClearTimers()
	resolved, err := t.e.resolveOpen(ctx, t.unit.ID, alerts.TypeAlarmActive, resolutionStabilized, t.now)
	if err != nil {
		return err
	}
	if resolved != nil {
		t.out.AlertResolved = true
		t.out.AlertID = resolved.ID
	}
	return nil
}
