package evaluator

import (
	"context"
	"testing"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	units "freshtrack-cloud/internal/units/domain"
)

func silentCooler(id string) units.Unit {
	unit := cooler(id)
	unit.LastReadingAt = t0
	unit.AnchorAt = t0
	return unit
}

func TestLivenessProgression(t *testing.T) {
	f := newFixture(t, silentCooler("u1"))
	ctx := context.Background()

	report, err := f.eval.CheckLiveness(ctx, t0.Add(9*time.Minute))
	if err != nil || report.Checked != 1 || report.Interrupted != 0 {
		t.Fatalf("nothing due yet: %+v err=%v", report, err)
	}

	report, err = f.eval.CheckLiveness(ctx, t0.Add(10*time.Minute))
	if err != nil || report.Interrupted != 1 {
		t.Fatalf("expected interruption after two missed intervals: %+v err=%v", report, err)
	}
	if unit := f.unit(t, "u1"); unit.Status != units.StatusMonitoringInterrupted || !unit.InterruptedAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("unexpected unit state %s %s", unit.Status, unit.InterruptedAt)
	}
	list := f.alertsOf(t, "u1", alerts.TypeMonitoringInterrupted)
	if len(list) != 1 || list[0].Severity != alerts.SeverityWarning || !list[0].TriggeredAt.Equal(t0) {
		t.Fatalf("expected one warning interruption alert, got %+v", list)
	}

	if report, _ = f.eval.CheckLiveness(ctx, t0.Add(29*time.Minute)); report.Offline != 0 || report.Interrupted != 0 {
		t.Fatalf("no repeat transition expected: %+v", report)
	}

	report, err = f.eval.CheckLiveness(ctx, t0.Add(30*time.Minute))
	if err != nil || report.Offline != 1 {
		t.Fatalf("expected offline after six missed intervals: %+v err=%v", report, err)
	}
	list = f.alertsOf(t, "u1", alerts.TypeMonitoringInterrupted)
	if len(list) != 1 || list[0].Severity != alerts.SeverityCritical || list[0].Status != alerts.StatusEscalated {
		t.Fatalf("expected the interruption alert escalated to critical, got %+v", list)
	}

	report, err = f.eval.CheckLiveness(ctx, t0.Add(4*time.Hour))
	if err != nil || report.ManualRequired != 1 {
		t.Fatalf("expected manual_required: %+v err=%v", report, err)
	}
	if got := f.alertsOf(t, "u1", alerts.TypeMissedManualEntry); len(got) != 1 {
		t.Fatalf("expected missed manual entry alert, got %d", len(got))
	}
	if report, _ = f.eval.CheckLiveness(ctx, t0.Add(5*time.Hour)); report.ManualRequired != 0 {
		t.Fatalf("manual_required is the last step: %+v", report)
	}
	if unit := f.unit(t, "u1"); unit.Status != units.StatusManualRequired {
		t.Fatalf("expected manual_required, got %s", unit.Status)
	}
}

func TestReadingAfterInterruptionResolvesLivenessAlerts(t *testing.T) {
	f := newFixture(t, silentCooler("u1"))
	ctx := context.Background()
	if _, err := f.eval.CheckLiveness(ctx, t0.Add(4*time.Hour)); err != nil {
		t.Fatalf("liveness: %v", err)
	}

	out := f.feed(t, "u1", 5*time.Hour, 36)
	if out.From != units.StatusManualRequired || out.To != units.StatusOK || !out.AlertResolved {
		t.Fatalf("expected recovery to ok, got %+v", out)
	}
	for _, alertType := range []alerts.Type{alerts.TypeMonitoringInterrupted, alerts.TypeMissedManualEntry} {
		list := f.alertsOf(t, "u1", alertType)
		if len(list) != 1 || list[0].Status != alerts.StatusResolved || list[0].ResolvedBy != alerts.SystemActor {
			t.Fatalf("expected %s resolved by system, got %+v", alertType, list)
		}
	}
	if unit := f.unit(t, "u1"); !unit.InterruptedAt.IsZero() {
		t.Fatalf("interruption anchor must be cleared")
	}
}

func TestInterruptionKeepsOpenTemperatureAlarm(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")
	if _, err := f.eval.CheckLiveness(context.Background(), t0.Add(15*time.Minute)); err != nil {
		t.Fatalf("liveness: %v", err)
	}
	if unit := f.unit(t, "u1"); unit.Status != units.StatusMonitoringInterrupted {
		t.Fatalf("expected interruption, got %s", unit.Status)
	}

	out := f.feed(t, "u1", 16*time.Minute, 38)
	if out.To != units.StatusRestoring {
		t.Fatalf("open alarm must resume through restoring, got %s", out.To)
	}
	if alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]; alert.Status != alerts.StatusActive {
		t.Fatalf("temperature alarm must stay open, got %s", alert.Status)
	}

	out = f.feed(t, "u1", 17*time.Minute, 44)
	if out.To != units.StatusAlarmActive || !out.AlertEscalated {
		t.Fatalf("expected relapse escalation, got %+v", out)
	}
}

func TestLivenessUsesCreationTimeForSilentUnits(t *testing.T) {
	unit := cooler("u1")
	unit.CreatedAt = t0
	f := newFixture(t, unit)
	report, err := f.eval.CheckLiveness(context.Background(), t0.Add(11*time.Minute))
	if err != nil || report.Interrupted != 1 {
		t.Fatalf("expected never-reporting unit to be interrupted: %+v err=%v", report, err)
	}
}
