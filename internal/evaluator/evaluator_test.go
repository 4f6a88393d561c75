package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	alerts "freshtrack-cloud/internal/alerts/domain"
	alertmemory "freshtrack-cloud/internal/alerts/infrastructure/memory"
	"freshtrack-cloud/internal/apperr"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
	unitmemory "freshtrack-cloud/internal/units/infrastructure/memory"
)

var t0 = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type captureNotifier struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (c *captureNotifier) Notify(_ context.Context, event alerts.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *captureNotifier) kinds() []alerts.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]alerts.EventKind, 0, len(c.events))
	for _, event := range c.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type fixture struct {
	eval     *Evaluator
	units    *unitmemory.UnitRepository
	alerts   *alertmemory.AlertRepository
	rules    *alertmemory.RuleRepository
	clock    *fakeClock
	notifier *captureNotifier
}

func cooler(id string) units.Unit {
	return units.Unit{
		ID:               id,
		OrgID:            "org-a",
		SiteID:           "site-1",
		Name:             "Cooler " + id,
		TempMin:          320,
		TempMax:          400,
		TempUnit:         readings.Fahrenheit,
		ExpectedInterval: 5 * time.Minute,
		Status:           units.StatusOK,
		CreatedAt:        t0.Add(-24 * time.Hour),
	}
}

func newFixture(t *testing.T, seed ...units.Unit) *fixture {
	t.Helper()
	f := &fixture{
		units:    unitmemory.NewUnitRepository(seed...),
		alerts:   alertmemory.NewAlertRepository(),
		rules:    alertmemory.NewRuleRepository(),
		clock:    &fakeClock{now: t0},
		notifier: &captureNotifier{},
	}
	seq := 0
	var mu sync.Mutex
	eval, err := New(f.units, f.alerts, f.rules,
		WithClock(f.clock),
		WithNotifier(f.notifier),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("alert-%d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	f.eval = eval
	return f
}

// feed evaluates one reading at t0+offset with the clock following recorded time.
func (f *fixture) feed(t *testing.T, unitID string, offset time.Duration, degrees float64) Outcome {
	t.Helper()
	at := t0.Add(offset)
	f.clock.Set(at.Add(2 * time.Second))
	out, err := f.eval.Evaluate(context.Background(), unitID, readings.TenthsFromFloat(degrees), at)
	if err != nil {
		t.Fatalf("evaluate %s @%s: %v", unitID, offset, err)
	}
	return out
}

func (f *fixture) unit(t *testing.T, id string) units.Unit {
	t.Helper()
	unit, err := f.units.Get(context.Background(), id)
	if err != nil || unit == nil {
		t.Fatalf("get unit %s: %v", id, err)
	}
	return *unit
}

func (f *fixture) alertsOf(t *testing.T, unitID string, alertType alerts.Type) []alerts.Alert {
	t.Helper()
	list, err := f.alerts.List(context.Background(), alerts.Filter{UnitID: unitID, Type: alertType})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	return list
}

func TestExcursionConfirmsAfterDelay(t *testing.T) {
	f := newFixture(t, cooler("u1"))

	for i, temp := range []float64{41, 42, 43, 44, 45} {
		out := f.feed(t, "u1", time.Duration(i)*time.Minute, temp)
		if out.AlertCreated {
			t.Fatalf("reading %d must not create an alert", i+1)
		}
		if out.To != units.StatusExcursion {
			t.Fatalf("reading %d: expected excursion, got %s", i+1, out.To)
		}
	}
	if got := f.alertsOf(t, "u1", alerts.TypeAlarmActive); len(got) != 0 {
		t.Fatalf("expected no alert before the delay, got %d", len(got))
	}

	out := f.feed(t, "u1", 5*time.Minute, 46)
	if !out.AlertCreated || out.To != units.StatusAlarmActive {
		t.Fatalf("sixth reading must confirm: %+v", out)
	}
	list := f.alertsOf(t, "u1", alerts.TypeAlarmActive)
	if len(list) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(list))
	}
	alert := list[0]
	if alert.Severity != alerts.SeverityWarning || alert.Status != alerts.StatusActive {
		t.Fatalf("unexpected alert state %s/%s", alert.Severity, alert.Status)
	}
	if !alert.TriggeredAt.Equal(t0) || alert.ThresholdViolated != alerts.ThresholdMax {
		t.Fatalf("alert must anchor on first violation: %s %s", alert.TriggeredAt, alert.ThresholdViolated)
	}
	if *alert.TriggerTemperature != 460 {
		t.Fatalf("unexpected trigger temperature %s", alert.TriggerTemperature)
	}

	for i := 6; i < 12; i++ {
		if out := f.feed(t, "u1", time.Duration(i)*time.Minute, 47); out.AlertCreated {
			t.Fatalf("continued violation must not create another alert")
		}
	}
	if list := f.alertsOf(t, "u1", alerts.TypeAlarmActive); len(list) != 1 || *list[0].LastTemperature != 470 {
		t.Fatalf("expected one alert tracking last temperature, got %+v", list)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != alerts.EventOpened {
		t.Fatalf("expected a single opened event, got %v", kinds)
	}
}

func TestExcursionClearsBeforeDelay(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	f.feed(t, "u1", 0, 41)
	f.feed(t, "u1", time.Minute, 44)
	out := f.feed(t, "u1", 2*time.Minute, 38)
	if out.To != units.StatusOK || out.AlertCreated {
		t.Fatalf("expected ok without alert, got %+v", out)
	}
	if unit := f.unit(t, "u1"); !unit.ExcursionStartedAt.IsZero() {
		t.Fatalf("excursion anchor must be cleared")
	}
	// A new excursion starts a fresh delay.
	f.feed(t, "u1", 3*time.Minute, 41)
	if out := f.feed(t, "u1", 7*time.Minute, 41); out.AlertCreated {
		t.Fatalf("delay must restart from the new excursion")
	}
	if out := f.feed(t, "u1", 8*time.Minute, 41); !out.AlertCreated {
		t.Fatalf("expected alert 5 minutes after the new excursion start")
	}
}

func TestInRangeNeverAlerts(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	for i := 0; i < 60; i++ {
		temp := 32.0 + float64(i%9)
		if out := f.feed(t, "u1", time.Duration(i)*time.Minute, temp); out.To != units.StatusOK {
			t.Fatalf("in-range reading %v moved unit to %s", temp, out.To)
		}
	}
	if got := f.alertsOf(t, "u1", ""); len(got) != 0 {
		t.Fatalf("expected no alerts, got %d", len(got))
	}
}

func confirmAlarm(t *testing.T, f *fixture, unitID string) {
	t.Helper()
	for i, temp := range []float64{41, 42, 43, 44, 45, 46} {
		f.feed(t, unitID, time.Duration(i)*time.Minute, temp)
	}
	if unit := f.unit(t, unitID); unit.Status != units.StatusAlarmActive {
		t.Fatalf("expected alarm_active, got %s", unit.Status)
	}
}

func TestRestoringResolvesAfterStabilizationWindow(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")

	out := f.feed(t, "u1", 6*time.Minute, 38)
	if out.To != units.StatusRestoring || out.AlertResolved {
		t.Fatalf("expected restoring without resolve, got %+v", out)
	}
	f.feed(t, "u1", 7*time.Minute, 37)
	for offset := 9 * time.Minute; offset < 16*time.Minute; offset += time.Minute {
		if out := f.feed(t, "u1", offset, 36); out.AlertResolved || out.To != units.StatusRestoring {
			t.Fatalf("resolved too early at +%s: %+v", offset, out)
		}
	}
	if list := f.alertsOf(t, "u1", alerts.TypeAlarmActive); list[0].Status != alerts.StatusActive {
		t.Fatalf("alert must stay active during restoring, got %s", list[0].Status)
	}

	out = f.feed(t, "u1", 16*time.Minute, 36)
	if !out.AlertResolved || out.To != units.StatusOK {
		t.Fatalf("expected resolve after 10 minutes in range, got %+v", out)
	}
	alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]
	if alert.Status != alerts.StatusResolved || alert.ResolvedBy != alerts.SystemActor {
		t.Fatalf("expected system resolve, got %s by %s", alert.Status, alert.ResolvedBy)
	}
}

func TestRelapseDuringRestoringResetsWindowAndEscalates(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")

	f.feed(t, "u1", 6*time.Minute, 38)
	out := f.feed(t, "u1", 10*time.Minute, 42)
	if out.To != units.StatusAlarmActive || !out.AlertEscalated || out.AlertCreated {
		t.Fatalf("expected escalation on relapse, got %+v", out)
	}
	alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]
	if alert.EscalationLevel != 1 || alert.Severity != alerts.SeverityCritical {
		t.Fatalf("expected level 1 critical, got %d %s", alert.EscalationLevel, alert.Severity)
	}

	f.feed(t, "u1", 11*time.Minute, 38)
	if out := f.feed(t, "u1", 16*time.Minute, 38); out.AlertResolved {
		t.Fatalf("window must restart after relapse")
	}
	if out := f.feed(t, "u1", 21*time.Minute, 38); !out.AlertResolved {
		t.Fatalf("expected resolve 10 minutes after the restart")
	}
	if got := f.alertsOf(t, "u1", alerts.TypeAlarmActive); len(got) != 1 {
		t.Fatalf("expected one alert in total, got %d", len(got))
	}
}

func TestAcknowledgedAlertIsNotEscalatedOnRelapse(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")
	alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]
	if _, err := f.alerts.Acknowledge(context.Background(), alert.ID, "user-1", "", t0.Add(6*time.Minute)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	f.feed(t, "u1", 7*time.Minute, 38)
	out := f.feed(t, "u1", 8*time.Minute, 44)
	if out.AlertEscalated || out.To != units.StatusAlarmActive {
		t.Fatalf("unexpected outcome %+v", out)
	}
	alert = f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]
	if alert.Status != alerts.StatusAcknowledged || *alert.LastTemperature != 440 {
		t.Fatalf("expected acknowledged alert tracking temperature, got %+v", alert)
	}
}

func TestRelapseAfterOperatorResolveWaitsForConfirmation(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")
	f.feed(t, "u1", 6*time.Minute, 38)

	alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]
	if _, err := f.alerts.Resolve(context.Background(), alert.ID, "user-1", "door closed", t0.Add(7*time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	out := f.feed(t, "u1", 8*time.Minute, 41)
	if out.AlertCreated || out.To != units.StatusExcursion {
		t.Fatalf("single spike must only start an excursion, got %+v", out)
	}
	if unit := f.unit(t, "u1"); !unit.ExcursionStartedAt.Equal(t0.Add(8 * time.Minute)) {
		t.Fatalf("expected excursion anchored at the spike, got %s", unit.ExcursionStartedAt)
	}
	if out := f.feed(t, "u1", 9*time.Minute, 38); out.To != units.StatusOK || out.AlertCreated {
		t.Fatalf("expected return to ok, got %+v", out)
	}

	for i := 0; i < 5; i++ {
		if out := f.feed(t, "u1", time.Duration(10+i)*time.Minute, 42); out.AlertCreated {
			t.Fatalf("alert opened before the delay at reading %d", i+1)
		}
	}
	if out := f.feed(t, "u1", 15*time.Minute, 42); !out.AlertCreated {
		t.Fatalf("expected a fresh alert once the delay elapsed, got %+v", out)
	}
	if got := f.alertsOf(t, "u1", alerts.TypeAlarmActive); len(got) != 2 {
		t.Fatalf("expected the resolved alert plus one fresh alert, got %d", len(got))
	}
}

func TestSustainedViolationAfterOperatorResolveRestartsDelay(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")
	alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]
	if _, err := f.alerts.Resolve(context.Background(), alert.ID, "user-1", "", t0.Add(6*time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	out := f.feed(t, "u1", 7*time.Minute, 44)
	if out.AlertCreated || out.To != units.StatusExcursion {
		t.Fatalf("expected a new excursion, got %+v", out)
	}
	if out := f.feed(t, "u1", 12*time.Minute, 44); !out.AlertCreated || out.To != units.StatusAlarmActive {
		t.Fatalf("expected a fresh alert after the delay, got %+v", out)
	}
}

func TestOutOfOrderAndReplayedReadingsAreSkipped(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	confirmAlarm(t, f, "u1")
	before := f.unit(t, "u1")

	out := f.feed(t, "u1", 3*time.Minute, 38)
	if !out.Skipped || out.To != units.StatusAlarmActive {
		t.Fatalf("expected skipped late reading, got %+v", out)
	}
	out = f.feed(t, "u1", 5*time.Minute, 46)
	if !out.Skipped || out.AlertCreated || out.AlertEscalated {
		t.Fatalf("replayed reading must be skipped, got %+v", out)
	}
	after := f.unit(t, "u1")
	if after.Status != before.Status || !after.AnchorAt.Equal(before.AnchorAt) {
		t.Fatalf("state changed by skipped readings")
	}
	if got := f.alertsOf(t, "u1", alerts.TypeAlarmActive); len(got) != 1 {
		t.Fatalf("expected one alert, got %d", len(got))
	}
}

func TestRuleOverridesUnitRange(t *testing.T) {
	f := newFixture(t, cooler("u1"))
	ceiling := readings.Tenths(450)
	delay := time.Duration(0)
	f.rules.Add(alerts.Rule{ID: "rule-site", OrgID: "org-a", SiteID: "site-1", TempMax: &ceiling, ConfirmDelay: &delay, Enabled: true})

	if out := f.feed(t, "u1", 0, 44); out.To != units.StatusOK {
		t.Fatalf("44 is within the widened range, got %s", out.To)
	}
	out := f.feed(t, "u1", time.Minute, 46)
	if !out.AlertCreated || out.To != units.StatusAlarmActive {
		t.Fatalf("zero delay must confirm immediately, got %+v", out)
	}
	if alert := f.alertsOf(t, "u1", alerts.TypeAlarmActive)[0]; alert.RuleID != "rule-site" {
		t.Fatalf("expected rule id on alert, got %q", alert.RuleID)
	}
}

func TestUnknownUnitIsEvaluationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.eval.Evaluate(context.Background(), "ghost", 300, t0)
	if !errors.Is(err, apperr.ErrEvaluation) || !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected evaluation/not found error, got %v", err)
	}
}
