package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	alerts "freshtrack-cloud/internal/alerts/domain"
	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/observability/metrics"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Outcome reports what one evaluation changed.
type Outcome struct {
	From           units.Status `json:"from"`
	To             units.Status `json:"to"`
	AlertCreated   bool         `json:"alert_created"`
	AlertResolved  bool         `json:"alert_resolved"`
	AlertEscalated bool         `json:"alert_escalated"`
	Skipped        bool         `json:"skipped"`
	AlertID        string       `json:"alert_id,omitempty"`
}

// Evaluator drives the per-unit monitoring state machine. It keeps no state
// between calls; pending timers live on the unit row.
type Evaluator struct {
	units    units.Repository
	alerts   alerts.Repository
	rules    alerts.RuleRepository
	notifier alerts.Notifier
	locker   Locker
	clock    Clock
	logger   *log.Logger
	newID    func() string
}

// Option configures the evaluator.
type Option func(*Evaluator)

// WithNotifier assigns the alert event sink.
func WithNotifier(notifier alerts.Notifier) Option {
	return func(e *Evaluator) {
		e.notifier = notifier
	}
}

// WithLocker overrides the in-process locker, e.g. with a Postgres advisory locker.
func WithLocker(locker Locker) Option {
	return func(e *Evaluator) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Evaluator) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// New constructs an evaluator.
func New(unitRepo units.Repository, alertRepo alerts.Repository, rules alerts.RuleRepository, opts ...Option) (*Evaluator, error) {
	if unitRepo == nil || alertRepo == nil {
		return nil, errors.New("evaluator: nil repository")
	}
	e := &Evaluator{
		units:  unitRepo,
		alerts: alertRepo,
		rules:  rules,
		locker: NewKeyedLocker(),
		clock:  systemClock{},
		logger: log.Default(),
		newID:  func() string { return "alert-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// input is one reading as seen by the state machine.
type input struct {
	unitID      string
	temperature readings.Tenths
	recordedAt  time.Time
	readingID   string
}

// Evaluate feeds one temperature observation to the unit's state machine.
func (e *Evaluator) Evaluate(ctx context.Context, unitID string, temperature readings.Tenths, recordedAt time.Time) (Outcome, error) {
	return e.evaluate(ctx, input{unitID: unitID, temperature: temperature, recordedAt: recordedAt.UTC()})
}

// EvaluateReading is Evaluate for a stored reading; the reading id is linked to any alert it opens.
func (e *Evaluator) EvaluateReading(ctx context.Context, reading readings.Reading) (Outcome, error) {
	return e.evaluate(ctx, input{
		unitID:      reading.UnitID,
		temperature: reading.Temperature,
		recordedAt:  reading.RecordedAt.UTC(),
		readingID:   reading.ID,
	})
}

func (e *Evaluator) evaluate(ctx context.Context, in input) (Outcome, error) {
	if e == nil {
		return Outcome{}, errors.New("evaluator: nil evaluator")
	}
	started := time.Now()
	unlock, err := e.locker.Lock(ctx, in.unitID)
	if err != nil {
		return Outcome{}, evalErr(in.unitID, err)
	}
	defer unlock()

	unit, err := e.units.Get(ctx, in.unitID)
	if err != nil {
		return Outcome{}, evalErr(in.unitID, err)
	}
	if unit == nil {
		return Outcome{}, evalErr(in.unitID, units.ErrNotFound)
	}
	out := Outcome{From: unit.Status, To: unit.Status}

	if !unit.AnchorAt.IsZero() && !in.recordedAt.After(unit.AnchorAt) {
		metrics.IncEvaluationSkipped()
		e.logger.Printf("evaluator: out-of-order reading skipped: unit=%s recorded_at=%s anchor=%s",
			in.unitID, in.recordedAt.Format(time.RFC3339), unit.AnchorAt.Format(time.RFC3339))
		out.Skipped = true
		return out, nil
	}

	policy, err := e.policyFor(ctx, *unit)
	if err != nil {
		return out, evalErr(in.unitID, err)
	}

	run := &transition{e: e, unit: *unit, policy: policy, in: in, now: e.clock.Now().UTC(), out: &out}
	if err := run.apply(ctx); err != nil {
		return out, evalErr(in.unitID, err)
	}
	run.unit.UpdatedAt = run.now
	if err := e.units.SaveState(ctx, run.unit); err != nil {
		return out, evalErr(in.unitID, err)
	}
	out.To = run.unit.Status
	metrics.ObserveEvaluation(string(out.From), string(out.To), time.Since(started))
	return out, nil
}

func (e *Evaluator) policyFor(ctx context.Context, unit units.Unit) (alerts.Policy, error) {
	var rules []alerts.Rule
	if e.rules != nil {
		list, err := e.rules.ListForUnit(ctx, unit.OrgID, unit.SiteID, unit.ID)
		if err != nil {
			return alerts.Policy{}, err
		}
		rules = list
	}
	return alerts.ResolvePolicy(rules, unit.OrgID, unit.SiteID, unit.ID, unit.TempMin, unit.TempMax), nil
}

func (e *Evaluator) emit(ctx context.Context, kind alerts.EventKind, alert alerts.Alert, at time.Time) {
	metrics.IncAlertEvent(string(kind), string(alert.Type))
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, alerts.NewEvent(kind, alert, at))
}

// resolveOpen auto-resolves the open alert of a type, if any.
func (e *Evaluator) resolveOpen(ctx context.Context, unitID string, alertType alerts.Type, resolution string, at time.Time) (*alerts.Alert, error) {
	open, err := e.alerts.FindOpen(ctx, unitID, alertType)
	if err != nil || open == nil {
		return nil, err
	}
	resolved, err := e.alerts.Resolve(ctx, open.ID, alerts.SystemActor, resolution, at)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}
	e.emit(ctx, alerts.EventResolved, resolved, at)
	return &resolved, nil
}

func evalErr(unitID string, err error) error {
	return fmt.Errorf("%w: unit %s: %w", apperr.ErrEvaluation, unitID, err)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
