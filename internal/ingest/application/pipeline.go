package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/evaluator"
	"freshtrack-cloud/internal/observability/metrics"
	readings "freshtrack-cloud/internal/readings/domain"
	units "freshtrack-cloud/internal/units/domain"
)

// Mode selects which readings of a batch reach the evaluator.
type Mode string

const (
	// ModeAll evaluates every reading of a unit in recorded-time order.
	ModeAll Mode = "all"
	// ModeLatest evaluates only the newest reading per unit.
	ModeLatest Mode = "latest"
)

// ParseMode accepts "all" or "latest"; anything else falls back to all.
func ParseMode(value string) Mode {
	if Mode(value) == ModeLatest {
		return ModeLatest
	}
	return ModeAll
}

const (
	defaultBatchTimeout  = 30 * time.Second
	defaultMaxFutureSkew = 5 * time.Minute
	defaultMaxPastAge    = 90 * 24 * time.Hour
	defaultMaxBatchSize  = 5000
	defaultWorkers       = 8
)

// Evaluator consumes accepted readings.
type Evaluator interface {
	EvaluateReading(ctx context.Context, reading readings.Reading) (evaluator.Outcome, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Credential is the authenticated caller of an ingest request.
type Credential struct {
	OrgID  string
	Source readings.Source
}

// Result summarizes one ingest call.
type Result struct {
	Inserted           int      `json:"inserted"`
	ReadingIDs         []string `json:"reading_ids"`
	AlertsTriggered    int      `json:"alerts_triggered"`
	EvaluationFailures int      `json:"evaluation_failures,omitempty"`
	Duplicate          bool     `json:"duplicate,omitempty"`
}

// Pipeline validates, stores and evaluates incoming readings.
type Pipeline struct {
	readings     readings.Repository
	units        units.Repository
	evaluator    Evaluator
	ledger       EventLedger
	clock        Clock
	logger       *log.Logger
	newID        func() string
	mode         Mode
	workers      int
	batchTimeout time.Duration
	maxFuture    time.Duration
	maxPastAge   time.Duration
	maxBatch     int
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithEvaluator assigns the state machine fed by accepted readings.
func WithEvaluator(eval Evaluator) Option {
	return func(p *Pipeline) {
		p.evaluator = eval
	}
}

// WithEventLedger enables idempotent single-event ingestion.
func WithEventLedger(ledger EventLedger) Option {
	return func(p *Pipeline) {
		p.ledger = ledger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithIDGenerator overrides reading id generation.
func WithIDGenerator(gen func() string) Option {
	return func(p *Pipeline) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// WithMode sets the evaluation mode.
func WithMode(mode Mode) Option {
	return func(p *Pipeline) {
		if mode == ModeAll || mode == ModeLatest {
			p.mode = mode
		}
	}
}

// WithWorkers bounds how many units are evaluated in parallel.
func WithWorkers(workers int) Option {
	return func(p *Pipeline) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithBatchTimeout sets the overall deadline of one batch.
func WithBatchTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.batchTimeout = timeout
		}
	}
}

// WithTimeBounds sets how far in the future or past a recorded time may be.
func WithTimeBounds(maxFuture, maxPastAge time.Duration) Option {
	return func(p *Pipeline) {
		if maxFuture > 0 {
			p.maxFuture = maxFuture
		}
		if maxPastAge > 0 {
			p.maxPastAge = maxPastAge
		}
	}
}

// WithMaxBatchSize caps the number of readings per batch.
func WithMaxBatchSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.maxBatch = size
		}
	}
}

// NewPipeline constructs a pipeline.
func NewPipeline(readingRepo readings.Repository, unitRepo units.Repository, opts ...Option) (*Pipeline, error) {
	if readingRepo == nil || unitRepo == nil {
		return nil, errors.New("ingest pipeline: nil repository")
	}
	p := &Pipeline{
		readings:     readingRepo,
		units:        unitRepo,
		clock:        systemClock{},
		logger:       log.Default(),
		newID:        uuid.NewString,
		mode:         ModeAll,
		workers:      defaultWorkers,
		batchTimeout: defaultBatchTimeout,
		maxFuture:    defaultMaxFutureSkew,
		maxPastAge:   defaultMaxPastAge,
		maxBatch:     defaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// IngestBatch accepts a bulk batch. Any invalid payload or foreign unit
// rejects the whole batch before anything is stored.
func (p *Pipeline) IngestBatch(ctx context.Context, cred Credential, raws []RawReading) (Result, error) {
	started := time.Now()
	result, err := p.ingest(ctx, cred, raws, nil)
	observe("batch", started, err)
	return result, err
}

// IngestEvent accepts a single pushed event, idempotent on (org, eventID).
// A replayed event returns the original reading id and is not stored again.
func (p *Pipeline) IngestEvent(ctx context.Context, cred Credential, eventID string, raw RawReading) (Result, error) {
	started := time.Now()
	result, err := p.ingestEvent(ctx, cred, eventID, raw)
	observe("event", started, err)
	return result, err
}

func (p *Pipeline) ingestEvent(ctx context.Context, cred Credential, eventID string, raw RawReading) (Result, error) {
	if eventID == "" {
		return Result{}, &apperr.ValidationError{Issues: []apperr.Issue{{UnitID: raw.UnitID, Field: "event_id", Reason: "required"}}}
	}
	if p.ledger == nil {
		return p.ingest(ctx, cred, []RawReading{raw}, nil)
	}
	readingID := p.newID()
	existing, reserved, err := p.ledger.Reserve(ctx, cred.OrgID, eventID, readingID, p.clock.Now().UTC())
	if err != nil {
		return Result{}, apperr.Storage(err)
	}
	if !reserved {
		p.logger.Printf("ingest: duplicate event: org=%s event=%s reading=%s", cred.OrgID, eventID, existing)
		return Result{ReadingIDs: []string{existing}, Duplicate: true}, nil
	}
	result, err := p.ingest(ctx, cred, []RawReading{raw}, []string{readingID})
	if err != nil {
		if releaseErr := p.ledger.Release(context.WithoutCancel(ctx), cred.OrgID, eventID); releaseErr != nil {
			p.logger.Printf("ingest: release event: org=%s event=%s err=%v", cred.OrgID, eventID, releaseErr)
		}
		return Result{}, err
	}
	return result, nil
}

func (p *Pipeline) ingest(ctx context.Context, cred Credential, raws []RawReading, ids []string) (Result, error) {
	if p == nil {
		return Result{}, errors.New("ingest pipeline: nil pipeline")
	}
	if cred.OrgID == "" {
		return Result{}, &apperr.AuthorizationError{Issues: []apperr.Issue{{Field: "credential", Reason: "missing organization"}}}
	}
	if !cred.Source.Valid() {
		cred.Source = readings.SourceBulkImport
	}
	switch {
	case len(raws) == 0:
		return Result{}, &apperr.ValidationError{Issues: []apperr.Issue{{Field: "readings", Reason: "empty batch"}}}
	case len(raws) > p.maxBatch:
		return Result{}, &apperr.ValidationError{Issues: []apperr.Issue{{Field: "readings", Reason: fmt.Sprintf("batch exceeds %d readings", p.maxBatch)}}}
	}

	ctx, cancel := context.WithTimeout(ctx, p.batchTimeout)
	defer cancel()
	now := p.clock.Now().UTC()

	items, err := p.parse(cred, raws, now)
	if err != nil {
		return Result{}, err
	}
	owned, err := p.authorize(ctx, cred.OrgID, items)
	if err != nil {
		return Result{}, err
	}

	var issues []apperr.Issue
	batch := make([]readings.Reading, 0, len(items))
	for i, item := range items {
		unit := owned[item.raw.UnitID]
		if !item.plausible(unit.TempUnit) {
			issues = append(issues, apperr.Issue{Index: item.index, UnitID: unit.ID, Field: "temperature", Reason: "outside the physical sensor range"})
			continue
		}
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		if id == "" {
			id = p.newID()
		}
		batch = append(batch, item.toReading(id, cred.OrgID, unit.TempUnit, now))
	}
	if len(issues) > 0 {
		metrics.IncIngestError("validation")
		return Result{}, &apperr.ValidationError{Issues: issues}
	}

	if err := p.readings.InsertBatch(ctx, batch); err != nil {
		metrics.IncIngestError("storage")
		p.logger.Printf("ingest: insert batch: org=%s size=%d err=%v", cred.OrgID, len(batch), err)
		return Result{}, apperr.Storage(err)
	}
	metrics.AddIngestedReadings(string(cred.Source), len(batch))

	result := Result{Inserted: len(batch), ReadingIDs: make([]string, 0, len(batch))}
	for _, reading := range batch {
		result.ReadingIDs = append(result.ReadingIDs, reading.ID)
	}
	result.AlertsTriggered, result.EvaluationFailures = p.evaluate(ctx, batch)
	return result, nil
}

func (p *Pipeline) parse(cred Credential, raws []RawReading, now time.Time) ([]parsed, error) {
	b := bounds{now: now, maxFuture: p.maxFuture, maxPastAge: p.maxPastAge}
	items := make([]parsed, 0, len(raws))
	var issues []apperr.Issue
	for i, raw := range raws {
		item, itemIssues := validate(i, raw, cred.Source, b)
		issues = append(issues, itemIssues...)
		items = append(items, item)
	}
	if len(issues) > 0 {
		metrics.IncIngestError("validation")
		return nil, &apperr.ValidationError{Issues: issues}
	}
	return items, nil
}

// authorize loads every referenced unit and rejects the batch if any is
// unknown or owned by another organization. Both cases read the same so a
// caller cannot probe other organizations' unit ids.
func (p *Pipeline) authorize(ctx context.Context, orgID string, items []parsed) (map[string]units.Unit, error) {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.raw.UnitID]; ok {
			continue
		}
		seen[item.raw.UnitID] = struct{}{}
		ids = append(ids, item.raw.UnitID)
	}
	found, err := p.units.GetMany(ctx, ids)
	if err != nil {
		metrics.IncIngestError("storage")
		return nil, apperr.Storage(err)
	}
	var issues []apperr.Issue
	for _, item := range items {
		unit, ok := found[item.raw.UnitID]
		if !ok || unit.OrgID != orgID {
			issues = append(issues, apperr.Issue{Index: item.index, UnitID: item.raw.UnitID, Field: "unit_id", Reason: "unit not found in organization"})
		}
	}
	if len(issues) > 0 {
		metrics.IncIngestError("authorization")
		return nil, &apperr.AuthorizationError{Issues: issues}
	}
	return found, nil
}

// evaluate feeds stored readings to the evaluator: units in parallel, each
// unit's readings in recorded-time order. Failures are isolated per unit.
func (p *Pipeline) evaluate(ctx context.Context, batch []readings.Reading) (triggered, failures int) {
	if p.evaluator == nil || len(batch) == 0 {
		return 0, 0
	}
	byUnit := groupByUnit(batch, p.mode)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, unitID := range sortedKeys(byUnit) {
		queue := byUnit[unitID]
		g.Go(func() error {
			created, failed := p.evaluateUnit(ctx, unitID, queue)
			mu.Lock()
			triggered += created
			failures += failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return triggered, failures
}

func (p *Pipeline) evaluateUnit(ctx context.Context, unitID string, queue []readings.Reading) (created, failed int) {
	if err := ctx.Err(); err != nil {
		metrics.IncEvaluationFailure()
		p.logger.Printf("ingest: evaluation not started: unit=%s readings=%d err=%v", unitID, len(queue), err)
		return 0, 1
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEvaluationFailure()
			p.logger.Printf("ingest: evaluation panicked: unit=%s panic=%v", unitID, r)
			failed++
		}
	}()
	// Once started, a unit's evaluation is not interrupted by the batch deadline.
	detached := context.WithoutCancel(ctx)
	for _, reading := range queue {
		outcome, err := p.evaluator.EvaluateReading(detached, reading)
		if err != nil {
			metrics.IncEvaluationFailure()
			p.logger.Printf("ingest: evaluation failed: unit=%s reading=%s err=%v", unitID, reading.ID, err)
			return created, failed + 1
		}
		if outcome.AlertCreated {
			created++
		}
	}
	return created, failed
}

func groupByUnit(batch []readings.Reading, mode Mode) map[string][]readings.Reading {
	byUnit := make(map[string][]readings.Reading)
	for _, reading := range batch {
		byUnit[reading.UnitID] = append(byUnit[reading.UnitID], reading)
	}
	for unitID, list := range byUnit {
		sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
		if mode == ModeLatest {
			list = list[len(list)-1:]
		}
		byUnit[unitID] = list
	}
	return byUnit
}

func sortedKeys(m map[string][]readings.Reading) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func observe(path string, started time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveIngest(path, result, time.Since(started))
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
