package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/audit"
	"freshtrack-cloud/internal/observability/metrics"
	partitions "freshtrack-cloud/internal/partitions/domain"
)

// OpsAlerter raises operational alerts that are not tied to a unit.
type OpsAlerter interface {
	AlertOps(ctx context.Context, message string) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// RetentionReport summarizes one retention sweep.
type RetentionReport struct {
	Cutoff   time.Time         `json:"cutoff"`
	Dropped  []string          `json:"dropped"`
	Archived map[string]string `json:"archived,omitempty"`
	Held     []string          `json:"held,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Manager maintains the monthly partitions of the readings table. It runs on
// a schedule and never sits in the ingestion path.
type Manager struct {
	catalog   partitions.Catalog
	overrides partitions.OverrideStore
	archiver  partitions.Archiver
	ops       OpsAlerter
	audit     audit.Logger
	clock     Clock
	logger    *log.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithOverrides assigns the retention override store.
func WithOverrides(store partitions.OverrideStore) Option {
	return func(m *Manager) {
		m.overrides = store
	}
}

// WithArchiver archives partitions before they are dropped.
func WithArchiver(archiver partitions.Archiver) Option {
	return func(m *Manager) {
		m.archiver = archiver
	}
}

// WithOpsAlerter assigns the operational alert sink.
func WithOpsAlerter(ops OpsAlerter) Option {
	return func(m *Manager) {
		m.ops = ops
	}
}

// WithAudit records override changes.
func WithAudit(logger audit.Logger) Option {
	return func(m *Manager) {
		m.audit = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a partition manager.
func NewManager(catalog partitions.Catalog, opts ...Option) (*Manager, error) {
	if catalog == nil {
		return nil, partitions.ErrNoCatalog
	}
	m := &Manager{catalog: catalog, clock: systemClock{}, logger: log.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// EnsureFuturePartitions creates the current month and the next monthsAhead
// months. Safe to call repeatedly; a failing month does not stop the others.
func (m *Manager) EnsureFuturePartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	var created []string
	var errs []error
	for _, partition := range partitions.Upcoming(m.clock.Now(), monthsAhead) {
		ok, err := m.catalog.Create(ctx, partition)
		if err != nil {
			m.logger.Printf("partitions: create failed: partition=%s err=%v", partition.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", partition.Name, err))
			continue
		}
		if ok {
			m.logger.Printf("partitions: created %s [%s, %s)", partition.Name,
				partition.From.Format("2006-01-02"), partition.To.Format("2006-01-02"))
			created = append(created, partition.Name)
		}
	}
	err := errors.Join(errs...)
	metrics.IncPartitionJob("ensure", resultOf(err))
	if err != nil {
		return created, apperr.Storage(err)
	}
	return created, nil
}

// EnforceRetention drops partitions that end at or before the retention
// cutoff, except those held by an active override.
func (m *Manager) EnforceRetention(ctx context.Context, horizonMonths int) (RetentionReport, error) {
	now := m.clock.Now().UTC()
	report := RetentionReport{Cutoff: partitions.RetentionCutoff(now, horizonMonths)}
	if horizonMonths <= 0 {
		metrics.IncPartitionJob("retention", metrics.ResultError)
		return report, fmt.Errorf("partitions: %w: retention horizon must be positive", apperr.ErrValidation)
	}

	list, err := m.catalog.List(ctx)
	if err != nil {
		metrics.IncPartitionJob("retention", metrics.ResultError)
		return report, apperr.Storage(err)
	}
	held, err := m.activeOverrides(ctx, now)
	if err != nil {
		metrics.IncPartitionJob("retention", metrics.ResultError)
		return report, apperr.Storage(err)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	fail := func(name string, err error) {
		if report.Failures == nil {
			report.Failures = make(map[string]string)
		}
		report.Failures[name] = err.Error()
		m.logger.Printf("partitions: retention failed: partition=%s err=%v", name, err)
	}
	for _, partition := range list {
		if !partition.Expired(report.Cutoff) {
			continue
		}
		if override, ok := held[partition.Name]; ok {
			m.logger.Printf("partitions: retention held: partition=%s reason=%q", partition.Name, override.Reason)
			report.Held = append(report.Held, partition.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			fail(partition.Name, err)
			continue
		}
		if m.archiver != nil {
			location, err := m.archiver.Archive(ctx, partition)
			if err != nil {
				fail(partition.Name, fmt.Errorf("archive: %w", err))
				continue
			}
			if report.Archived == nil {
				report.Archived = make(map[string]string)
			}
			report.Archived[partition.Name] = location
		}
		if err := m.catalog.Drop(ctx, partition.Name); err != nil {
			fail(partition.Name, fmt.Errorf("drop: %w", err))
			continue
		}
		m.logger.Printf("partitions: dropped %s (cutoff %s)", partition.Name, report.Cutoff.Format("2006-01-02"))
		report.Dropped = append(report.Dropped, partition.Name)
	}
	metrics.AddPartitionsDropped(len(report.Dropped))

	if len(report.Failures) > 0 {
		metrics.IncPartitionJob("retention", metrics.ResultError)
		return report, fmt.Errorf("partitions: %w: %d of %d expired partitions failed", apperr.ErrStorage, len(report.Failures), len(report.Failures)+len(report.Dropped))
	}
	metrics.IncPartitionJob("retention", metrics.ResultSuccess)
	return report, nil
}

func (m *Manager) activeOverrides(ctx context.Context, now time.Time) (map[string]partitions.Override, error) {
	held := make(map[string]partitions.Override)
	if m.overrides == nil {
		return held, nil
	}
	list, err := m.overrides.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, override := range list {
		if override.Active(now) {
			held[override.Partition] = override
		}
	}
	return held, nil
}

// AuditDefaultPartition counts rows in the catch-all partition. Any row there
// means a reading carried a timestamp outside every monthly partition, which
// is an ingestion bug and raises an operational alert.
func (m *Manager) AuditDefaultPartition(ctx context.Context) (int64, error) {
	rows, err := m.catalog.CountRows(ctx, partitions.DefaultName)
	if err != nil {
		metrics.IncPartitionJob("audit_default", metrics.ResultError)
		return 0, apperr.Storage(err)
	}
	metrics.SetDefaultPartitionRows(rows)
	metrics.IncPartitionJob("audit_default", metrics.ResultSuccess)
	if rows == 0 {
		return 0, nil
	}
	message := fmt.Sprintf("partition %s holds %d readings; check ingestion timestamps and pre-created partitions", partitions.DefaultName, rows)
	m.logger.Printf("partitions: default partition not empty: rows=%d", rows)
	if m.ops != nil {
		if err := m.ops.AlertOps(ctx, message); err != nil {
			m.logger.Printf("partitions: ops alert failed: %v", err)
		}
	}
	return rows, nil
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
