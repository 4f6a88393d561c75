package scheduler

import (
	"context"
	"errors"
	"time"

	"freshtrack-cloud/internal/config"
	"freshtrack-cloud/internal/evaluator"
	partitionapp "freshtrack-cloud/internal/partitions/application"
)

// Job names.
const (
	JobPartitions   = "partitions.ensure"
	JobRetention    = "partitions.retention"
	JobDefaultAudit = "partitions.audit_default"
	JobLiveness     = "units.liveness"
	JobEscalation   = "alerts.escalation"
	JobEventPrune   = "ingest.event_prune"
)

// PartitionMaintainer keeps reading partitions in shape.
type PartitionMaintainer interface {
	EnsureFuturePartitions(ctx context.Context, monthsAhead int) ([]string, error)
	EnforceRetention(ctx context.Context, horizonMonths int) (partitionapp.RetentionReport, error)
	AuditDefaultPartition(ctx context.Context) (int64, error)
}

// Sweeper runs the time-driven unit and alert sweeps.
type Sweeper interface {
	CheckLiveness(ctx context.Context, now time.Time) (evaluator.LivenessReport, error)
	EscalateOverdue(ctx context.Context, now time.Time) (int, error)
}

// EventPruner forgets old webhook event ids.
type EventPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Maintenance groups the collaborators of the standard job set. Nil
// collaborators leave their jobs out.
type Maintenance struct {
	Partitions      PartitionMaintainer
	Sweeper         Sweeper
	Events          EventPruner
	MonthsAhead     int
	RetentionMonths int
	EventRetention  time.Duration
	Clock           Clock
}

// RegisterMaintenance registers the standard jobs with specs from config.
func (s *Scheduler) RegisterMaintenance(specs config.ScheduleConfig, m Maintenance) error {
	clock := m.Clock
	if clock == nil {
		clock = systemClock{}
	}
	var errs []error
	if m.Partitions != nil {
		errs = append(errs,
			s.Register(JobPartitions, specs.Partitions, func(ctx context.Context) error {
				_, err := m.Partitions.EnsureFuturePartitions(ctx, m.MonthsAhead)
				return err
			}),
			s.Register(JobRetention, specs.Retention, func(ctx context.Context) error {
				_, err := m.Partitions.EnforceRetention(ctx, m.RetentionMonths)
				return err
			}),
			s.Register(JobDefaultAudit, specs.DefaultAudit, func(ctx context.Context) error {
				_, err := m.Partitions.AuditDefaultPartition(ctx)
				return err
			}),
		)
	}
	if m.Sweeper != nil {
		errs = append(errs,
			s.Register(JobLiveness, specs.Liveness, func(ctx context.Context) error {
				report, err := m.Sweeper.CheckLiveness(ctx, clock.Now())
				if err != nil {
					return err
				}
				if report.Interrupted+report.Offline+report.ManualRequired > 0 {
					s.logger.Printf("scheduler: liveness: checked=%d interrupted=%d offline=%d manual=%d failures=%d",
						report.Checked, report.Interrupted, report.Offline, report.ManualRequired, report.Failures)
				}
				return nil
			}),
			s.Register(JobEscalation, specs.Escalation, func(ctx context.Context) error {
				_, err := m.Sweeper.EscalateOverdue(ctx, clock.Now())
				return err
			}),
		)
	}
	if m.Events != nil && m.EventRetention > 0 {
		errs = append(errs, s.Register(JobEventPrune, specs.EventPrune, func(ctx context.Context) error {
			removed, err := m.Events.Prune(ctx, clock.Now().Add(-m.EventRetention))
			if err == nil && removed > 0 {
				s.logger.Printf("scheduler: pruned webhook events: count=%d", removed)
			}
			return err
		}))
	}
	return errors.Join(errs...)
}
