package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"freshtrack-cloud/internal/config"
	"freshtrack-cloud/internal/evaluator"
	ingestmemory "freshtrack-cloud/internal/ingest/infrastructure/memory"
	partitionapp "freshtrack-cloud/internal/partitions/application"
	partitionmemory "freshtrack-cloud/internal/partitions/infrastructure/memory"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

type stubSweeper struct {
	liveness   atomic.Int32
	escalation atomic.Int32
	failWith   error
}

func (s *stubSweeper) CheckLiveness(ctx context.Context, at time.Time) (evaluator.LivenessReport, error) {
	s.liveness.Add(1)
	return evaluator.LivenessReport{Checked: 3, Interrupted: 1}, s.failWith
}

func (s *stubSweeper) EscalateOverdue(ctx context.Context, at time.Time) (int, error) {
	s.escalation.Add(1)
	return 0, s.failWith
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRegisterMaintenanceWiresJobs(t *testing.T) {
	catalog := partitionmemory.NewCatalog()
	manager, err := partitionapp.NewManager(catalog, partitionapp.WithClock(fixedClock{}), partitionapp.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	sweeper := &stubSweeper{}
	ledger := ingestmemory.NewEventLedger()
	ctx := context.Background()
	if _, _, err := ledger.Reserve(ctx, "org-a", "old", "r1", now.Add(-10*24*time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, _, err := ledger.Reserve(ctx, "org-a", "fresh", "r2", now.Add(-time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	s := New(quietLogger())
	err = s.RegisterMaintenance(config.Default().Schedule, Maintenance{
		Partitions:      manager,
		Sweeper:         sweeper,
		Events:          ledger,
		MonthsAhead:     2,
		RetentionMonths: 24,
		EventRetention:  7 * 24 * time.Hour,
		Clock:           fixedClock{},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, name := range []string{JobPartitions, JobRetention, JobDefaultAudit, JobLiveness, JobEscalation, JobEventPrune} {
		if err := s.Trigger(ctx, name); err != nil {
			t.Fatalf("trigger %s: %v", name, err)
		}
	}
	for _, name := range []string{"readings_p2026_10", "readings_p2026_11", "readings_p2026_12"} {
		if !catalog.Has(name) {
			t.Fatalf("expected partition %s after ensure job", name)
		}
	}
	if sweeper.liveness.Load() != 1 || sweeper.escalation.Load() != 1 {
		t.Fatalf("sweeps not invoked: liveness=%d escalation=%d", sweeper.liveness.Load(), sweeper.escalation.Load())
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected only the fresh event to survive pruning, got %d", ledger.Len())
	}
}

func TestTriggerReportsFailures(t *testing.T) {
	s := New(quietLogger())
	sweeper := &stubSweeper{failWith: errors.New("db down")}
	if err := s.RegisterMaintenance(config.ScheduleConfig{}, Maintenance{Sweeper: sweeper}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Trigger(context.Background(), JobLiveness); err == nil {
		t.Fatalf("expected liveness failure to surface")
	}
	if err := s.Trigger(context.Background(), JobPartitions); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("partition jobs must be absent without a maintainer, got %v", err)
	}
}

func TestRegisterValidatesSpecsAndNames(t *testing.T) {
	s := New(quietLogger())
	noop := func(context.Context) error { return nil }
	if err := s.Register("a", "not a spec", noop); err == nil {
		t.Fatalf("expected invalid spec error")
	}
	if err := s.Register("b", "@every 1h", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register("b", "@every 1h", noop); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestScheduledJobRunsAndStops(t *testing.T) {
	s := New(quietLogger())
	var runs atomic.Int32
	if err := s.Register("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if runs.Load() == 0 {
		t.Fatalf("job never fired")
	}
}
