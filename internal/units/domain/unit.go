package units

import (
	"context"
	"fmt"
	"time"

	"freshtrack-cloud/internal/apperr"
	readings "freshtrack-cloud/internal/readings/domain"
)

// ErrNotFound indicates a missing unit.
var ErrNotFound = fmt.Errorf("unit: %w", apperr.ErrNotFound)

// Status is the monitoring status of a unit. Exactly one holds at a time.
type Status string

const (
	StatusOK                    Status = "ok"
	StatusExcursion             Status = "excursion"
	StatusAlarmActive           Status = "alarm_active"
	StatusMonitoringInterrupted Status = "monitoring_interrupted"
	StatusManualRequired        Status = "manual_required"
	StatusRestoring             Status = "restoring"
	StatusOffline               Status = "offline"
)

// Valid returns true when status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusExcursion, StatusAlarmActive, StatusMonitoringInterrupted,
		StatusManualRequired, StatusRestoring, StatusOffline:
		return true
	default:
		return false
	}
}

// Interrupted reports statuses entered by the liveness sweep.
func (s Status) Interrupted() bool {
	return s == StatusMonitoringInterrupted || s == StatusOffline || s == StatusManualRequired
}

// InterruptionRank orders liveness statuses by severity; non-liveness statuses rank 0.
func (s Status) InterruptionRank() int {
	switch s {
	case StatusMonitoringInterrupted:
		return 1
	case StatusOffline:
		return 2
	case StatusManualRequired:
		return 3
	default:
		return 0
	}
}

// DefaultExpectedInterval applies when a unit has no configured reporting interval.
const DefaultExpectedInterval = 5 * time.Minute

// Unit is a monitored piece of refrigeration equipment plus its evaluation state.
type Unit struct {
	ID               string            `json:"id"`
	OrgID            string            `json:"org_id"`
	SiteID           string            `json:"site_id,omitempty"`
	Name             string            `json:"name"`
	TempMin          readings.Tenths   `json:"temp_min"`
	TempMax          readings.Tenths   `json:"temp_max"`
	TempUnit         readings.TempUnit `json:"temp_unit"`
	ExpectedInterval time.Duration     `json:"-"`
	Status           Status            `json:"status"`
	LastTemperature  *readings.Tenths  `json:"last_temperature,omitempty"`
	LastReadingAt    time.Time         `json:"last_reading_at,omitempty"`

	// Pending timers, anchored on reading recorded time.
	ExcursionStartedAt time.Time `json:"excursion_started_at,omitempty"`
	RestoringStartedAt time.Time `json:"restoring_started_at,omitempty"`
	InterruptedAt      time.Time `json:"interrupted_at,omitempty"`
	// AnchorAt is the recorded time of the newest reading that drove the state machine.
	AnchorAt time.Time `json:"anchor_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" || u.OrgID == "" {
		return fmt.Errorf("unit: %w: empty id or org id", apperr.ErrValidation)
	}
	if u.TempMin > u.TempMax {
		return fmt.Errorf("unit: %w: min above max", apperr.ErrValidation)
	}
	if !u.TempUnit.Valid() {
		return fmt.Errorf("unit: %w: invalid temperature unit", apperr.ErrValidation)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("unit: %w: invalid status", apperr.ErrValidation)
	}
	return nil
}

// Interval returns the expected reporting interval, falling back to the default.
func (u Unit) Interval() time.Duration {
	if u.ExpectedInterval <= 0 {
		return DefaultExpectedInterval
	}
	return u.ExpectedInterval
}

// LastSeen is the reference time for liveness: last reading, or creation for silent units.
func (u Unit) LastSeen() time.Time {
	if !u.LastReadingAt.IsZero() {
		return u.LastReadingAt
	}
	return u.CreatedAt
}

// ClearTimers drops pending excursion and restoring anchors.
func (u *Unit) ClearTimers() {
	u.ExcursionStartedAt = time.Time{}
	u.RestoringStartedAt = time.Time{}
}

// Repository persists units and their evaluation state.
type Repository interface {
	Get(ctx context.Context, id string) (*Unit, error)
	GetMany(ctx context.Context, ids []string) (map[string]Unit, error)
	SaveState(ctx context.Context, unit Unit) error
	ListMonitored(ctx context.Context) ([]Unit, error)
}
