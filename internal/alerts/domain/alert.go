package alerts

import (
	"context"
	"time"

	readings "freshtrack-cloud/internal/readings/domain"
)

// Type is the closed set of alert kinds.
type Type string

const (
	TypeAlarmActive           Type = "alarm_active"
	TypeMonitoringInterrupted Type = "monitoring_interrupted"
	TypeMissedManualEntry     Type = "missed_manual_entry"
	TypeLowBattery            Type = "low_battery"
	TypeSensorFault           Type = "sensor_fault"
	TypeDoorOpen              Type = "door_open"
	TypeCalibrationDue        Type = "calibration_due"
)

// Valid returns true when the type is supported.
func (t Type) Valid() bool {
	switch t {
	case TypeAlarmActive, TypeMonitoringInterrupted, TypeMissedManualEntry, TypeLowBattery,
		TypeSensorFault, TypeDoorOpen, TypeCalibrationDue:
		return true
	default:
		return false
	}
}

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid returns true when the severity is supported.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Rank orders severities.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Status is the lifecycle status of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusEscalated    Status = "escalated"
	StatusResolved     Status = "resolved"
)

// Threshold identifies which bound was violated.
type Threshold string

const (
	ThresholdNone Threshold = ""
	ThresholdMin  Threshold = "min"
	ThresholdMax  Threshold = "max"
)

// Actor recorded for transitions made by the evaluator.
const SystemActor = "system"

// Alert is one lifecycle instance tied to a unit.
type Alert struct {
	ID                 string           `json:"id"`
	OrgID              string           `json:"org_id"`
	UnitID             string           `json:"unit_id"`
	RuleID             string           `json:"rule_id,omitempty"`
	Type               Type             `json:"type"`
	Severity           Severity         `json:"severity"`
	Status             Status           `json:"status"`
	TriggerTemperature *readings.Tenths `json:"trigger_temperature,omitempty"`
	LastTemperature    *readings.Tenths `json:"last_temperature,omitempty"`
	ThresholdViolated  Threshold        `json:"threshold_violated,omitempty"`
	TriggerReadingID   string           `json:"trigger_reading_id,omitempty"`
	EscalationLevel    int              `json:"escalation_level"`
	TriggeredAt        time.Time        `json:"triggered_at"`
	AcknowledgedAt     time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy     string           `json:"acknowledged_by,omitempty"`
	AckNotes           string           `json:"ack_notes,omitempty"`
	EscalatedAt        time.Time        `json:"escalated_at,omitempty"`
	ResolvedAt         time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy         string           `json:"resolved_by,omitempty"`
	Resolution         string           `json:"resolution,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// IsOpen reports whether the alert still counts against the one-open-per-type rule.
func (a Alert) IsOpen() bool {
	return a.Status != StatusResolved
}

// Escalatable reports whether the evaluator may escalate the alert.
func (a Alert) Escalatable() bool {
	return a.Status == StatusActive || a.Status == StatusEscalated
}

// LastRaisedAt is when the alert was last opened or escalated, by wall clock.
func (a Alert) LastRaisedAt() time.Time {
	if !a.EscalatedAt.IsZero() {
		return a.EscalatedAt
	}
	return a.CreatedAt
}

// CheckAcknowledge validates the active -> acknowledged move.
func CheckAcknowledge(status Status) error {
	switch status {
	case StatusActive:
		return nil
	case StatusAcknowledged:
		return ErrAlreadyAcknowledged
	default:
		return ErrInvalidTransition
	}
}

// CheckResolve validates a move to resolved. Resolved is terminal.
func CheckResolve(status Status) error {
	switch status {
	case StatusActive, StatusAcknowledged, StatusEscalated:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// CheckEscalate validates an escalation.
func CheckEscalate(status Status) error {
	switch status {
	case StatusActive, StatusEscalated:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// SeverityForLevel upgrades to critical once the escalation level reaches criticalAt.
func SeverityForLevel(base Severity, level, criticalAt int) Severity {
	if criticalAt > 0 && level >= criticalAt {
		return SeverityCritical
	}
	return base
}

// Filter selects alerts for listing.
type Filter struct {
	OrgID  string
	UnitID string
	Status Status
	Type   Type
	From   time.Time
	To     time.Time
	Limit  int
}

// Repository persists alerts. Transitions are compare-and-set on status.
type Repository interface {
	// Open inserts the alert unless an open one of the same unit and type exists,
	// in which case the existing alert is returned with created=false.
	Open(ctx context.Context, alert Alert) (Alert, bool, error)
	Get(ctx context.Context, id string) (*Alert, error)
	FindOpen(ctx context.Context, unitID string, alertType Type) (*Alert, error)
	List(ctx context.Context, filter Filter) ([]Alert, error)
	ListEscalatable(ctx context.Context) ([]Alert, error)
	Acknowledge(ctx context.Context, id, actor, notes string, at time.Time) (Alert, error)
	Resolve(ctx context.Context, id, actor, resolution string, at time.Time) (Alert, error)
	// Escalate increments the escalation level and upgrades severity to critical
	// once the new level reaches criticalAt.
	Escalate(ctx context.Context, id string, criticalAt int, at time.Time) (Alert, error)
	UpdateLastTemperature(ctx context.Context, id string, temperature readings.Tenths, at time.Time) error
}
