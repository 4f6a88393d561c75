package alerts

import (
	"context"
	"time"

	readings "freshtrack-cloud/internal/readings/domain"
)

// EventKind is an alert lifecycle change.
type EventKind string

const (
	EventOpened       EventKind = "opened"
	EventEscalated    EventKind = "escalated"
	EventAcknowledged EventKind = "acknowledged"
	EventResolved     EventKind = "resolved"
)

// Event is emitted on every alert lifecycle change.
type Event struct {
	Kind            EventKind        `json:"kind"`
	AlertID         string           `json:"alert_id"`
	OrgID           string           `json:"org_id"`
	UnitID          string           `json:"unit_id"`
	Type            Type             `json:"type"`
	Severity        Severity         `json:"severity"`
	Status          Status           `json:"status"`
	EscalationLevel int              `json:"escalation_level"`
	Temperature     *readings.Tenths `json:"temperature,omitempty"`
	Threshold       Threshold        `json:"threshold,omitempty"`
	TriggeredAt     time.Time        `json:"triggered_at"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// NewEvent builds an event from the alert's current state.
func NewEvent(kind EventKind, alert Alert, at time.Time) Event {
	temperature := alert.LastTemperature
	if temperature == nil {
		temperature = alert.TriggerTemperature
	}
	return Event{
		Kind:            kind,
		AlertID:         alert.ID,
		OrgID:           alert.OrgID,
		UnitID:          alert.UnitID,
		Type:            alert.Type,
		Severity:        alert.Severity,
		Status:          alert.Status,
		EscalationLevel: alert.EscalationLevel,
		Temperature:     temperature,
		Threshold:       alert.ThresholdViolated,
		TriggeredAt:     alert.TriggeredAt,
		OccurredAt:      at.UTC(),
	}
}

// Notifier receives alert events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}
