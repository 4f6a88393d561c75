package readings

import (
	"context"
	"errors"
	"time"
)

// Source tags where a reading came from.
type Source string

const (
	SourceWebhook     Source = "webhook"
	SourceBulkImport  Source = "bulk_import"
	SourceManualEntry Source = "manual_entry"
	SourceSimulation  Source = "simulation"
)

// Valid returns true when the source is supported.
func (s Source) Valid() bool {
	switch s {
	case SourceWebhook, SourceBulkImport, SourceManualEntry, SourceSimulation:
		return true
	default:
		return false
	}
}

// Reading is one sensor observation. RecordedAt never changes once stored.
type Reading struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"org_id"`
	UnitID         string    `json:"unit_id"`
	DeviceID       string    `json:"device_id,omitempty"`
	Temperature    Tenths    `json:"temperature"`
	Humidity       *float64  `json:"humidity,omitempty"`
	BatteryPercent *int      `json:"battery_percent,omitempty"`
	SignalRSSI     *int      `json:"signal_rssi,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
	ReceivedAt     time.Time `json:"received_at"`
	Source         Source    `json:"source"`
}

// Validate checks storage invariants.
func (r Reading) Validate() error {
	if r.ID == "" {
		return errors.New("reading: empty id")
	}
	if r.OrgID == "" || r.UnitID == "" {
		return errors.New("reading: empty org or unit id")
	}
	if r.RecordedAt.IsZero() || r.ReceivedAt.IsZero() {
		return errors.New("reading: missing timestamps")
	}
	if !r.Source.Valid() {
		return errors.New("reading: invalid source")
	}
	return nil
}

// MaxPageSize caps a single query page.
const (
	MaxPageSize     = 1000
	DefaultPageSize = 100
)

// Query selects readings of one unit in [From, To).
type Query struct {
	UnitID string
	From   time.Time
	To     time.Time
	Limit  int
	Cursor string
}

// PageLimit clamps the requested limit.
func (q Query) PageLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return q.Limit
	}
}

// Page is one page of readings ordered by recorded time.
type Page struct {
	Readings   []Reading `json:"readings"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// Repository persists readings.
type Repository interface {
	InsertBatch(ctx context.Context, batch []Reading) error
	ListByUnit(ctx context.Context, query Query) (Page, error)
	Latest(ctx context.Context, unitID string) (*Reading, error)
}
