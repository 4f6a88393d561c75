package application

import (
	"context"
	"time"
)

// EventLedger remembers which pushed events were already ingested.
type EventLedger interface {
	// Reserve claims (orgID, eventID) for readingID. When the event was seen
	// before it returns the reading id recorded then and reserved=false.
	Reserve(ctx context.Context, orgID, eventID, readingID string, at time.Time) (existing string, reserved bool, err error)
	// Release forgets a reservation whose ingest failed so a retry can succeed.
	Release(ctx context.Context, orgID, eventID string) error
}
