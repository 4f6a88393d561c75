package memory

import (
	"context"
	"sync"
	"time"

	ingest "freshtrack-cloud/internal/ingest/application"
)

// EventLedger is an in-memory event ledger.
type EventLedger struct {
	mu     sync.Mutex
	events map[string]ledgerEntry
}

type ledgerEntry struct {
	readingID  string
	receivedAt time.Time
}

// NewEventLedger constructs a ledger.
func NewEventLedger() *EventLedger {
	return &EventLedger{events: make(map[string]ledgerEntry)}
}

// Reserve claims the event unless it was seen before.
func (l *EventLedger) Reserve(ctx context.Context, orgID, eventID, readingID string, at time.Time) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := orgID + "|" + eventID
	if existing, ok := l.events[key]; ok {
		return existing.readingID, false, nil
	}
	l.events[key] = ledgerEntry{readingID: readingID, receivedAt: at}
	return readingID, true, nil
}

// Release drops a reservation.
func (l *EventLedger) Release(ctx context.Context, orgID, eventID string) error {
	l.mu.Lock()
	delete(l.events, orgID+"|"+eventID)
	l.mu.Unlock()
	return nil
}

// Prune forgets events received before cutoff.
func (l *EventLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var removed int64
	for key, entry := range l.events {
		if entry.receivedAt.Before(cutoff) {
			delete(l.events, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of remembered events.
func (l *EventLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

var _ ingest.EventLedger = (*EventLedger)(nil)
