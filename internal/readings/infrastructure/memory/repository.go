package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	readings "freshtrack-cloud/internal/readings/domain"
)

// ReadingRepository is an in-memory reading store.
type ReadingRepository struct {
	mu      sync.RWMutex
	byUnit  map[string][]readings.Reading
	inserts int
	failErr error
}

// NewReadingRepository constructs a repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{byUnit: make(map[string][]readings.Reading)}
}

// FailWith makes subsequent inserts fail with err; nil restores normal behavior.
func (r *ReadingRepository) FailWith(err error) {
	r.mu.Lock()
	r.failErr = err
	r.mu.Unlock()
}

// InsertBatch appends the batch atomically.
func (r *ReadingRepository) InsertBatch(ctx context.Context, batch []readings.Reading) error {
	for _, reading := range batch {
		if err := reading.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	for _, reading := range batch {
		list := append(r.byUnit[reading.UnitID], reading)
		sort.SliceStable(list, func(i, j int) bool { return less(list[i], list[j]) })
		r.byUnit[reading.UnitID] = list
	}
	r.inserts += len(batch)
	return nil
}

// Count returns the number of stored readings.
func (r *ReadingRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inserts
}

// ListByUnit returns one keyset page ordered by (recorded_at, id).
func (r *ReadingRepository) ListByUnit(ctx context.Context, query readings.Query) (readings.Page, error) {
	if query.UnitID == "" {
		return readings.Page{}, errors.New("reading repo: unit id required")
	}
	var after *readings.Reading
	if query.Cursor != "" {
		at, id, err := readings.DecodeCursor(query.Cursor)
		if err != nil {
			return readings.Page{}, err
		}
		after = &readings.Reading{ID: id, RecordedAt: at}
	}
	limit := query.PageLimit()

	r.mu.RLock()
	defer r.mu.RUnlock()
	page := readings.Page{Readings: []readings.Reading{}}
	for _, reading := range r.byUnit[query.UnitID] {
		if !query.From.IsZero() && reading.RecordedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && !reading.RecordedAt.Before(query.To) {
			continue
		}
		if after != nil && !less(*after, reading) {
			continue
		}
		if len(page.Readings) == limit {
			page.NextCursor = readings.EncodeCursor(page.Readings[limit-1])
			break
		}
		page.Readings = append(page.Readings, reading)
	}
	return page, nil
}

// Latest returns the newest reading by recorded time.
func (r *ReadingRepository) Latest(ctx context.Context, unitID string) (*readings.Reading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byUnit[unitID]
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[len(list)-1]
	return &latest, nil
}

func less(a, b readings.Reading) bool {
	if a.RecordedAt.Equal(b.RecordedAt) {
		return a.ID < b.ID
	}
	return a.RecordedAt.Before(b.RecordedAt)
}

var _ readings.Repository = (*ReadingRepository)(nil)
