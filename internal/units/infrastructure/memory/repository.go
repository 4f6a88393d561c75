package memory

import (
	"context"
	"sort"
	"sync"

	units "freshtrack-cloud/internal/units/domain"
)

// UnitRepository is an in-memory unit store.
type UnitRepository struct {
	mu    sync.RWMutex
	units map[string]units.Unit
}

// NewUnitRepository constructs a repository seeded with units.
func NewUnitRepository(seed ...units.Unit) *UnitRepository {
	repo := &UnitRepository{units: make(map[string]units.Unit)}
	for _, unit := range seed {
		if unit.Status == "" {
			unit.Status = units.StatusOK
		}
		repo.units[unit.ID] = unit
	}
	return repo
}

// Put inserts or replaces a unit.
func (r *UnitRepository) Put(unit units.Unit) {
	r.mu.Lock()
	r.units[unit.ID] = unit
	r.mu.Unlock()
}

// Get returns a copy of the unit.
func (r *UnitRepository) Get(ctx context.Context, id string) (*units.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[id]
	if !ok {
		return nil, nil
	}
	return &unit, nil
}

// GetMany returns the units that exist among ids.
func (r *UnitRepository) GetMany(ctx context.Context, ids []string) (map[string]units.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]units.Unit, len(ids))
	for _, id := range ids {
		if unit, ok := r.units[id]; ok {
			result[id] = unit
		}
	}
	return result, nil
}

// SaveState overwrites the stored unit.
func (r *UnitRepository) SaveState(ctx context.Context, unit units.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[unit.ID]; !ok {
		return units.ErrNotFound
	}
	r.units[unit.ID] = unit
	return nil
}

// ListMonitored returns all units ordered by id.
func (r *UnitRepository) ListMonitored(ctx context.Context) ([]units.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]units.Unit, 0, len(r.units))
	for _, unit := range r.units {
		result = append(result, unit)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ units.Repository = (*UnitRepository)(nil)
