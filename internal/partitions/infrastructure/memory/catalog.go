package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	partitions "freshtrack-cloud/internal/partitions/domain"
)

// Catalog is an in-memory partition catalog.
type Catalog struct {
	mu        sync.Mutex
	parts     map[string]partitions.Partition
	rows      map[string]int64
	failNames map[string]error
}

// NewCatalog constructs a catalog holding the default partition.
func NewCatalog() *Catalog {
	return &Catalog{
		parts: map[string]partitions.Partition{
			partitions.DefaultName: {Name: partitions.DefaultName, Default: true},
		},
		rows:      make(map[string]int64),
		failNames: make(map[string]error),
	}
}

// FailOn makes create and drop of name fail with err.
func (c *Catalog) FailOn(name string, err error) {
	c.mu.Lock()
	c.failNames[name] = err
	c.mu.Unlock()
}

// SetRows sets the row count of a partition.
func (c *Catalog) SetRows(name string, rows int64) {
	c.mu.Lock()
	c.rows[name] = rows
	c.mu.Unlock()
}

// Has reports whether the partition exists.
func (c *Catalog) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.parts[name]
	return ok
}

// List returns partitions ordered by name.
func (c *Catalog) List(ctx context.Context) ([]partitions.Partition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]partitions.Partition, 0, len(c.parts))
	for _, p := range c.parts {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Create adds the partition unless present.
func (c *Catalog) Create(ctx context.Context, partition partitions.Partition) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNames[partition.Name]; err != nil {
		return false, err
	}
	if _, ok := c.parts[partition.Name]; ok {
		return false, nil
	}
	c.parts[partition.Name] = partition
	return true, nil
}

// Drop removes the partition.
func (c *Catalog) Drop(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNames[name]; err != nil {
		return err
	}
	delete(c.parts, name)
	delete(c.rows, name)
	return nil
}

// CountRows returns the configured row count.
func (c *Catalog) CountRows(ctx context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows[name], nil
}

// OverrideStore is an in-memory override store.
type OverrideStore struct {
	mu        sync.Mutex
	overrides map[string]partitions.Override
}

// NewOverrideStore constructs a store.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{overrides: make(map[string]partitions.Override)}
}

// Put inserts or replaces the override of a partition.
func (s *OverrideStore) Put(ctx context.Context, override partitions.Override) error {
	s.mu.Lock()
	s.overrides[override.Partition] = override
	s.mu.Unlock()
	return nil
}

// Delete removes an override.
func (s *OverrideStore) Delete(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[partition]; !ok {
		return partitions.ErrOverrideNotFound
	}
	delete(s.overrides, partition)
	return nil
}

// List returns all overrides ordered by partition.
func (s *OverrideStore) List(ctx context.Context) ([]partitions.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]partitions.Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Partition < result[j].Partition })
	return result, nil
}

// ListActive returns overrides still in force at now.
func (s *OverrideStore) ListActive(ctx context.Context, now time.Time) ([]partitions.Override, error) {
	all, _ := s.List(ctx)
	var result []partitions.Override
	for _, o := range all {
		if o.Active(now) {
			result = append(result, o)
		}
	}
	return result, nil
}

var (
	_ partitions.Catalog       = (*Catalog)(nil)
	_ partitions.OverrideStore = (*OverrideStore)(nil)
)
