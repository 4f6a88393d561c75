package partitions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"freshtrack-cloud/internal/apperr"
)

// Parent is the partitioned readings table.
const Parent = "readings"

// DefaultName is the catch-all partition for timestamps outside every monthly range.
const DefaultName = Parent + "_default"

var monthlyName = regexp.MustCompile(`^` + Parent + `_p(\d{4})_(\d{2})$`)

// ErrInvalidName indicates a partition name outside the monthly scheme.
var ErrInvalidName = fmt.Errorf("partition: %w: invalid name", apperr.ErrValidation)

// Partition is one monthly slice [From, To) of the readings table.
type Partition struct {
	Name    string    `json:"name"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Default bool      `json:"default,omitempty"`
}

// MonthStart truncates t to the first instant of its UTC month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ForMonth returns the partition that holds t.
func ForMonth(t time.Time) Partition {
	from := MonthStart(t)
	return Partition{
		Name: fmt.Sprintf("%s_p%04d_%02d", Parent, from.Year(), int(from.Month())),
		From: from,
		To:   from.AddDate(0, 1, 0),
	}
}

// ParseName maps a partition name back to its range.
func ParseName(name string) (Partition, error) {
	if name == DefaultName {
		return Partition{Name: name, Default: true}, nil
	}
	match := monthlyName.FindStringSubmatch(name)
	if match == nil {
		return Partition{}, ErrInvalidName
	}
	year, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	if month < 1 || month > 12 {
		return Partition{}, ErrInvalidName
	}
	return ForMonth(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)), nil
}

// Upcoming lists the current month's partition and the next monthsAhead.
func Upcoming(now time.Time, monthsAhead int) []Partition {
	if monthsAhead < 0 {
		monthsAhead = 0
	}
	start := MonthStart(now)
	result := make([]Partition, 0, monthsAhead+1)
	for i := 0; i <= monthsAhead; i++ {
		result = append(result, ForMonth(start.AddDate(0, i, 0)))
	}
	return result
}

// RetentionCutoff is the month start horizonMonths before the current month.
// Partitions ending at or before it are eligible for deletion.
func RetentionCutoff(now time.Time, horizonMonths int) time.Time {
	return MonthStart(now).AddDate(0, -horizonMonths, 0)
}

// Expired reports whether the whole partition lies before cutoff. The
// default partition never expires.
func (p Partition) Expired(cutoff time.Time) bool {
	return !p.Default && !p.To.IsZero() && !p.To.After(cutoff)
}

// Override excludes a partition from retention, e.g. for a legal hold.
type Override struct {
	Partition string     `json:"partition"`
	Reason    string     `json:"reason"`
	CreatedBy string     `json:"created_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Active reports whether the override still protects its partition.
func (o Override) Active(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// Validate checks override invariants.
func (o Override) Validate() error {
	if _, err := ParseName(o.Partition); err != nil {
		return err
	}
	if o.Partition == DefaultName {
		return fmt.Errorf("partition: %w: the default partition is never dropped", apperr.ErrValidation)
	}
	if o.Reason == "" {
		return fmt.Errorf("partition: %w: reason required", apperr.ErrValidation)
	}
	return nil
}

// ErrOverrideNotFound indicates a missing override.
var ErrOverrideNotFound = fmt.Errorf("partition override: %w", apperr.ErrNotFound)

// Catalog manages the physical partitions of the readings table.
type Catalog interface {
	List(ctx context.Context) ([]Partition, error)
	// Create is idempotent; created is false when the partition already existed.
	Create(ctx context.Context, partition Partition) (created bool, err error)
	Drop(ctx context.Context, name string) error
	CountRows(ctx context.Context, name string) (int64, error)
}

// OverrideStore persists retention overrides.
type OverrideStore interface {
	Put(ctx context.Context, override Override) error
	Delete(ctx context.Context, partition string) error
	List(ctx context.Context) ([]Override, error)
	ListActive(ctx context.Context, now time.Time) ([]Override, error)
}

// Archiver copies a partition somewhere durable before it is dropped.
type Archiver interface {
	Archive(ctx context.Context, partition Partition) (location string, err error)
}

// ErrNoCatalog is returned when the manager has no catalog.
var ErrNoCatalog = errors.New("partition manager: nil catalog")
