package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"freshtrack-cloud/internal/apperr"
	"freshtrack-cloud/internal/audit"
	partitions "freshtrack-cloud/internal/partitions/domain"
)

// ErrNoOverrideStore is returned when overrides are not configured.
var ErrNoOverrideStore = errors.New("partition overrides: nil store")

// OverrideInput is an operator request to hold a partition.
type OverrideInput struct {
	Partition string     `json:"partition"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Actor identifies who changes an override.
type Actor struct {
	OrgID   string
	Subject string
	Role    string
}

// PutOverride validates and stores a retention override, audit-logged.
func (m *Manager) PutOverride(ctx context.Context, actor Actor, input OverrideInput) (partitions.Override, error) {
	if m.overrides == nil {
		return partitions.Override{}, ErrNoOverrideStore
	}
	now := m.clock.Now().UTC()
	override := partitions.Override{
		Partition: input.Partition,
		Reason:    input.Reason,
		CreatedBy: actor.Subject,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: now,
	}
	if err := override.Validate(); err != nil {
		return partitions.Override{}, err
	}
	if override.ExpiresAt != nil && !override.ExpiresAt.After(now) {
		return partitions.Override{}, fmt.Errorf("partition override: %w: expiry must be in the future", apperr.ErrValidation)
	}
	if err := m.overrides.Put(ctx, override); err != nil {
		return partitions.Override{}, apperr.Storage(err)
	}
	m.record(ctx, actor, "partition_override.put", override.Partition, override)
	return override, nil
}

// DeleteOverride removes a retention override, audit-logged.
func (m *Manager) DeleteOverride(ctx context.Context, actor Actor, partition string) error {
	if m.overrides == nil {
		return ErrNoOverrideStore
	}
	if err := m.overrides.Delete(ctx, partition); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return apperr.Storage(err)
	}
	m.record(ctx, actor, "partition_override.delete", partition, nil)
	return nil
}

// ListOverrides returns every stored override, active or lapsed.
func (m *Manager) ListOverrides(ctx context.Context) ([]partitions.Override, error) {
	if m.overrides == nil {
		return nil, ErrNoOverrideStore
	}
	list, err := m.overrides.List(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return list, nil
}

func (m *Manager) record(ctx context.Context, actor Actor, action, partition string, payload any) {
	if m.audit == nil {
		return
	}
	var metadata json.RawMessage
	if payload != nil {
		metadata, _ = json.Marshal(payload)
	}
	entry := audit.Entry{
		OrgID:        actor.OrgID,
		Actor:        actor.Subject,
		Role:         actor.Role,
		Action:       action,
		ResourceType: "partition",
		ResourceID:   partition,
		Metadata:     metadata,
		CreatedAt:    m.clock.Now().UTC(),
	}
	if err := m.audit.Log(ctx, entry); err != nil {
		m.logger.Printf("partitions: audit log failed: action=%s partition=%s err=%v", action, partition, err)
	}
}

// Partitions lists the physical partitions of the readings table.
func (m *Manager) Partitions(ctx context.Context) ([]partitions.Partition, error) {
	list, err := m.catalog.List(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return list, nil
}
