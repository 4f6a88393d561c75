package auth

import (
	"context"

	units "freshtrack-cloud/internal/units/domain"
)

// UnitOrgChecker validates that a unit belongs to the caller's organization.
type UnitOrgChecker struct {
	units units.Repository
}

// NewUnitOrgChecker constructs a checker.
func NewUnitOrgChecker(repo units.Repository) *UnitOrgChecker {
	if repo == nil {
		return nil
	}
	return &UnitOrgChecker{units: repo}
}

// EnsureUnitOrg returns the unit when it belongs to orgID.
func (c *UnitOrgChecker) EnsureUnitOrg(ctx context.Context, orgID, unitID string) (*units.Unit, error) {
	if c == nil || c.units == nil {
		return nil, ErrNotFound
	}
	if orgID == "" || unitID == "" {
		return nil, ErrNotFound
	}
	unit, err := c.units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, ErrNotFound
	}
	if unit.OrgID != orgID {
		return nil, ErrOrgMismatch
	}
	return unit, nil
}
