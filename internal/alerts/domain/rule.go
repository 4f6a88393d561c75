package alerts

import (
	"context"
	"errors"
	"time"

	readings "freshtrack-cloud/internal/readings/domain"
)

// Defaults applied when no rule sets a value.
const (
	DefaultConfirmDelay         = 5 * time.Minute
	DefaultStabilizationWindow  = 10 * time.Minute
	DefaultEscalateAfter        = 15 * time.Minute
	DefaultCriticalAtLevel      = 1
	DefaultInterruptAfterMissed = 2
	DefaultOfflineAfterMissed   = 6
	DefaultManualRequiredAfter  = 4 * time.Hour
)

// Rule scopes thresholds and timing to an organization, optionally narrowed
// to a site or a single unit. Zero values inherit from less specific scopes.
type Rule struct {
	ID                   string
	OrgID                string
	SiteID               string
	UnitID               string
	TempMin              *readings.Tenths
	TempMax              *readings.Tenths
	ConfirmDelay         *time.Duration
	StabilizationWindow  *time.Duration
	EscalateAfter        *time.Duration
	CriticalAtLevel      int
	InterruptAfterMissed int
	OfflineAfterMissed   int
	ManualRequiredAfter  time.Duration
	Enabled              bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("alert rule: empty id")
	}
	if r.OrgID == "" {
		return errors.New("alert rule: empty org id")
	}
	if r.TempMin != nil && r.TempMax != nil && *r.TempMin > *r.TempMax {
		return errors.New("alert rule: min above max")
	}
	for _, d := range []*time.Duration{r.ConfirmDelay, r.StabilizationWindow, r.EscalateAfter} {
		if d != nil && *d < 0 {
			return errors.New("alert rule: negative duration")
		}
	}
	return nil
}

// Specificity ranks scope: unit 2, site 1, org 0.
func (r Rule) Specificity() int {
	switch {
	case r.UnitID != "":
		return 2
	case r.SiteID != "":
		return 1
	default:
		return 0
	}
}

// Matches reports whether the rule applies to the unit.
func (r Rule) Matches(orgID, siteID, unitID string) bool {
	if !r.Enabled || r.OrgID != orgID {
		return false
	}
	if r.UnitID != "" && r.UnitID != unitID {
		return false
	}
	if r.SiteID != "" && r.SiteID != siteID {
		return false
	}
	return true
}

// Policy is the fully resolved evaluation configuration for one unit.
type Policy struct {
	RuleID               string
	TempMin              readings.Tenths
	TempMax              readings.Tenths
	ConfirmDelay         time.Duration
	StabilizationWindow  time.Duration
	EscalateAfter        time.Duration
	CriticalAtLevel      int
	InterruptAfterMissed int
	OfflineAfterMissed   int
	ManualRequiredAfter  time.Duration
}

// Violation returns the bound a temperature violates, or ThresholdNone when in range.
func (p Policy) Violation(t readings.Tenths) Threshold {
	switch {
	case t < p.TempMin:
		return ThresholdMin
	case t > p.TempMax:
		return ThresholdMax
	default:
		return ThresholdNone
	}
}

// InRange reports min <= t <= max.
func (p Policy) InRange(t readings.Tenths) bool {
	return p.Violation(t) == ThresholdNone
}

// ResolvePolicy layers matching rules from least to most specific over the
// unit's own range and the built-in defaults. The most specific value wins.
func ResolvePolicy(rules []Rule, orgID, siteID, unitID string, unitMin, unitMax readings.Tenths) Policy {
	policy := Policy{
		TempMin:              unitMin,
		TempMax:              unitMax,
		ConfirmDelay:         DefaultConfirmDelay,
		StabilizationWindow:  DefaultStabilizationWindow,
		EscalateAfter:        DefaultEscalateAfter,
		CriticalAtLevel:      DefaultCriticalAtLevel,
		InterruptAfterMissed: DefaultInterruptAfterMissed,
		OfflineAfterMissed:   DefaultOfflineAfterMissed,
		ManualRequiredAfter:  DefaultManualRequiredAfter,
	}
	for specificity := 0; specificity <= 2; specificity++ {
		for _, rule := range rules {
			if rule.Specificity() != specificity || !rule.Matches(orgID, siteID, unitID) {
				continue
			}
			policy.RuleID = rule.ID
			if rule.TempMin != nil {
				policy.TempMin = *rule.TempMin
			}
			if rule.TempMax != nil {
				policy.TempMax = *rule.TempMax
			}
			if rule.ConfirmDelay != nil {
				policy.ConfirmDelay = *rule.ConfirmDelay
			}
			if rule.StabilizationWindow != nil {
				policy.StabilizationWindow = *rule.StabilizationWindow
			}
			if rule.EscalateAfter != nil {
				policy.EscalateAfter = *rule.EscalateAfter
			}
			if rule.CriticalAtLevel > 0 {
				policy.CriticalAtLevel = rule.CriticalAtLevel
			}
			if rule.InterruptAfterMissed > 0 {
				policy.InterruptAfterMissed = rule.InterruptAfterMissed
			}
			if rule.OfflineAfterMissed > 0 {
				policy.OfflineAfterMissed = rule.OfflineAfterMissed
			}
			if rule.ManualRequiredAfter > 0 {
				policy.ManualRequiredAfter = rule.ManualRequiredAfter
			}
		}
	}
	return policy
}

// RuleRepository loads alert rules.
type RuleRepository interface {
	ListForUnit(ctx context.Context, orgID, siteID, unitID string) ([]Rule, error)
}
