package alerts

import (
	"testing"
	"time"

	readings "freshtrack-cloud/internal/readings/domain"
)

func tenths(v readings.Tenths) *readings.Tenths { return &v }

func duration(d time.Duration) *time.Duration { return &d }

func TestResolvePolicyMostSpecificWins(t *testing.T) {
	rules := []Rule{
		{ID: "unit", OrgID: "org", UnitID: "u-1", ConfirmDelay: duration(time.Minute), Enabled: true},
		{ID: "org", OrgID: "org", ConfirmDelay: duration(10 * time.Minute), StabilizationWindow: duration(20 * time.Minute), Enabled: true},
		{ID: "site", OrgID: "org", SiteID: "s-1", ConfirmDelay: duration(3 * time.Minute), TempMax: tenths(450), Enabled: true},
		{ID: "other-site", OrgID: "org", SiteID: "s-2", ConfirmDelay: duration(7 * time.Minute), Enabled: true},
		{ID: "disabled", OrgID: "org", UnitID: "u-1", ConfirmDelay: duration(0), Enabled: false},
	}
	policy := ResolvePolicy(rules, "org", "s-1", "u-1", 320, 400)
	if policy.RuleID != "unit" {
		t.Fatalf("expected unit rule, got %s", policy.RuleID)
	}
	if policy.ConfirmDelay != time.Minute {
		t.Fatalf("expected unit confirm delay, got %s", policy.ConfirmDelay)
	}
	if policy.StabilizationWindow != 20*time.Minute {
		t.Fatalf("expected inherited org window, got %s", policy.StabilizationWindow)
	}
	if policy.TempMin != 320 || policy.TempMax != 450 {
		t.Fatalf("expected unit min and site max, got %d..%d", policy.TempMin, policy.TempMax)
	}
}

func TestResolvePolicyDefaults(t *testing.T) {
	policy := ResolvePolicy(nil, "org", "", "u-1", 320, 400)
	if policy.ConfirmDelay != DefaultConfirmDelay || policy.StabilizationWindow != DefaultStabilizationWindow {
		t.Fatalf("expected defaults, got %+v", policy)
	}
	if policy.Violation(410) != ThresholdMax || policy.Violation(310) != ThresholdMin || !policy.InRange(400) || !policy.InRange(320) {
		t.Fatalf("unexpected range checks")
	}
}

func TestRuleMatchesOtherOrg(t *testing.T) {
	rule := Rule{ID: "r", OrgID: "org-a", Enabled: true}
	if rule.Matches("org-b", "", "u-1") {
		t.Fatalf("rule must not match another org")
	}
}
