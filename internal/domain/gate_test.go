package domain_test

import (
	"strings"
	"testing"

	"github.com/gateline/gateline/internal/domain"
)

func TestEvaluateThresholds_AllWithinLimits(t *testing.T) {
	verdict := domain.EvaluateThresholds(
		domain.GateMetrics{Coverage: 85.2, NewBugs: 0, SecurityHotspots: 1},
		domain.GateRuleset{MinCoverage: 80, MaxNewBugs: 0, MaxSecurityHotspots: 2},
	)
	if !verdict.Passed {
		t.Fatalf("Passed = false, violations: %v", verdict.Violations)
	}
	if len(verdict.Violations) != 0 {
		t.Errorf("Violations = %v, want none", verdict.Violations)
	}
}

func TestEvaluateThresholds_CollectsEveryViolation(t *testing.T) {
	verdict := domain.EvaluateThresholds(
		domain.GateMetrics{Coverage: 61.5, NewBugs: 3, SecurityHotspots: 5},
		domain.GateRuleset{MinCoverage: 80, MaxNewBugs: 0, MaxSecurityHotspots: 2},
	)
	if verdict.Passed {
		t.Fatal("Passed = true, want false")
	}
	if len(verdict.Violations) != 3 {
		t.Fatalf("Violations = %v, want 3 entries", verdict.Violations)
	}
	joined := strings.Join(verdict.Violations, "\n")
	for _, want := range []string{"coverage", "bugs", "hotspots"} {
		if !strings.Contains(joined, want) {
			t.Errorf("violations missing %q: %v", want, verdict.Violations)
		}
	}
}

func TestEvaluateThresholds_BoundaryValuesPass(t *testing.T) {
	verdict := domain.EvaluateThresholds(
		domain.GateMetrics{Coverage: 80, NewBugs: 0, SecurityHotspots: 2},
		domain.GateRuleset{MinCoverage: 80, MaxNewBugs: 0, MaxSecurityHotspots: 2},
	)
	if !verdict.Passed {
		t.Errorf("metrics exactly at thresholds must pass, violations: %v", verdict.Violations)
	}
}

func TestEvaluateThresholds_Deterministic(t *testing.T) {
	metrics := domain.GateMetrics{Coverage: 70, NewBugs: 1}
	ruleset := domain.GateRuleset{MinCoverage: 80}
	a := domain.EvaluateThresholds(metrics, ruleset)
	b := domain.EvaluateThresholds(metrics, ruleset)
	if a.Passed != b.Passed || strings.Join(a.Violations, "|") != strings.Join(b.Violations, "|") {
		t.Errorf("verdicts differ for identical inputs: %v vs %v", a, b)
	}
}

func TestStaticRulesets_PerEnvironmentOverride(t *testing.T) {
	rulesets := domain.StaticRulesets{
		Default: domain.GateRuleset{MinCoverage: 70},
		PerEnvironment: map[domain.Environment]domain.GateRuleset{
			"prod": {MinCoverage: 90},
		},
	}
	if got := rulesets.ForEnvironment("prod").MinCoverage; got != 90 {
		t.Errorf("prod MinCoverage = %v, want 90", got)
	}
	if got := rulesets.ForEnvironment("staging").MinCoverage; got != 70 {
		t.Errorf("staging MinCoverage = %v, want 70 (default)", got)
	}
}
