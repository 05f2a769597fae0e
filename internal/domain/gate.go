package domain

import "fmt"

// GateRuleset is the configured quality-gate thresholds for one
// environment.
type GateRuleset struct {
	MinCoverage         float64
	MaxNewBugs          int
	MaxSecurityHotspots int
}

// GateMetrics are the static-analysis measures rendered for a revision.
type GateMetrics struct {
	Coverage         float64
	NewBugs          int
	SecurityHotspots int
}

// QualityGateVerdict is the pass/fail outcome of evaluating metrics
// against a ruleset. Immutable once rendered; re-evaluation produces a
// new verdict.
type QualityGateVerdict struct {
	Metrics    GateMetrics
	Thresholds GateRuleset
	Passed     bool
	Violations []string
}

// EvaluateThresholds renders a verdict for metrics against a ruleset.
// Deterministic: identical inputs always render the same verdict.
func EvaluateThresholds(metrics GateMetrics, ruleset GateRuleset) QualityGateVerdict {
	var violations []string
	if metrics.Coverage < ruleset.MinCoverage {
		violations = append(violations,
			fmt.Sprintf("coverage %.1f%% below minimum %.1f%%", metrics.Coverage, ruleset.MinCoverage))
	}
	if metrics.NewBugs > ruleset.MaxNewBugs {
		violations = append(violations,
			fmt.Sprintf("%d new bugs exceed maximum %d", metrics.NewBugs, ruleset.MaxNewBugs))
	}
	if metrics.SecurityHotspots > ruleset.MaxSecurityHotspots {
		violations = append(violations,
			fmt.Sprintf("%d security hotspots exceed maximum %d", metrics.SecurityHotspots, ruleset.MaxSecurityHotspots))
	}
	return QualityGateVerdict{
		Metrics:    metrics,
		Thresholds: ruleset,
		Passed:     len(violations) == 0,
		Violations: violations,
	}
}

// RulesetProvider resolves the gate ruleset for an environment.
// Production environments typically carry stricter thresholds.
type RulesetProvider interface {
	ForEnvironment(env Environment) GateRuleset
}

// StaticRulesets is a RulesetProvider backed by a fixed map with a
// default fallback.
type StaticRulesets struct {
	Default        GateRuleset
	PerEnvironment map[Environment]GateRuleset
}

func (s StaticRulesets) ForEnvironment(env Environment) GateRuleset {
	if rs, ok := s.PerEnvironment[env]; ok {
		return rs
	}
	return s.Default
}
