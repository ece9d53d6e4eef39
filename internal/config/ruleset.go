// Package config loads and validates the per-project ProjectRuleset plus
// the Autopack server configuration, following the teacher's layered
// defaults + override pattern (internal/config/config.go in the pack).
package config

import (
	"fmt"

	"github.com/autopack-dev/autopack/internal/runmodel"
)

// ComplexityTokenCaps maps Complexity to the per-phase token cap for one
// task_category (spec §4.2: "exact values taken from ruleset, not
// hardcoded by the core").
type ComplexityTokenCaps map[runmodel.Complexity]int64

// CategoryDefaults is the resolved policy for one
// task_category x complexity x safety_profile combination (spec §4.2).
type CategoryDefaults struct {
	PhaseTokenCapByComplexity ComplexityTokenCaps `yaml:"phase_token_cap_by_complexity"`
	MaxBuilderAttempts        int                 `yaml:"max_builder_attempts"`
	MaxAuditorAttempts        int                 `yaml:"max_auditor_attempts"`
	CIProfile                 runmodel.CIProfile  `yaml:"ci_profile"`
	AuditorStrictness         string              `yaml:"auditor_strictness"`
	MinorIssueTolerance       float64             `yaml:"minor_issue_tolerance"`

	// EscalateOnAttempt is the attempt index (>=2) at which Builder/Auditor
	// are asked to use the escalated model tier for this task_category x
	// complexity pair (spec §4.2). Defaults to 2 when unset.
	EscalateOnAttempt int `yaml:"escalate_on_attempt"`
}

// SafetyProfileOverrides are the tightenings applied when a Run declares
// safety_profile=safety_critical (spec §4.2).
type SafetyProfileOverrides struct {
	MinorIssueToleranceFloor   float64 `yaml:"minor_issue_tolerance_floor"`
	AgingThresholdRuns         int     `yaml:"aging_threshold_runs"`
	SmallStepsMaxPhasesPerTier int     `yaml:"small_steps_max_phases_per_tier"`
}

// ProjectRuleset is the persistent per-project config (spec §3.1).
type ProjectRuleset struct {
	ProjectID string `yaml:"project_id"`

	// Defaults maps "task_category" -> per-safety-profile defaults.
	Defaults map[runmodel.TaskCategory]map[runmodel.SafetyProfile]CategoryDefaults `yaml:"defaults"`

	SafetyOverrides map[runmodel.SafetyProfile]SafetyProfileOverrides `yaml:"safety_overrides"`

	// RunTokenCapCeiling bounds a run spec's requested run_token_cap.
	RunTokenCapCeiling int64 `yaml:"run_token_cap_ceiling"`
	// RunMaxPhasesCeiling bounds a run spec's requested run_max_phases.
	RunMaxPhasesCeiling int `yaml:"run_max_phases_ceiling"`

	// LearnedRulePromotionThreshold overrides the default (>=2, spec §4.4
	// open question: "implementers should make this a configurable
	// safety_profile parameter rather than a constant").
	LearnedRulePromotionThreshold map[runmodel.SafetyProfile]int `yaml:"learned_rule_promotion_threshold,omitempty"`

	// DebtCleanupEnabled is copied into RunStrategy by strategy.Compile
	// (spec §4.1, §10 supplement). The Supervisor does not read it: no
	// debt_cleanup Tier is appended, and a failed Tier still ends the Run.
	DebtCleanupEnabled bool `yaml:"debt_cleanup_enabled"`

	// CIMaxRetries is the default ci_profile.max_retries; may be
	// overridden per CategoryDefaults.CIProfile via CIProfiles below.
	CIMaxRetries int                                  `yaml:"ci_max_retries"`
	CIProfiles   map[runmodel.CIProfile]CIProfileSpec `yaml:"ci_profiles"`
}

// CIProfileSpec describes one named CI profile's suite breadth and retry
// policy (spec §4.7).
type CIProfileSpec struct {
	Suites     []string `yaml:"suites"`
	MaxRetries int      `yaml:"max_retries"`
}

// ResolveCategoryDefaults looks up the CategoryDefaults for a
// (task_category, safety_profile) pair. Returns the zero CategoryDefaults
// plus a plain descriptive error when the category is unmapped, matching
// spec §4.2's "Every task_category known to the core MUST be mapped."
func (r *ProjectRuleset) ResolveCategoryDefaults(cat runmodel.TaskCategory, profile runmodel.SafetyProfile) (CategoryDefaults, error) {
	byProfile, ok := r.Defaults[cat]
	if !ok {
		return CategoryDefaults{}, fmt.Errorf("missing category mapping for %q", cat)
	}
	defaults, ok := byProfile[profile]
	if !ok {
		// Fall back to "normal" profile defaults when safety_critical has
		// no explicit override; the safety overrides layer tightens from
		// there.
		defaults, ok = byProfile[runmodel.SafetyNormal]
		if !ok {
			return CategoryDefaults{}, fmt.Errorf("missing category mapping for %q under profile %q", cat, profile)
		}
	}
	return defaults, nil
}

// PromotionThreshold returns the learned-rule promotion threshold for a
// safety profile, defaulting to the spec-frozen minimum of 2 (§4.4).
func (r *ProjectRuleset) PromotionThreshold(profile runmodel.SafetyProfile) int {
	if r.LearnedRulePromotionThreshold != nil {
		if n, ok := r.LearnedRulePromotionThreshold[profile]; ok && n >= 2 {
			return n
		}
	}
	return 2
}
