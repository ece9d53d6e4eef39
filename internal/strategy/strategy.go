// Package strategy compiles a ProjectRuleset + ProjectLearnedRules + run
// spec into an immutable RunStrategy (spec §4.2). Compile is pure and
// deterministic: the same inputs always produce a byte-identical
// RunStrategy hash (spec §8 round-trip law).
package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/config"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/runmodel"
)

// PhaseSpec is the caller-declared shape of one Phase within a run spec,
// before policy has been compiled onto it.
type PhaseSpec struct {
	Name         string                `json:"name"`
	TaskCategory runmodel.TaskCategory `json:"task_category"`
	Complexity   runmodel.Complexity   `json:"complexity"`
	BuilderMode  runmodel.BuilderMode  `json:"builder_mode,omitempty"`
	ScopePaths   []string              `json:"scope_paths"`
}

// TierSpec is the caller-declared shape of one Tier within a run spec.
type TierSpec struct {
	Name   string      `json:"name"`
	Phases []PhaseSpec `json:"phases"`
}

// RunSpec is the input to StartRun / Compile: the caller's declaration of
// what a Run should build (spec §6.2 POST /runs/start body).
type RunSpec struct {
	ProjectID          string                 `json:"project_id"`
	StackProfile       string                 `json:"stack_profile,omitempty"`
	SafetyProfile      runmodel.SafetyProfile `json:"safety_profile"`
	Tiers              []TierSpec             `json:"tiers"`
	RequestedTokenCap  int64                  `json:"requested_token_cap,omitempty"`
	RequestedMaxPhases int                    `json:"requested_max_phases,omitempty"`
}

// CompiledPhasePolicy is the per-Phase policy frozen into a RunStrategy.
type CompiledPhasePolicy struct {
	TokenCap           int64
	MaxBuilderAttempts int
	MaxAuditorAttempts int
	CIProfile          runmodel.CIProfile
	RequiresCI         bool
	EscalateOnAttempt  int // attempt index (>=2) at which Builder/Auditor escalate model tier
}

// RunStrategy is the frozen, compiled view of a Run's policy (spec §3.1).
// It is never mutated once Compile returns it.
type RunStrategy struct {
	ProjectID                  string
	SafetyProfile              runmodel.SafetyProfile
	RunBudgets                 runmodel.RunBudgets
	MinorIssueTolerance        float64
	AgingThresholdRuns         int
	SmallStepsMaxPhasesPerTier int
	DebtCleanupEnabled         bool
	PromotionThreshold         int
	CIMaxRetries               map[runmodel.CIProfile]int

	// PhasePolicies is keyed by (task_category, complexity) joined with "|".
	PhasePolicies map[string]CompiledPhasePolicy

	// LearnedRulesSnapshot is the immutable set loaded at RUN_CREATED
	// (spec §4.4 snapshot semantics).
	LearnedRulesSnapshot []learnedrules.LearnedRule

	// Hash is this RunStrategy's content hash for auditability (spec §4.2).
	Hash string
}

func policyKey(cat runmodel.TaskCategory, complexity runmodel.Complexity) string {
	return string(cat) + "|" + string(complexity)
}

// Compile produces an immutable RunStrategy from a ProjectRuleset, a
// learned-rules snapshot, and a run spec. When dryRun is true the caller is
// expected not to persist the result (used for offline ruleset validation,
// spec §4.2 and §10 supplement).
func Compile(ruleset *config.ProjectRuleset, learned []learnedrules.LearnedRule, spec RunSpec, dryRun bool) (*RunStrategy, error) {
	if ruleset == nil {
		return nil, autopackerr.New(autopackerr.CodeRulesetMissing, "project ruleset is required to compile a run strategy")
	}

	safety := spec.SafetyProfile
	if !runmodel.IsValidSafetyProfile(safety) {
		return nil, autopackerr.Withf(autopackerr.CodeRulesetInvalid, "invalid safety_profile", "%q", safety)
	}

	phasePolicies := map[string]CompiledPhasePolicy{}
	var phaseCapsByTier []int64
	for _, tier := range spec.Tiers {
		var tierPhaseCaps []int64
		for _, phase := range tier.Phases {
			if !runmodel.IsValidCategory(phase.TaskCategory) {
				return nil, autopackerr.Withf(autopackerr.CodeCategoryUnknown, "ruleset is missing a category mapping", "%q", phase.TaskCategory)
			}
			if !runmodel.IsValidComplexity(phase.Complexity) {
				return nil, autopackerr.Withf(autopackerr.CodeRulesetInvalid, "invalid complexity", "%q", phase.Complexity)
			}

			key := policyKey(phase.TaskCategory, phase.Complexity)
			if _, already := phasePolicies[key]; already {
				tierPhaseCaps = append(tierPhaseCaps, phasePolicies[key].TokenCap)
				continue
			}

			defaults, err := ruleset.ResolveCategoryDefaults(phase.TaskCategory, safety)
			if err != nil {
				return nil, autopackerr.Wrap(autopackerr.CodeCategoryUnknown, "ruleset is missing a category mapping", err)
			}

			tokenCap, ok := defaults.PhaseTokenCapByComplexity[phase.Complexity]
			if !ok {
				return nil, autopackerr.Withf(autopackerr.CodeRulesetInvalid, "ruleset has no token cap for complexity", "category=%s complexity=%s", phase.TaskCategory, phase.Complexity)
			}
			if tokenCap < 0 {
				return nil, autopackerr.New(autopackerr.CodeRulesetInvalid, "token cap underflow: negative phase token cap")
			}

			escalateOnAttempt := defaults.EscalateOnAttempt
			if escalateOnAttempt <= 0 {
				escalateOnAttempt = 2
			}

			policy := CompiledPhasePolicy{
				TokenCap:           tokenCap,
				MaxBuilderAttempts: defaults.MaxBuilderAttempts,
				MaxAuditorAttempts: defaults.MaxAuditorAttempts,
				CIProfile:          defaults.CIProfile,
				RequiresCI:         defaults.CIProfile != "",
				EscalateOnAttempt:  escalateOnAttempt,
			}

			if phase.TaskCategory.IsHighRisk() {
				policy.CIProfile = runmodel.CIProfileStrict
				policy.RequiresCI = true
				if policy.MaxBuilderAttempts > 2 {
					policy.MaxBuilderAttempts = 2
				}
				if policy.MaxAuditorAttempts < 2 {
					policy.MaxAuditorAttempts = 2
				}
			}

			phasePolicies[key] = policy
			tierPhaseCaps = append(tierPhaseCaps, tokenCap)
		}
		tierCap := runmodel.ComputeTierTokenCap(tierPhaseCaps)
		phaseCapsByTier = append(phaseCapsByTier, tierCap)
	}

	runTokenCap := spec.RequestedTokenCap
	if ruleset.RunTokenCapCeiling > 0 && runTokenCap > ruleset.RunTokenCapCeiling {
		runTokenCap = ruleset.RunTokenCapCeiling
	}
	runMaxPhases := spec.RequestedMaxPhases
	if ruleset.RunMaxPhasesCeiling > 0 && (runMaxPhases == 0 || runMaxPhases > ruleset.RunMaxPhasesCeiling) {
		runMaxPhases = ruleset.RunMaxPhasesCeiling
	}
	if runTokenCap <= 0 {
		return nil, autopackerr.New(autopackerr.CodeBudgetInvalid, "run_token_cap must be positive")
	}

	overrides := ruleset.SafetyOverrides[safety]
	minorTolerance := 1.0
	agingThreshold := 5
	smallSteps := 0
	if safety == runmodel.SafetyCritical {
		minorTolerance = overrides.MinorIssueToleranceFloor
		agingThreshold = overrides.AgingThresholdRuns
		smallSteps = overrides.SmallStepsMaxPhasesPerTier
	}

	ciMaxRetries := map[runmodel.CIProfile]int{}
	for profile, spec := range ruleset.CIProfiles {
		ciMaxRetries[profile] = spec.MaxRetries
	}
	if _, ok := ciMaxRetries[runmodel.CIProfileNormal]; !ok {
		ciMaxRetries[runmodel.CIProfileNormal] = ruleset.CIMaxRetries
	}
	if _, ok := ciMaxRetries[runmodel.CIProfileStrict]; !ok {
		ciMaxRetries[runmodel.CIProfileStrict] = ruleset.CIMaxRetries
	}

	rs := &RunStrategy{
		ProjectID:     spec.ProjectID,
		SafetyProfile: safety,
		RunBudgets: runmodel.RunBudgets{
			RunTokenCap:  runTokenCap,
			RunMaxPhases: runMaxPhases,
		},
		MinorIssueTolerance:        minorTolerance,
		AgingThresholdRuns:         agingThreshold,
		SmallStepsMaxPhasesPerTier: smallSteps,
		DebtCleanupEnabled:         ruleset.DebtCleanupEnabled,
		PromotionThreshold:         ruleset.PromotionThreshold(safety),
		CIMaxRetries:               ciMaxRetries,
		PhasePolicies:              phasePolicies,
		LearnedRulesSnapshot:       append([]learnedrules.LearnedRule(nil), learned...),
	}

	hash, err := hashStrategy(rs)
	if err != nil {
		return nil, autopackerr.Wrap(autopackerr.CodeRulesetInvalid, "failed to hash compiled strategy", err)
	}
	rs.Hash = hash

	_ = dryRun // dry-run only affects whether the caller persists the result
	return rs, nil
}

// hashStrategy computes a stable content hash over the RunStrategy by
// marshaling a canonical (sorted-key) view of it. Go's encoding/json
// already sorts map keys on marshal, so this is a plain round trip rather
// than a handwritten canonicalizer.
func hashStrategy(rs *RunStrategy) (string, error) {
	snapshot := *rs
	snapshot.Hash = ""
	sorted := append([]learnedrules.LearnedRule(nil), snapshot.LearnedRulesSnapshot...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })
	snapshot.LearnedRulesSnapshot = sorted

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal strategy: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// PolicyFor returns the compiled policy for a Phase's (category, complexity).
func (rs *RunStrategy) PolicyFor(cat runmodel.TaskCategory, complexity runmodel.Complexity) (CompiledPhasePolicy, bool) {
	p, ok := rs.PhasePolicies[policyKey(cat, complexity)]
	return p, ok
}
