package strategy

import (
	"testing"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/config"
	"github.com/autopack-dev/autopack/internal/learnedrules"
	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docsRuleset() *config.ProjectRuleset {
	return &config.ProjectRuleset{
		ProjectID:           "alpha",
		RunTokenCapCeiling:  1_000_000,
		RunMaxPhasesCeiling: 10,
		Defaults: map[runmodel.TaskCategory]map[runmodel.SafetyProfile]config.CategoryDefaults{
			runmodel.CategoryDocsCreation: {
				runmodel.SafetyNormal: {
					PhaseTokenCapByComplexity: config.ComplexityTokenCaps{runmodel.ComplexityLow: 200000},
					MaxBuilderAttempts:        2,
					MaxAuditorAttempts:        2,
					CIProfile:                 runmodel.CIProfileNormal,
				},
			},
			runmodel.CategorySchemaContractChange: {
				runmodel.SafetyNormal: {
					PhaseTokenCapByComplexity: config.ComplexityTokenCaps{runmodel.ComplexityMedium: 500000},
					MaxBuilderAttempts:        5,
					MaxAuditorAttempts:        1,
					CIProfile:                 runmodel.CIProfileNormal,
				},
			},
		},
		SafetyOverrides: map[runmodel.SafetyProfile]config.SafetyProfileOverrides{
			runmodel.SafetyCritical: {MinorIssueToleranceFloor: 0, AgingThresholdRuns: 2, SmallStepsMaxPhasesPerTier: 3},
		},
	}
}

func docsSpec() RunSpec {
	return RunSpec{
		ProjectID:          "alpha",
		SafetyProfile:      runmodel.SafetyNormal,
		RequestedTokenCap:  200000,
		RequestedMaxPhases: 1,
		Tiers: []TierSpec{
			{Name: "foundation", Phases: []PhaseSpec{
				{Name: "readme", TaskCategory: runmodel.CategoryDocsCreation, Complexity: runmodel.ComplexityLow, ScopePaths: []string{"docs/**"}},
			}},
		},
	}
}

func TestCompileHappyPath(t *testing.T) {
	rs, err := Compile(docsRuleset(), nil, docsSpec(), false)
	require.NoError(t, err)

	policy, ok := rs.PolicyFor(runmodel.CategoryDocsCreation, runmodel.ComplexityLow)
	require.True(t, ok)
	assert.Equal(t, int64(200000), policy.TokenCap)
	assert.Equal(t, 2, policy.MaxBuilderAttempts)
	assert.NotEmpty(t, rs.Hash)
}

func TestCompileIsDeterministic(t *testing.T) {
	rs1, err := Compile(docsRuleset(), nil, docsSpec(), false)
	require.NoError(t, err)
	rs2, err := Compile(docsRuleset(), nil, docsSpec(), false)
	require.NoError(t, err)

	assert.Equal(t, rs1.Hash, rs2.Hash)
}

func TestCompileHighRiskCategoryForcesStrictPolicy(t *testing.T) {
	spec := docsSpec()
	spec.Tiers[0].Phases[0] = PhaseSpec{
		Name: "contract", TaskCategory: runmodel.CategorySchemaContractChange, Complexity: runmodel.ComplexityMedium, ScopePaths: []string{"api/**"},
	}
	spec.RequestedTokenCap = 500000

	rs, err := Compile(docsRuleset(), nil, spec, false)
	require.NoError(t, err)

	policy, ok := rs.PolicyFor(runmodel.CategorySchemaContractChange, runmodel.ComplexityMedium)
	require.True(t, ok)
	assert.Equal(t, runmodel.CIProfileStrict, policy.CIProfile)
	assert.LessOrEqual(t, policy.MaxBuilderAttempts, 2)
	assert.GreaterOrEqual(t, policy.MaxAuditorAttempts, 2)
}

func TestCompileMissingCategoryMappingRejected(t *testing.T) {
	spec := docsSpec()
	spec.Tiers[0].Phases[0].TaskCategory = runmodel.CategorySecurityHardening

	_, err := Compile(docsRuleset(), nil, spec, false)
	require.Error(t, err)

	var apErr *autopackerr.Error
	require.ErrorAs(t, err, &apErr)
	assert.Equal(t, autopackerr.CodeCategoryUnknown, apErr.Code)
	assert.Contains(t, err.Error(), "security_hardening")
}

func TestCompileRunTokenCapClampedToCeiling(t *testing.T) {
	spec := docsSpec()
	spec.RequestedTokenCap = 5_000_000

	rs, err := Compile(docsRuleset(), nil, spec, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), rs.RunBudgets.RunTokenCap)
}

func TestCompileZeroTokenCapRejected(t *testing.T) {
	spec := docsSpec()
	spec.RequestedTokenCap = 0

	ruleset := docsRuleset()
	ruleset.RunTokenCapCeiling = 0

	_, err := Compile(ruleset, nil, spec, false)
	require.Error(t, err)
	var apErr *autopackerr.Error
	require.ErrorAs(t, err, &apErr)
	assert.Equal(t, autopackerr.CodeBudgetInvalid, apErr.Code)
}

func TestCompileSafetyCriticalTightensTolerance(t *testing.T) {
	spec := docsSpec()
	spec.SafetyProfile = runmodel.SafetyCritical

	rs, err := Compile(docsRuleset(), nil, spec, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rs.MinorIssueTolerance)
	assert.Equal(t, 2, rs.AgingThresholdRuns)
	assert.Equal(t, 3, rs.SmallStepsMaxPhasesPerTier)
}

func TestCompileSnapshotsLearnedRulesImmutably(t *testing.T) {
	learned := []learnedrules.LearnedRule{{RuleID: "rule-1", TaskCategory: runmodel.CategoryDocsCreation}}
	rs, err := Compile(docsRuleset(), learned, docsSpec(), false)
	require.NoError(t, err)

	learned[0].Status = learnedrules.RuleDeprecated
	assert.NotEqual(t, learnedrules.RuleDeprecated, rs.LearnedRulesSnapshot[0].Status)
}
