package supervisor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/autopack-dev/autopack/internal/strategy"
)

// buildRun materializes the Run/Tier/Phase tree a compiled RunStrategy
// implies for spec, the way randalmurphal-orc's createPlanForWeight turns a
// task's declared weight into a concrete ordered phase list.
func buildRun(runID string, spec strategy.RunSpec, rs *strategy.RunStrategy) (*runmodel.Run, []*runmodel.Tier, map[string]*runmodel.Phase, error) {
	run := &runmodel.Run{
		RunID:               runID,
		ProjectID:           spec.ProjectID,
		StackProfile:        spec.StackProfile,
		SafetyProfile:       spec.SafetyProfile,
		State:               runmodel.StatePlanBootstrap,
		CreatedAt:           time.Now(),
		BudgetsSnapshot:     rs.RunBudgets,
		IntegrationBranch:   runmodel.IntegrationBranchName(runID),
		CompiledStrategyRef: rs.Hash,
	}

	tiers := make([]*runmodel.Tier, 0, len(spec.Tiers))
	phases := map[string]*runmodel.Phase{}

	for tierIdx, tierSpec := range spec.Tiers {
		tierID := fmt.Sprintf("%s-tier-%02d", runID, tierIdx)
		tier := &runmodel.Tier{
			TierID: tierID,
			RunID:  runID,
			Index:  tierIdx,
			Name:   tierSpec.Name,
			State:  runmodel.TierPending,
		}

		var tierPhaseCaps []int64
		for phaseIdx, phaseSpec := range tierSpec.Phases {
			policy, ok := rs.PolicyFor(phaseSpec.TaskCategory, phaseSpec.Complexity)
			if !ok {
				return nil, nil, nil, fmt.Errorf("no compiled policy for category=%s complexity=%s", phaseSpec.TaskCategory, phaseSpec.Complexity)
			}

			phaseID := fmt.Sprintf("%s-phase-%s", tierID, uuid.New().String()[:8])
			phase := &runmodel.Phase{
				PhaseID:      phaseID,
				TierID:       tierID,
				Index:        phaseIdx,
				Name:         phaseSpec.Name,
				TaskCategory: phaseSpec.TaskCategory,
				Complexity:   phaseSpec.Complexity,
				BuilderMode:  phaseSpec.BuilderMode,
				ScopePaths:   phaseSpec.ScopePaths,
				PhaseBudgets: runmodel.PhaseBudgets{
					TokenCap:           policy.TokenCap,
					MaxBuilderAttempts: policy.MaxBuilderAttempts,
					MaxAuditorAttempts: policy.MaxAuditorAttempts,
				},
				State:      runmodel.PhaseQueued,
				RequiresCI: policy.RequiresCI,
			}
			phases[phaseID] = phase
			tier.PhaseIDsInOrder = append(tier.PhaseIDsInOrder, phaseID)
			tierPhaseCaps = append(tierPhaseCaps, policy.TokenCap)
		}

		tier.TierBudgets = runmodel.TierBudgets{TierTokenCap: runmodel.ComputeTierTokenCap(tierPhaseCaps)}
		tiers = append(tiers, tier)
		run.TierIDsInOrder = append(run.TierIDsInOrder, tierID)
	}

	return run, tiers, phases, nil
}

// newRunID mints a run identifier ending in the trailing timestamp segment
// filelayout.Family strips back off to recover the run family.
func newRunID(projectID string) string {
	return fmt.Sprintf("%s-%s-%s", projectID, uuid.New().String()[:8], time.Now().UTC().Format("20060102T150405Z"))
}
