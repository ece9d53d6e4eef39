package runmodel

// TierState is a Tier's lifecycle state (spec §3.1).
type TierState string

const (
	TierPending    TierState = "PENDING"
	TierInProgress TierState = "IN_PROGRESS"
	TierComplete   TierState = "COMPLETE"
	TierFailed     TierState = "FAILED"
	TierSkipped    TierState = "SKIPPED"
)

// IsValidTierState reports whether s is a recognized TierState.
func IsValidTierState(s TierState) bool {
	switch s {
	case TierPending, TierInProgress, TierComplete, TierFailed, TierSkipped:
		return true
	default:
		return false
	}
}

// TierBudgets is the per-tier cap, computed as 3x the sum of its phase caps
// (spec §4.2).
type TierBudgets struct {
	TierTokenCap int64 `json:"tier_token_cap"`
}

// Tier is an ordered grouping of Phases sharing a theme (spec §3.1).
type Tier struct {
	TierID          string      `json:"tier_id"`
	RunID           string      `json:"run_id"`
	Index           int         `json:"index"`
	Name            string      `json:"name"`
	State           TierState   `json:"state"`
	PhaseIDsInOrder []string    `json:"phase_ids_in_order"`
	TierBudgets     TierBudgets `json:"tier_budgets"`
}

// ComputeTierTokenCap implements the "tier cap = 3 x sum(phase caps)" rule
// from spec §4.2.
func ComputeTierTokenCap(phaseCaps []int64) int64 {
	var sum int64
	for _, c := range phaseCaps {
		sum += c
	}
	return sum * 3
}
