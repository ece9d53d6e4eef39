package controlplane

import (
	"net/http"
	"sort"

	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/autopack-dev/autopack/internal/filelayout"
	"github.com/autopack-dev/autopack/internal/runmodel"
	"github.com/autopack-dev/autopack/internal/supervisor"
)

// runMetricsView is the per-run shape from spec §6.4: "state,
// tokens_used/run_token_cap, phases_used, ci_runs, issue_counts_by_severity".
type runMetricsView struct {
	RunID                 string                     `json:"run_id"`
	State                 runmodel.RunState          `json:"state"`
	TokensUsed            int64                      `json:"tokens_used"`
	RunTokenCap           int64                      `json:"run_token_cap"`
	PhasesUsed            int                        `json:"phases_used"`
	CIRuns                int                        `json:"ci_runs"`
	IssueCountsBySeverity map[contracts.Severity]int `json:"issue_counts_by_severity"`
}

// handleRunMetrics handles GET /metrics/runs (spec §6.4 per-run shape).
func (s *Server) handleRunMetrics(w http.ResponseWriter, r *http.Request) {
	views := s.supervisor.ListRuns()

	out := make([]runMetricsView, 0, len(views))
	for _, v := range views {
		out = append(out, runMetricsView{
			RunID:                 v.Run.RunID,
			State:                 v.Run.State,
			TokensUsed:            v.Run.TokensUsed,
			RunTokenCap:           v.Run.BudgetsSnapshot.RunTokenCap,
			PhasesUsed:            v.Run.PhasesUsed,
			CIRuns:                countCIRuns(v),
			IssueCountsBySeverity: issueCountsBySeverity(v),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })

	JSONResponse(w, out)
}

// tierMetricsView is the per-tier shape from spec §6.4: "state,
// phase_state_histogram, budget_utilization".
type tierMetricsView struct {
	TierID              string                      `json:"tier_id"`
	Name                string                      `json:"name"`
	State               runmodel.TierState          `json:"state"`
	PhaseStateHistogram map[runmodel.PhaseState]int `json:"phase_state_histogram"`
	BudgetUtilization   float64                     `json:"budget_utilization"`
}

// handleTierMetrics handles GET /metrics/tiers/{run_id} (spec §6.4 per-tier
// shape).
func (s *Server) handleTierMetrics(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	view, err := s.supervisor.GetRun(runID)
	if err != nil {
		HandleError(w, err)
		return
	}

	out := make([]tierMetricsView, 0, len(view.Tiers))
	for _, tv := range view.Tiers {
		histogram := map[runmodel.PhaseState]int{}
		var tokensUsed int64
		for _, pv := range tv.Phases {
			histogram[pv.Phase.State]++
			tokensUsed += pv.Phase.TokensUsed
		}

		var utilization float64
		if cap := tv.Tier.TierBudgets.TierTokenCap; cap > 0 {
			utilization = float64(tokensUsed) / float64(cap)
		}

		out = append(out, tierMetricsView{
			TierID:              tv.Tier.TierID,
			Name:                tv.Tier.Name,
			State:               tv.Tier.State,
			PhaseStateHistogram: histogram,
			BudgetUtilization:   utilization,
		})
	}

	JSONResponse(w, out)
}

// backlogReport is GET /project/{project_id}/issues/backlog's response body
// (spec §6.2, §6.4 "per-project: backlog summary, top aging issue_keys").
type backlogReport struct {
	Entries      []backlogEntryView `json:"entries"`
	TopAgingKeys []string           `json:"top_aging_issue_keys"`
}

type backlogEntryView struct {
	IssueKey                  string   `json:"issue_key"`
	OccurrenceCountAcrossRuns int      `json:"occurrence_count_across_runs"`
	RunsSeen                  []string `json:"runs_seen"`
	AgeInRuns                 int      `json:"age_in_runs"`
	NeedsCleanup              bool     `json:"needs_cleanup"`
}

// handleProjectBacklog handles GET /project/{project_id}/issues/backlog
// (spec §6.2).
func (s *Server) handleProjectBacklog(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	backlog := s.issues.GetProjectBacklog(projectID)

	entries := make([]backlogEntryView, 0, len(backlog))
	for _, entry := range backlog {
		entries = append(entries, backlogEntryView{
			IssueKey:                  entry.IssueKey,
			OccurrenceCountAcrossRuns: entry.OccurrenceCountAcrossRuns,
			RunsSeen:                  entry.RunsSeen,
			AgeInRuns:                 entry.AgeInRuns,
			NeedsCleanup:              entry.NeedsCleanup,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AgeInRuns > entries[j].AgeInRuns
	})

	topN := entries
	if len(topN) > 10 {
		topN = topN[:10]
	}
	topKeys := make([]string, 0, len(topN))
	for _, e := range topN {
		topKeys = append(topKeys, e.IssueKey)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].IssueKey < entries[j].IssueKey })

	JSONResponse(w, backlogReport{Entries: entries, TopAgingKeys: topKeys})
}

// handleRunSummaryReport handles GET /reports/run_summary/{run_id}: the
// authoritative human-readable record (spec §6.3, §7). The body is read from
// run_summary.json on disk rather than from the in-memory Run view, but the
// run must still be known to the Supervisor's in-memory run table, which
// supplies its project_id; an unknown run_id returns an error.
func (s *Server) handleRunSummaryReport(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	view, err := s.supervisor.GetRun(runID)
	if err != nil {
		HandleError(w, err)
		return
	}

	layout := filelayout.New(s.runsDir, view.Run.ProjectID, runID)
	var summary map[string]any
	if err := filelayout.ReadJSON(layout.RunSummaryPath(), &summary); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, summary)
}

// countCIRuns approximates the number of CI evaluations a Run has gone
// through as the number of Phases whose policy required CI at all (spec
// §6.4 "shape only" — an exact ledger of CIGate invocations is not
// currently tracked on Phase).
func countCIRuns(v supervisor.RunView) int {
	n := 0
	for _, tv := range v.Tiers {
		for _, pv := range tv.Phases {
			if pv.Phase.RequiresCI {
				n++
			}
		}
	}
	return n
}

func issueCountsBySeverity(v supervisor.RunView) map[contracts.Severity]int {
	counts := map[contracts.Severity]int{}
	for _, tv := range v.Tiers {
		for _, pv := range tv.Phases {
			for _, issue := range pv.Phase.Issues {
				counts[issue.Severity]++
			}
		}
	}
	return counts
}
