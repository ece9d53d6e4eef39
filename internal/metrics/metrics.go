// Package metrics defines Prometheus metrics for the Autopack supervisor.
//
// Metric naming follows Prometheus conventions:
//   - autopack_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
//
// Grounded on marcus-qen-legator's internal/metrics package (the only pack
// repo with a real metrics stack), adapted from a controller-runtime
// registry to a plain prometheus.Registry since Autopack has no
// controller-runtime dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunsTerminatedTotal counts Runs reaching a terminal status, by
	// terminal status and failure sink (policy, infra, budget, ci, or empty
	// for success).
	RunsTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopack_runs_terminated_total",
			Help: "Total Runs reaching a terminal status, labeled by status and failure sink.",
		},
		[]string{"status", "failure_sink"},
	)

	// PhaseTokensUsed is a histogram of tokens consumed per Phase attempt.
	PhaseTokensUsed = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopack_phase_tokens_used",
			Help:    "Tokens consumed per Phase attempt.",
			Buckets: []float64{1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000},
		},
		[]string{"task_category"},
	)

	// PhaseDurationSeconds is a histogram of wall-clock duration per Phase attempt.
	PhaseDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopack_phase_duration_seconds",
			Help:    "Wall-clock duration of Phase attempts in seconds.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"task_category"},
	)

	// BudgetUtilization is the fraction (0-1) of a scope's token cap consumed,
	// set through RecordBudgetUtilization; budget.Charge does not update it.
	BudgetUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autopack_budget_utilization_ratio",
			Help: "Fraction of token cap consumed, by budget scope kind and scope id.",
		},
		[]string{"scope_kind", "scope_id"},
	)

	// CIGateRetriesTotal counts CIGate retries by verdict that triggered them.
	CIGateRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopack_ci_gate_retries_total",
			Help: "Total CIGate retries, labeled by the verdict that triggered the retry.",
		},
		[]string{"verdict"},
	)

	// PatchApplyEscalationsTotal counts GitAdapter escalations to a rung
	// past plain application.
	PatchApplyEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopack_patch_apply_escalations_total",
			Help: "Total patch-apply attempts that escalated beyond plain mode, by mode reached.",
		},
		[]string{"mode"},
	)

	// ActiveRuns is the number of Run workers currently executing.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autopack_active_runs",
			Help: "Number of Run workers currently executing.",
		},
	)

	// IssuesRecordedTotal counts issues recorded against a Run, by source
	// and severity.
	IssuesRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopack_issues_recorded_total",
			Help: "Total issues recorded, labeled by source and severity.",
		},
		[]string{"source", "severity"},
	)
)

// NewRegistry builds a prometheus.Registry with every Autopack metric
// registered, suitable for mounting at GET /metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		RunsTerminatedTotal,
		PhaseTokensUsed,
		PhaseDurationSeconds,
		BudgetUtilization,
		CIGateRetriesTotal,
		PatchApplyEscalationsTotal,
		ActiveRuns,
		IssuesRecordedTotal,
	)
	return reg
}

// RecordRunTerminated records a Run reaching a terminal status.
func RecordRunTerminated(status, failureSink string) {
	RunsTerminatedTotal.WithLabelValues(status, failureSink).Inc()
}

// RecordPhaseAttempt records token and duration usage for a completed Phase attempt.
func RecordPhaseAttempt(taskCategory string, tokens float64, durationSeconds float64) {
	PhaseTokensUsed.WithLabelValues(taskCategory).Observe(tokens)
	PhaseDurationSeconds.WithLabelValues(taskCategory).Observe(durationSeconds)
}

// RecordBudgetUtilization sets the current utilization ratio for a budget scope.
func RecordBudgetUtilization(scopeKind, scopeID string, ratio float64) {
	BudgetUtilization.WithLabelValues(scopeKind, scopeID).Set(ratio)
}

// RecordCIGateRetry records a single CIGate retry triggered by verdict.
func RecordCIGateRetry(verdict string) {
	CIGateRetriesTotal.WithLabelValues(verdict).Inc()
}

// RecordPatchApplyEscalation records a patch apply that escalated to mode.
func RecordPatchApplyEscalation(mode string) {
	PatchApplyEscalationsTotal.WithLabelValues(mode).Inc()
}

// RecordIssueRecorded records a single issue recorded against a Run.
func RecordIssueRecorded(source, severity string) {
	IssuesRecordedTotal.WithLabelValues(source, severity).Inc()
}
