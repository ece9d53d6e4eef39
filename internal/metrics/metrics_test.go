package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getGaugeVecValue(gv *prometheus.GaugeVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := gv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	observer := hv.WithLabelValues(labels...)
	if c, ok := observer.(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestNewRegistryRegistersAllMetricsWithoutPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("NewRegistry panicked: %v", r)
		}
	}()
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRecordRunTerminated(t *testing.T) {
	RecordRunTerminated("done_success", "")
	val := getCounterValue(RunsTerminatedTotal, "done_success", "")
	if val < 1 {
		t.Errorf("RunsTerminatedTotal = %f, want >= 1", val)
	}

	RecordRunTerminated("done_failed_policy", "policy")
	val = getCounterValue(RunsTerminatedTotal, "done_failed_policy", "policy")
	if val < 1 {
		t.Errorf("RunsTerminatedTotal(policy) = %f, want >= 1", val)
	}
}

func TestRecordPhaseAttempt(t *testing.T) {
	RecordPhaseAttempt("feature_impl", 12000, 45)

	tokenCount := getHistogramCount(PhaseTokensUsed, "feature_impl")
	if tokenCount < 1 {
		t.Errorf("PhaseTokensUsed sample count = %d, want >= 1", tokenCount)
	}
	durationCount := getHistogramCount(PhaseDurationSeconds, "feature_impl")
	if durationCount < 1 {
		t.Errorf("PhaseDurationSeconds sample count = %d, want >= 1", durationCount)
	}
}

func TestRecordBudgetUtilization(t *testing.T) {
	RecordBudgetUtilization("run", "run-1", 0.42)
	val := getGaugeVecValue(BudgetUtilization, "run", "run-1")
	if val != 0.42 {
		t.Errorf("BudgetUtilization = %f, want 0.42", val)
	}

	RecordBudgetUtilization("run", "run-1", 0.9)
	val = getGaugeVecValue(BudgetUtilization, "run", "run-1")
	if val != 0.9 {
		t.Errorf("BudgetUtilization after update = %f, want 0.9", val)
	}
}

func TestRecordCIGateRetry(t *testing.T) {
	RecordCIGateRetry("flaky")
	RecordCIGateRetry("flaky")

	val := getCounterValue(CIGateRetriesTotal, "flaky")
	if val < 2 {
		t.Errorf("CIGateRetriesTotal = %f, want >= 2", val)
	}
}

func TestRecordPatchApplyEscalation(t *testing.T) {
	RecordPatchApplyEscalation("three_way")
	val := getCounterValue(PatchApplyEscalationsTotal, "three_way")
	if val < 1 {
		t.Errorf("PatchApplyEscalationsTotal = %f, want >= 1", val)
	}
}

func TestActiveRunsGauge(t *testing.T) {
	ActiveRuns.Set(0)
	ActiveRuns.Inc()
	ActiveRuns.Inc()

	val := getGaugeValue(ActiveRuns)
	if val != 2 {
		t.Errorf("ActiveRuns = %f, want 2", val)
	}

	ActiveRuns.Dec()
	val = getGaugeValue(ActiveRuns)
	if val != 1 {
		t.Errorf("ActiveRuns after Dec = %f, want 1", val)
	}
}

func TestRecordIssueRecorded(t *testing.T) {
	RecordIssueRecorded("ci", "major")
	val := getCounterValue(IssuesRecordedTotal, "ci", "major")
	if val < 1 {
		t.Errorf("IssuesRecordedTotal = %f, want >= 1", val)
	}
}
