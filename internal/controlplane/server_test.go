package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autopack-dev/autopack/internal/autopackerr"
	"github.com/autopack-dev/autopack/internal/config"
	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/autopack-dev/autopack/internal/issuetracker"
	"github.com/autopack-dev/autopack/internal/supervisor"
)

// noRulesets always reports an unknown project, so StartRun fails fast
// instead of reaching for a git checkout or CI runner those tests never set up.
type noRulesets struct{}

func (noRulesets) Ruleset(projectID string) (*config.ProjectRuleset, error) {
	return nil, autopackerr.New(autopackerr.CodeRulesetMissing, "no ruleset configured for project "+projectID)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Config{
		Addr:    ":0",
		RunsDir: t.TempDir(),
		Supervisor: supervisor.New(&supervisor.Deps{
			RunsDir:  t.TempDir(),
			Rulesets: noRulesets{},
		}),
		Issues: issuetracker.New(),
	})
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %q", body["status"])
	}
}

func TestCORSHeadersSetOnEveryRoutedResponse(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS origin, got %q", got)
	}
}

func TestCORSPreflightShortCircuitsToOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/runs/start", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for OPTIONS preflight, got %d", w.Code)
	}
}

func TestGetRunUnknownRunReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run_id, got %d", w.Code)
	}
}

func TestStartRunRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"project_id": "proj-1", "bogus_field": true}`)
	req := httptest.NewRequest(http.MethodPost, "/runs/start", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown field, got %d", w.Code)
	}
}

func TestStartRunUnknownProjectSurfacesAsError(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"project_id": "proj-1", "safety_profile": "standard", "tiers": [], "requested_token_cap": 1000}`)
	req := httptest.NewRequest(http.MethodPost, "/runs/start", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code < 400 {
		t.Fatalf("expected an error status for a project with no ruleset, got %d", w.Code)
	}
}

func TestProjectBacklogReportsEntriesSortedByIssueKeyAndTopAging(t *testing.T) {
	tracker := issuetracker.New()
	s := New(Config{
		Addr:       ":0",
		Supervisor: supervisor.New(&supervisor.Deps{RunsDir: t.TempDir()}),
		Issues:     tracker,
	})

	tracker.RegisterPhase("run-1", "proj-1", "phase-1", []string{"src/**"})
	tracker.RecordIssue("run-1", "phase-1", contracts.Issue{IssueKey: "k1", Severity: contracts.SeverityMajor})
	tracker.OnRunComplete("run-1", 1)

	req := httptest.NewRequest(http.MethodGet, "/project/proj-1/issues/backlog", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var report backlogReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Entries) != 1 || report.Entries[0].IssueKey != "k1" {
		t.Fatalf("expected one entry for k1, got %+v", report.Entries)
	}
	if len(report.TopAgingKeys) != 1 || report.TopAgingKeys[0] != "k1" {
		t.Fatalf("expected top_aging_issue_keys=[k1], got %v", report.TopAgingKeys)
	}
}

func TestRunMetricsReturnsEmptyListForNoRuns(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics/runs", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var out []runMetricsView
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no runs, got %d", len(out))
	}
}

func TestRunSummaryReportUnknownRunReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/reports/run_summary/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run_id, got %d", w.Code)
	}
}
