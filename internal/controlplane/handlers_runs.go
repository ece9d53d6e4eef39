package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/autopack-dev/autopack/internal/strategy"
)

// handleStartRun handles POST /runs/start (spec §6.2). The body is schema
// validated by strategy.Compile itself; unknown fields are rejected here
// the way the teacher's handlers reject malformed JSON up front.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var spec strategy.RunSpec
	if err := dec.Decode(&spec); err != nil {
		JSONError(w, "invalid run spec: "+err.Error(), http.StatusBadRequest)
		return
	}

	runID, err := s.supervisor.StartRun(spec)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSONResponseStatus(w, map[string]string{"run_id": runID}, http.StatusAccepted)
}

// handleGetRun handles GET /runs/{run_id}: the full state view (spec §6.2).
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	view, err := s.supervisor.GetRun(runID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, view)
}

// handleCancelRun handles POST /runs/{run_id}/cancel. Cancellation is
// described as an external capability in spec §4/§8 ("a Run may be
// cancelled externally") even though it is not enumerated in §6.2's
// closed operation list; Supervisor.Cancel already implements it, so it
// is exposed here rather than left unreachable from outside the process.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := s.supervisor.Cancel(runID); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"run_id": runID, "status": "cancelling"})
}

// handleGetIntegrationStatus handles GET /runs/{run_id}/integration_status.
func (s *Server) handleGetIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	status, err := s.supervisor.GetIntegrationStatus(runID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, status)
}
