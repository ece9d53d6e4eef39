package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/autopack-dev/autopack/internal/contracts"
	"github.com/autopack-dev/autopack/internal/runmodel"
)

// updateStatusBody is POST .../update_status's request body.
type updateStatusBody struct {
	State    runmodel.PhaseState `json:"state,omitempty"`
	Evidence string              `json:"evidence,omitempty"`
}

// handleUpdatePhaseStatus handles POST
// /runs/{run_id}/phases/{phase_id}/update_status (spec §6.2).
func (s *Server) handleUpdatePhaseStatus(w http.ResponseWriter, r *http.Request) {
	runID, phaseID := r.PathValue("run_id"), r.PathValue("phase_id")

	var body updateStatusBody
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			JSONError(w, "invalid update_status body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	ack, err := s.supervisor.UpdatePhaseStatus(runID, phaseID, body.State, body.Evidence)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, ack)
}

// handleSubmitBuilderResult handles POST
// /runs/{run_id}/phases/{phase_id}/builder_result (spec §6.1, §6.2).
func (s *Server) handleSubmitBuilderResult(w http.ResponseWriter, r *http.Request) {
	runID, phaseID := r.PathValue("run_id"), r.PathValue("phase_id")

	var result contracts.BuilderResult
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		JSONError(w, "invalid builder result: "+err.Error(), http.StatusBadRequest)
		return
	}
	result.RunID, result.PhaseID = runID, phaseID

	ack, err := s.supervisor.SubmitBuilderResult(runID, result)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, ack)
}

// handleAuditorRequest handles POST
// /runs/{run_id}/phases/{phase_id}/auditor_request (spec §6.2): a pure
// read assembling the context the external Auditor client needs, posted
// rather than GET-routed per the closed operation list.
func (s *Server) handleAuditorRequest(w http.ResponseWriter, r *http.Request) {
	runID, phaseID := r.PathValue("run_id"), r.PathValue("phase_id")

	req, err := s.supervisor.RequestAuditorReview(runID, phaseID)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, req)
}

// handleSubmitAuditorResult handles POST
// /runs/{run_id}/phases/{phase_id}/auditor_result (spec §6.1, §6.2).
func (s *Server) handleSubmitAuditorResult(w http.ResponseWriter, r *http.Request) {
	runID, phaseID := r.PathValue("run_id"), r.PathValue("phase_id")

	var result contracts.AuditorResult
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		JSONError(w, "invalid auditor result: "+err.Error(), http.StatusBadRequest)
		return
	}
	result.RunID, result.PhaseID = runID, phaseID

	ack, err := s.supervisor.SubmitAuditorResult(runID, result)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, ack)
}
