package supervisor

import "github.com/autopack-dev/autopack/internal/autopackerr"

func unknownPhaseErr(runID, phaseID string) error {
	return autopackerr.Withf(autopackerr.CodeUnknownPhase, "phase not found on run", "run=%s phase=%s", runID, phaseID)
}

func unknownRunErr(runID string) error {
	return autopackerr.Withf(autopackerr.CodeRunNotFound, "run not found", "run=%s", runID)
}

func invalidTransitionErr(why string) error {
	return autopackerr.New(autopackerr.CodeInvalidTransition, why)
}

func autopackTerminatedErr(runID string) error {
	return autopackerr.Withf(autopackerr.CodeInvalidTransition, "run has already terminated", "run=%s", runID)
}
