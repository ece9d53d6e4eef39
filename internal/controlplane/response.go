package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/autopack-dev/autopack/internal/autopackerr"
)

// APIError is the standard error response body.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with a specific status code.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a plain error response at the given status.
func JSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message})
}

// HandleError inspects err and writes the response its autopackerr.Category
// implies, falling back to 500 for anything else.
func HandleError(w http.ResponseWriter, err error) {
	var apErr *autopackerr.Error
	if errors.As(err, &apErr) {
		JSONResponseStatus(w, APIError{Error: apErr.What, Code: string(apErr.Code)}, apErr.HTTPStatus())
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}
