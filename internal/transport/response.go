// Package transport contains the HTTP router, middleware chain, and the
// exercise handlers.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/drill/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:       http.StatusBadRequest,
	model.ErrUnauthorized:     http.StatusUnauthorized,
	model.ErrNotFound:         http.StatusNotFound,
	model.ErrValidationError:  http.StatusUnprocessableEntity,
	model.ErrSnapshotMismatch: http.StatusUnprocessableEntity,
	model.ErrPolicyViolation:  http.StatusUnprocessableEntity,
	model.ErrQuotaExceeded:    http.StatusUnprocessableEntity,
	model.ErrOutcomeNotFound:  http.StatusUnprocessableEntity,
	model.ErrTerminalState:    http.StatusUnprocessableEntity,
	model.ErrTimeExpired:      http.StatusConflict,
	model.ErrStorageFault:     http.StatusInternalServerError,
	model.ErrInternalError:    http.StatusInternalServerError,
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}

// StatusFor returns the HTTP status code for an error code. Unknown codes
// map to 500.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewBadRequestError(msg))
}
