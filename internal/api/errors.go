package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/laurel-core/internal/mesh"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeForbidden       = "forbidden"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeNotConnected    = "mesh_not_connected"
	ErrCodeMeshUnreachable = "mesh_unreachable"
	ErrCodeTransport       = "transport_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 422 error response.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeMeshError maps a mesh or transport failure to a response.
//
//	ErrNotConnected    → 503 mesh_not_connected
//	ErrMeshUnreachable → 503 mesh_unreachable
//	anything else      → 502 transport_error
func writeMeshError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mesh.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, err.Error())
	case errors.Is(err, mesh.ErrMeshUnreachable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeMeshUnreachable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
	}
}
