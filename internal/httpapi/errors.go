package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/artifact"
	"inferd/internal/backend"
	"inferd/internal/manager"
	"inferd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps domain errors onto HTTP status codes: unknown models
// are 404, backpressure 429, missing runtimes 503, download/load faults 502.
func statusForError(err error) int {
	switch {
	case manager.IsUnknownModel(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		IncrementBackpressure("queue")
		return http.StatusTooManyRequests
	case backend.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case artifact.IsCorrupted(err), artifact.IsTransient(err),
		manager.IsArtifactMissing(err), manager.IsBackendFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps err and writes the JSON payload.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusForError(err), err.Error())
}
