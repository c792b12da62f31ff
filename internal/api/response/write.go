package response

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/storage"
)

// JSON writes a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// NoContent writes a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteStatus picks the status for a write: ok when the remote has it,
// 202 Accepted when it only reached the local queue
func WriteStatus(outcome storage.WriteOutcome, ok int) int {
	if outcome.Kind == storage.OutcomeQueued {
		return http.StatusAccepted
	}
	return ok
}
