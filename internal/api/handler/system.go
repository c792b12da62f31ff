package handler

import (
	"net/http"

	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/api/sse"
)

// Events handles GET /api/v1/events
func Events(hub *sse.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sse.ServeSSE(w, r, hub)
	}
}

// Health handles GET /api/v1/health
func Health(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
