package httpapi

import (
	"net/http"
	"time"
)

// handleHealth implements GET /api/health: a bare liveness probe, no
// dependency checks — matching go-server's handleHealth but trimmed to
// what spec.md §6 actually asks for.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}
