package handlers

import (
	"net/http"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Session SessionValidator
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload := map[string]string{
		"status": "ok",
	}
	if h.Session != nil {
		payload["session"] = string(h.Session.State())
	}

	respondJSON(r.Context(), w, http.StatusOK, payload)
}
