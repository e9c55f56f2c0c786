package handlers

import (
	"net/http"
	"strconv"

	"github.com/vidfriends/scout/internal/models"
)

const maxRecentLimit = 100

// HistoryHandler lists completed searches.
type HistoryHandler struct {
	Session SessionValidator
	Store   RecentSearches
}

// Recent handles GET /api/v1/history/recent.
func (h HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRecentLimit {
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 100", "field": "limit"})
			return
		}
		limit = parsed
	}

	session, err := h.Session.Ensure(ctx)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	entries, err := h.Store.Recent(ctx, session.UserID, limit)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"searches": entries})
}
