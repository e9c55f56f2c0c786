package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/search"
)

// SearchHandler runs profile searches.
type SearchHandler struct {
	Searches Searcher
}

type singleSearchRequest struct {
	ID              string `json:"id"`
	Target          string `json:"target"`
	VideosPerTarget int    `json:"videosPerTarget"`
	SinceDate       string `json:"sinceDate"`
}

type bulkSearchRequest struct {
	ID              string   `json:"id"`
	Targets         []string `json:"targets"`
	VideosPerTarget int      `json:"videosPerTarget"`
	SinceDate       string   `json:"sinceDate"`
}

// Single handles POST /api/v1/searches.
func (h SearchHandler) Single(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req singleSearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid search payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	since, ok := parseSince(req.SinceDate)
	if !ok {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "sinceDate must be formatted as YYYY-MM-DD", "field": "sinceDate"})
		return
	}

	outcome, err := h.Searches.Single(ctx, models.SearchRequest{
		ID:              req.ID,
		Targets:         []string{req.Target},
		VideosPerTarget: req.VideosPerTarget,
		Since:           since,
	})
	h.finish(w, r, outcome, err)
}

// Bulk handles POST /api/v1/searches/bulk.
func (h SearchHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bulkSearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid bulk search payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	since, ok := parseSince(req.SinceDate)
	if !ok {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "sinceDate must be formatted as YYYY-MM-DD", "field": "sinceDate"})
		return
	}

	outcome, err := h.Searches.Bulk(ctx, models.SearchRequest{
		ID:              req.ID,
		Targets:         req.Targets,
		VideosPerTarget: req.VideosPerTarget,
		Since:           since,
	})
	h.finish(w, r, outcome, err)
}

// Cancel handles DELETE /api/v1/searches/{id}.
func (h SearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !h.Searches.Cancel(id) {
		respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "no running search with that id"})
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"searchId": id, "canceled": true})
}

func (h SearchHandler) finish(w http.ResponseWriter, r *http.Request, outcome search.Outcome, err error) {
	ctx := r.Context()
	switch {
	case err != nil:
		respondError(ctx, w, err)
	case outcome.Ignored:
		respondJSON(ctx, w, http.StatusConflict, map[string]string{"error": "a search is already running"})
	default:
		respondJSON(ctx, w, http.StatusOK, outcome)
	}
}

func parseSince(value string) (*time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			parsed = parsed.UTC()
			return &parsed, true
		}
	}
	return nil, false
}
