package handlers

import (
	"net/http"

	"github.com/vidfriends/scout/internal/auth"
)

// NoticeHandler drains pending session notices.
type NoticeHandler struct {
	Notices NoticeFeed
}

// List handles GET /api/v1/notices.
func (h NoticeHandler) List(w http.ResponseWriter, r *http.Request) {
	notices := h.Notices.Drain()
	if notices == nil {
		notices = []auth.Notice{}
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"notices": notices})
}
