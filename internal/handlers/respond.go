package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/history"
	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/scraper"
	"github.com/vidfriends/scout/internal/search"
)

const upgradePrompt = "Upgrade your plan to keep searching."

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps domain errors onto HTTP responses.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validation *search.ValidationError
		exceeded   *search.QuotaExceededError
		invalid    *auth.SessionInvalidError
		upstream   *scraper.UpstreamError
	)

	switch {
	case errors.As(err, &validation):
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": validation.Message, "field": validation.Field})
	case errors.As(err, &exceeded):
		respondJSON(ctx, w, http.StatusPaymentRequired, map[string]any{
			"error":     exceeded.Error(),
			"used":      exceeded.Used,
			"max":       exceeded.Max,
			"requested": exceeded.Requested,
			"tier":      exceeded.Tier,
			"upgrade":   upgradePrompt,
		})
	case errors.As(err, &invalid):
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{
			"error":      "you're signed out, please sign in again",
			"reason":     invalid.Reason,
			"redirectTo": invalid.RedirectTo,
		})
	case errors.Is(err, auth.ErrSessionUnavailable):
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "sign-in is temporarily unavailable, try again"})
	case errors.As(err, &upstream):
		respondJSON(ctx, w, http.StatusBadGateway, map[string]string{"error": "the search failed upstream: " + upstream.Message})
	case errors.Is(err, scraper.ErrRateLimited):
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "the search failed upstream: too many requests, try again shortly"})
	case errors.Is(err, scraper.ErrUnavailable), errors.Is(err, scraper.ErrNotConfigured):
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "search is temporarily unavailable, try again"})
	case errors.Is(err, history.ErrStoreUnavailable), errors.Is(err, search.ErrNotConfigured):
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "service temporarily unavailable"})
	case search.IsCanceled(err):
		respondJSON(ctx, w, http.StatusRequestTimeout, map[string]string{"error": "request canceled"})
	default:
		logging.FromContext(ctx).Error("unhandled request error", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
