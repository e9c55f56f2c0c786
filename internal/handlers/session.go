package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
)

// SessionHandler exposes the device session.
type SessionHandler struct {
	Validator SessionValidator
	Store     SessionWriter
}

type signInRequest struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	State     auth.State `json:"state"`
	UserID    string     `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (h SessionHandler) view(session models.Session, ok bool) sessionResponse {
	resp := sessionResponse{State: h.Validator.State()}
	if ok {
		expires := session.ExpiresAt.UTC()
		resp.UserID = session.UserID
		resp.ExpiresAt = &expires
	}
	return resp
}

// Show handles GET /api/v1/session.
func (h SessionHandler) Show(w http.ResponseWriter, r *http.Request) {
	session, ok := h.Validator.Current()
	respondJSON(r.Context(), w, http.StatusOK, h.view(session, ok))
}

// SignIn handles POST /api/v1/session with tokens from an interactive login.
func (h SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid sign-in payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.AccessToken == "" || req.RefreshToken == "" || req.ExpiresAt.IsZero() {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "userId, accessToken, refreshToken and expiresAt are required"})
		return
	}

	session := models.Session{
		UserID:       req.UserID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt.UTC(),
	}
	if err := h.Store.Replace(ctx, session, models.AuthSignedIn); err != nil {
		logger.Error("store session", "userId", req.UserID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to store session"})
		return
	}

	checked, err := h.Validator.Check(ctx)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	logger.Info("signed in", "userId", checked.UserID)
	respondJSON(ctx, w, http.StatusCreated, h.view(checked, true))
}

// Check handles POST /api/v1/session/check.
func (h SessionHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.Validator.Check(ctx)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, h.view(session, true))
}

// SignOut handles DELETE /api/v1/session.
func (h SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.Validator.SignOut(ctx)
	respondJSON(ctx, w, http.StatusOK, sessionResponse{State: h.Validator.State()})
}
