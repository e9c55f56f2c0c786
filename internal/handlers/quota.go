package handlers

import (
	"net/http"
	"time"

	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/quota"
)

// QuotaHandler reports the caller's search allowance.
type QuotaHandler struct {
	Session       SessionValidator
	Subscriptions SubscriptionSource
	Quota         QuotaReader
}

type quotaResponse struct {
	Tier                models.Tier `json:"tier"`
	WindowStart         time.Time   `json:"windowStart"`
	WindowEnd           time.Time   `json:"windowEnd"`
	Used                int         `json:"used"`
	Max                 quota.Limit `json:"max"`
	Remaining           quota.Limit `json:"remaining"`
	MaxVideosPerTarget  int         `json:"maxVideosPerTarget"`
	CanceledAtPeriodEnd bool        `json:"canceledAtPeriodEnd"`
}

// Show handles GET /api/v1/quota.
func (h QuotaHandler) Show(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.Session.Ensure(ctx)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	status := models.SubscriptionStatus{Tier: models.TierFree}
	if h.Subscriptions != nil {
		status = h.Subscriptions.Status(ctx, session)
	}

	state, err := h.Quota.State(ctx, session.UserID, status.Tier)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, quotaResponse{
		Tier:                state.Tier,
		WindowStart:         state.WindowStart,
		WindowEnd:           state.WindowEnd,
		Used:                state.Used,
		Max:                 state.Max,
		Remaining:           state.Remaining(),
		MaxVideosPerTarget:  quota.LimitsFor(state.Tier).VideosPerSearch,
		CanceledAtPeriodEnd: status.CanceledAtPeriodEnd,
	})
}
