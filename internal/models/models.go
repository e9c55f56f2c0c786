package models

import (
	"strings"
	"time"
)

// Session is the authentication state for the signed-in identity on this device.
// Values are never mutated in place; a refresh yields a new Session.
type Session struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Remaining reports how long the access token stays valid relative to now.
func (s Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// IsZero reports whether the session carries no credentials.
func (s Session) IsZero() bool {
	return s.UserID == "" && s.AccessToken == "" && s.RefreshToken == ""
}

// AuthEventKind enumerates the auth state changes published by the session store.
type AuthEventKind string

const (
	AuthSignedIn       AuthEventKind = "SIGNED_IN"
	AuthSignedOut      AuthEventKind = "SIGNED_OUT"
	AuthTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	AuthInitialSession AuthEventKind = "INITIAL_SESSION"
)

// AuthEvent describes a change in the stored session. Session is nil on sign-out.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// Tier is the subscription level that determines quota and per-search caps.
type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierUltra Tier = "ultra"
)

// ParseTier maps a provider tier name onto a Tier, defaulting to Free.
func ParseTier(value string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(value))) {
	case TierPro:
		return TierPro
	case TierUltra:
		return TierUltra
	default:
		return TierFree
	}
}

// Paid reports whether the tier is a paid plan.
func (t Tier) Paid() bool {
	return t == TierPro || t == TierUltra
}

// SubscriptionStatus is the subscription provider's view of the user.
type SubscriptionStatus struct {
	Tier                Tier `json:"tier"`
	CanceledAtPeriodEnd bool `json:"canceledAtPeriodEnd"`
}

// SearchRequest describes a single or bulk profile search.
type SearchRequest struct {
	ID              string     `json:"id,omitempty"`
	Targets         []string   `json:"targets"`
	VideosPerTarget int        `json:"videosPerTarget"`
	Since           *time.Time `json:"sinceDate,omitempty"`
}

// ContentRecord is one post returned by the scraping backend.
// Owner is the profile the backend attributes the post to; Target is the
// requested target the orchestrator tagged it with.
type ContentRecord struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Target    string    `json:"target"`
	Platform  string    `json:"platform"`
	URL       string    `json:"url"`
	Caption   string    `json:"caption"`
	Thumbnail string    `json:"thumbnail"`
	PostedAt  time.Time `json:"postedAt"`
	Views     int64     `json:"views"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
}

// SearchResult groups the records fetched for one target.
type SearchResult struct {
	ForTarget string          `json:"forTarget"`
	Items     []ContentRecord `json:"items"`
}

// HistoryEntry is a persisted completed search for a single target.
type HistoryEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Target     string          `json:"target"`
	Records    []ContentRecord `json:"records"`
	ArchiveURL string          `json:"archiveUrl,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
