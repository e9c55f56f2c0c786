package handlers

import (
	"context"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/quota"
	"github.com/vidfriends/scout/internal/search"
)

// SessionValidator exposes the device session state machine.
type SessionValidator interface {
	State() auth.State
	Current() (models.Session, bool)
	Ensure(ctx context.Context) (models.Session, error)
	Check(ctx context.Context) (models.Session, error)
	SignOut(ctx context.Context)
}

// SessionWriter stores a session obtained from an interactive sign-in.
type SessionWriter interface {
	Replace(ctx context.Context, session models.Session, kind models.AuthEventKind) error
}

// Searcher runs and cancels profile searches.
type Searcher interface {
	Single(ctx context.Context, req models.SearchRequest) (search.Outcome, error)
	Bulk(ctx context.Context, req models.SearchRequest) (search.Outcome, error)
	Cancel(id string) bool
}

// SubscriptionSource resolves the subscription status of a session.
type SubscriptionSource interface {
	Status(ctx context.Context, session models.Session) models.SubscriptionStatus
}

// QuotaReader derives the quota position of a user.
type QuotaReader interface {
	State(ctx context.Context, userID string, tier models.Tier) (quota.State, error)
}

// RecentSearches lists a user's latest completed searches.
type RecentSearches interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error)
}

// NoticeFeed hands pending user notices to the presentation layer.
type NoticeFeed interface {
	Drain() []auth.Notice
}
