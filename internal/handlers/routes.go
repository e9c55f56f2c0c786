package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/middleware"
)

// DestinationHeader names the page the caller was on, used to return them
// there after a forced sign-in.
const DestinationHeader = "X-Destination"

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Validator     SessionValidator
	Sessions      SessionWriter
	Searches      Searcher
	Subscriptions SubscriptionSource
	Quota         QuotaReader
	Recent        RecentSearches
	Notices       NoticeFeed
	SearchLimiter middleware.RateLimiter
}

// NewRouter wires HTTP handlers into a chi router.
func NewRouter(deps Dependencies, logger *slog.Logger) http.Handler {
	health := HealthHandler{Session: deps.Validator}
	session := SessionHandler{Validator: deps.Validator, Store: deps.Sessions}
	searches := SearchHandler{Searches: deps.Searches}
	quotas := QuotaHandler{Session: deps.Validator, Subscriptions: deps.Subscriptions, Quota: deps.Quota}
	history := HistoryHandler{Session: deps.Validator, Store: deps.Recent}
	notices := NoticeHandler{Notices: deps.Notices}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	r.Use(withDestination)

	r.Get("/healthz", health.Handle)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/session", session.Show)
		api.Post("/session", session.SignIn)
		api.Delete("/session", session.SignOut)
		api.Post("/session/check", session.Check)

		api.Get("/quota", quotas.Show)
		api.Get("/history/recent", history.Recent)
		api.Get("/notices", notices.List)

		api.Group(func(g chi.Router) {
			g.Use(middleware.RateLimit(deps.SearchLimiter, "searches"))
			g.Post("/searches", searches.Single)
			g.Post("/searches/bulk", searches.Bulk)
		})
		api.Delete("/searches/{id}", searches.Cancel)
	})

	return r
}

func withDestination(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dest := r.Header.Get(DestinationHeader); dest != "" {
			r = r.WithContext(auth.WithDestination(r.Context(), dest))
		}
		next.ServeHTTP(w, r)
	})
}
