package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/config"
	"github.com/vidfriends/scout/internal/db"
	"github.com/vidfriends/scout/internal/handlers"
	"github.com/vidfriends/scout/internal/history"
	"github.com/vidfriends/scout/internal/middleware"
	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/querycache"
	"github.com/vidfriends/scout/internal/quota"
	"github.com/vidfriends/scout/internal/repositories"
	"github.com/vidfriends/scout/internal/scraper"
	"github.com/vidfriends/scout/internal/search"
	"github.com/vidfriends/scout/internal/storage"
	"github.com/vidfriends/scout/internal/subscription"
)

const recentCacheTTL = time.Minute

// services holds the long-lived collaborators serve needs beyond the HTTP handlers.
type services struct {
	handlers  handlers.Dependencies
	store     *auth.Store
	validator *auth.Validator
	recorder  *history.Recorder
}

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*services, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{}

	persister, err := sessionPersister(cfg.Auth)
	if err != nil {
		return nil, nil, err
	}
	if persister == nil {
		logger.Warn("session secret not configured, sessions will not survive restarts")
	}

	store := auth.NewStore(persister, logger)
	provider := auth.NewHTTPProvider(cfg.Auth.BaseURL, cfg.Auth.APIKey, httpClient)
	notices := auth.NewNoticeBoard(32)

	var historyStore history.Store = repositories.NewPostgresHistoryRepository(pool)
	if cfg.ObjectStore.Enabled() {
		objects, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, nil, fmt.Errorf("configure history archive: %w", err)
		}
		historyStore = history.NewArchivingStore(historyStore, objects, logger)
	}

	fetchCache := querycache.New[[]models.SearchResult](cfg.FetchCacheTTL)
	recent := history.NewRecentCache(historyStore, querycache.New[[]models.HistoryEntry](recentCacheTTL))

	signOut := auth.NewSignOutHandler(store, provider, notices, logger, fetchCache, recent)
	validator := auth.NewValidator(store, provider, signOut, auth.ValidatorConfig{
		RefreshTimeout:  cfg.Auth.RefreshTimeout,
		RecheckInterval: cfg.Auth.RecheckInterval,
		LoginPath:       cfg.Auth.LoginPath,
	}, logger)

	tracker := quota.NewTracker(repositories.NewPostgresRequestLogRepository(pool))
	monitor := subscription.NewMonitor(
		subscription.NewClient(cfg.Subscription.URL, cfg.Subscription.Timeout, httpClient),
		tracker,
		logger,
	)
	unsubscribe := store.Subscribe(forgetOnSignOut(monitor))

	pipeline := scraper.NewCachingPipeline(scraper.NewClient(scraper.ClientConfig{
		BaseURL:       cfg.Scraper.BaseURL,
		APIKey:        cfg.Scraper.APIKey,
		Timeout:       cfg.Scraper.Timeout,
		Concurrency:   cfg.Scraper.Concurrency,
		RatePerSecond: cfg.Scraper.RatePerSecond,
	}, httpClient), fetchCache)

	recorder := history.NewRecorder(historyStore, history.RecorderConfig{
		QueueSize: cfg.History.QueueSize,
		Workers:   cfg.History.Workers,
	}, logger)

	orchestrator := search.NewOrchestrator(search.Deps{
		Session:  validator,
		Tiers:    monitor,
		Quota:    tracker,
		Pipeline: pipeline,
		History:  recorder,
		Recent:   recent,
		Logger:   logger,
	})

	svc := &services{
		handlers: handlers.Dependencies{
			Validator:     validator,
			Sessions:      store,
			Searches:      orchestrator,
			Subscriptions: monitor,
			Quota:         tracker,
			Recent:        recent,
			Notices:       notices,
			SearchLimiter: middleware.NewKeyedRateLimiter(cfg.APIRatePerMin, time.Minute, cfg.APIRateBurst, 10*time.Minute),
		},
		store:     store,
		validator: validator,
		recorder:  recorder,
	}

	cleanup := func(ctx context.Context) error {
		unsubscribe()
		var errs []error
		if err := recorder.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown history recorder: %w", err))
		}
		return errors.Join(errs...)
	}

	return svc, cleanup, nil
}

func sessionPersister(cfg config.AuthConfig) (auth.Persister, error) {
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return nil, nil
	}
	persister, err := auth.NewFileSessionStore(cfg.SessionFile, cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("configure session file: %w", err)
	}
	return persister, nil
}

type tierForgetter interface {
	Forget(userID string)
}

// forgetOnSignOut drops the remembered subscription tier of the user who
// signed out so the next identity starts from a fresh observation.
func forgetOnSignOut(f tierForgetter) auth.Listener {
	var (
		mu   sync.Mutex
		last string
	)
	return func(evt models.AuthEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case evt.Session != nil:
			last = evt.Session.UserID
		case evt.Kind == models.AuthSignedOut && last != "":
			f.Forget(last)
			last = ""
		}
	}
}
