package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vidfriends/scout/internal/models"
)

// TierResetter applies the quota consequences of a tier change.
type TierResetter interface {
	ApplyTierChange(ctx context.Context, userID string, from, to models.Tier) (bool, error)
}

// Monitor resolves tiers and applies quota resets when a user's tier changes.
type Monitor struct {
	checker  Checker
	resetter TierResetter
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]models.Tier
}

// NewMonitor constructs a Monitor.
func NewMonitor(checker Checker, resetter TierResetter, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		checker:  checker,
		resetter: resetter,
		logger:   logger,
		last:     make(map[string]models.Tier),
	}
}

// Tier returns the current tier for session. Lookup failures degrade to Free
// without being treated as a tier change.
func (m *Monitor) Tier(ctx context.Context, session models.Session) models.Tier {
	return m.Status(ctx, session).Tier
}

// Status returns the subscription status for session.
func (m *Monitor) Status(ctx context.Context, session models.Session) models.SubscriptionStatus {
	if m.checker == nil {
		return models.SubscriptionStatus{Tier: models.TierFree}
	}

	status, err := m.checker.Check(ctx, session.AccessToken)
	if err != nil {
		m.logger.Warn("subscription check failed, using free tier", "userId", session.UserID, "error", err)
		return models.SubscriptionStatus{Tier: models.TierFree}
	}

	m.mu.Lock()
	previous, seen := m.last[session.UserID]
	m.last[session.UserID] = status.Tier
	m.mu.Unlock()

	if seen && previous != status.Tier {
		m.logger.Info("subscription tier changed", "userId", session.UserID, "from", string(previous), "to", string(status.Tier))
		if m.resetter != nil {
			if _, err := m.resetter.ApplyTierChange(ctx, session.UserID, previous, status.Tier); err != nil {
				m.logger.Error("apply tier change", "userId", session.UserID, "error", err)
			}
		}
	}
	return status
}

// Forget drops the remembered tier for userID.
func (m *Monitor) Forget(userID string) {
	m.mu.Lock()
	delete(m.last, userID)
	m.mu.Unlock()
}
