package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
)

// RequestLog stores one row per consumed quota unit.
type RequestLog interface {
	// CountRequestsInWindow counts non-reset rows with start <= timestamp < end.
	CountRequestsInWindow(ctx context.Context, userID string, start, end time.Time) (int, error)
	// InsertRequestLogEntries inserts count rows stamped at in one atomic write.
	InsertRequestLogEntries(ctx context.Context, userID string, at time.Time, count int) error
	// MarkEntriesReset flags rows older than before so they stop counting and
	// returns how many rows changed.
	MarkEntriesReset(ctx context.Context, userID string, before time.Time) (int64, error)
}

// State is the quota position of a user in the current window. It is derived
// fresh for every check and never cached.
type State struct {
	Tier        models.Tier `json:"tier"`
	WindowStart time.Time   `json:"windowStart"`
	WindowEnd   time.Time   `json:"windowEnd"`
	Used        int         `json:"used"`
	Max         Limit       `json:"max"`
}

// Remaining reports the allowance left in the window.
func (s State) Remaining() Limit {
	return Evaluate(s.Tier, s.Used, 0).Remaining
}

// Allows evaluates a request for units against the state.
func (s State) Allows(units int) Decision {
	return Evaluate(s.Tier, s.Used, units)
}

// Tracker derives quota state from the request log and records consumption.
type Tracker struct {
	log RequestLog
	now func() time.Time
}

// NewTracker constructs a Tracker over the provided request log.
func NewTracker(log RequestLog) *Tracker {
	if log == nil {
		panic("quota: request log must not be nil")
	}
	return &Tracker{log: log, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (t *Tracker) WithNowFunc(now func() time.Time) {
	t.now = now
}

// State computes the current window usage for userID at tier.
func (t *Tracker) State(ctx context.Context, userID string, tier models.Tier) (State, error) {
	if strings.TrimSpace(userID) == "" {
		return State{}, errors.New("quota state: user id must be provided")
	}

	window := MonthlyWindow(t.now())
	used, err := t.log.CountRequestsInWindow(ctx, userID, window.Start, window.End)
	if err != nil {
		return State{}, fmt.Errorf("count requests in window: %w", err)
	}

	return State{
		Tier:        tier,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Used:        used,
		Max:         LimitsFor(tier).MaxPerWindow,
	}, nil
}

// Charge records units consumed quota units for userID.
func (t *Tracker) Charge(ctx context.Context, userID string, units int) error {
	if units <= 0 {
		return nil
	}
	if err := t.log.InsertRequestLogEntries(ctx, userID, t.now().UTC(), units); err != nil {
		return fmt.Errorf("insert request log entries: %w", err)
	}
	return nil
}

// ShouldResetOnTierChange reports whether moving from one tier to another with
// used units in the window resets the window baseline: always when moving to
// Ultra, and when moving between paid tiers with usage above the Free allowance.
func ShouldResetOnTierChange(from, to models.Tier, used int) bool {
	if from == to {
		return false
	}
	if to == models.TierUltra {
		return true
	}
	return from.Paid() && to.Paid() && used > FreeMaxPerWindow
}

// ApplyTierChange resets the current window for userID when the tier change
// qualifies. It reports whether any rows were reset; re-applying is a no-op.
func (t *Tracker) ApplyTierChange(ctx context.Context, userID string, from, to models.Tier) (bool, error) {
	if from == to {
		return false, nil
	}

	state, err := t.State(ctx, userID, to)
	if err != nil {
		return false, err
	}
	if state.Used == 0 || !ShouldResetOnTierChange(from, to, state.Used) {
		return false, nil
	}

	changed, err := t.log.MarkEntriesReset(ctx, userID, t.now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark request log entries reset: %w", err)
	}

	logging.FromContext(ctx).Info("quota window reset after tier change",
		"userId", userID,
		"from", string(from),
		"to", string(to),
		"used", state.Used,
		"rows", changed,
	)
	return changed > 0, nil
}
