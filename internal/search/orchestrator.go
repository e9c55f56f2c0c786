// Package search runs quota-gated single and bulk profile searches.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidfriends/scout/internal/history"
	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/quota"
	"github.com/vidfriends/scout/internal/scraper"
)

// SessionGate validates the device session before a dispatch.
type SessionGate interface {
	Ensure(ctx context.Context) (models.Session, error)
	Active(userID string) bool
}

// TierSource resolves the subscription tier of a session.
type TierSource interface {
	Tier(ctx context.Context, session models.Session) models.Tier
}

// Ledger derives quota state and records consumption.
type Ledger interface {
	State(ctx context.Context, userID string, tier models.Tier) (quota.State, error)
	Charge(ctx context.Context, userID string, units int) error
}

// HistoryQueue accepts history jobs without blocking on persistence.
type HistoryQueue interface {
	Enqueue(ctx context.Context, job history.Job) error
}

// RecentInvalidator drops cached recent-search listings for a user.
type RecentInvalidator interface {
	Invalidate(userID string)
}

// Deps wires the orchestrator collaborators.
type Deps struct {
	Session  SessionGate
	Tiers    TierSource
	Quota    Ledger
	Pipeline scraper.Pipeline
	History  HistoryQueue
	Recent   RecentInvalidator
	Logger   *slog.Logger
}

// Outcome is the result of a search call.
type Outcome struct {
	SearchID        string                 `json:"searchId"`
	Ignored         bool                   `json:"ignored,omitempty"`
	Canceled        bool                   `json:"canceled,omitempty"`
	VideosPerTarget int                    `json:"videosPerTarget,omitempty"`
	Records         []models.ContentRecord `json:"records"`
	Targets         []TargetResult         `json:"targets,omitempty"`
	Quota           *quota.State           `json:"quota,omitempty"`
}

// Orchestrator dispatches searches to the fetch pipeline once the session and
// quota allow it.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger

	// dispatch serialises quota check and charge.
	dispatch sync.Mutex

	mu          sync.Mutex
	bulkPending bool
	singles     map[string]struct{}
	inflight    map[string]context.CancelFunc
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:     deps,
		logger:   logger,
		singles:  make(map[string]struct{}),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Single searches one target.
func (o *Orchestrator) Single(ctx context.Context, req models.SearchRequest) (Outcome, error) {
	if err := o.ready(); err != nil {
		return Outcome{}, err
	}

	target := ""
	if len(req.Targets) > 0 {
		target = strings.TrimSpace(req.Targets[0])
	}
	if target == "" || NormalizeTarget(target) == "" {
		return Outcome{}, validationf("targets", "enter at least one profile to search")
	}
	if len(req.Targets) > 1 {
		return Outcome{}, validationf("targets", "a single search takes exactly one profile")
	}

	id := requestID(req)
	key := NormalizeTarget(target)

	o.mu.Lock()
	if o.bulkPending {
		o.mu.Unlock()
		o.logger.Debug("single search ignored while bulk search pending", "searchId", id, "target", target)
		return Outcome{SearchID: id, Ignored: true}, nil
	}
	if _, dup := o.singles[key]; dup {
		o.mu.Unlock()
		o.logger.Debug("duplicate single search ignored", "searchId", id, "target", target)
		return Outcome{SearchID: id, Ignored: true}, nil
	}
	o.singles[key] = struct{}{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.singles, key)
		o.mu.Unlock()
	}()

	return o.run(ctx, id, "search.single", []string{target}, req, false)
}

// Bulk searches up to MaxBulkTargets targets with one atomic quota charge.
func (o *Orchestrator) Bulk(ctx context.Context, req models.SearchRequest) (Outcome, error) {
	if err := o.ready(); err != nil {
		return Outcome{}, err
	}

	if len(req.Targets) == 0 {
		return Outcome{}, validationf("targets", "enter at least one profile to search")
	}
	if len(req.Targets) > MaxBulkTargets {
		return Outcome{}, validationf("targets", "bulk search supports at most %d profiles, got %d", MaxBulkTargets, len(req.Targets))
	}
	for i, target := range req.Targets {
		if NormalizeTarget(target) == "" {
			return Outcome{}, validationf("targets", "profile %d is empty", i+1)
		}
	}
	targets := dedupeTargets(req.Targets)

	id := requestID(req)

	o.mu.Lock()
	if o.bulkPending {
		o.mu.Unlock()
		o.logger.Debug("bulk search ignored while another is pending", "searchId", id)
		return Outcome{SearchID: id, Ignored: true}, nil
	}
	o.bulkPending = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.bulkPending = false
		o.mu.Unlock()
	}()

	return o.run(ctx, id, "search.bulk", targets, req, true)
}

// Cancel aborts the in-flight search id. It reports whether a search was found.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	cancel, ok := o.inflight[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Pending reports whether a bulk search is in flight.
func (o *Orchestrator) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bulkPending
}

// run registers the search under id before any suspension point so Cancel
// reaches it from the first moment it is accepted.
func (o *Orchestrator) run(ctx context.Context, id, spanName string, targets []string, req models.SearchRequest, bulk bool) (Outcome, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.register(id, cancel) {
		o.logger.Debug("search id already in flight, ignoring", "searchId", id)
		return Outcome{SearchID: id, Ignored: true}, nil
	}
	defer o.unregister(id)

	ctx = logging.WithSearch(searchCtx, id)
	ctx, span := logging.StartSpan(ctx, spanName)
	defer span.End()

	session, err := o.deps.Session.Ensure(ctx)
	if err != nil {
		if searchCtx.Err() != nil {
			return canceledOutcome(ctx, id, nil), nil
		}
		span.Fail(err)
		return Outcome{}, err
	}
	ctx = logging.WithUser(ctx, session.UserID)
	logger := logging.FromContext(ctx)

	tier := models.TierFree
	if o.deps.Tiers != nil {
		tier = o.deps.Tiers.Tier(ctx, session)
	}

	state, err := o.checkAndCharge(ctx, session.UserID, tier, len(targets))
	if err != nil {
		if searchCtx.Err() != nil {
			return canceledOutcome(ctx, id, nil), nil
		}
		span.Fail(err)
		return Outcome{}, err
	}

	videos := quota.ClampVideos(tier, req.VideosPerTarget)
	if videos != req.VideosPerTarget {
		logger.Debug("videos per target clamped", "requested", req.VideosPerTarget, "clamped", videos, "tier", string(tier))
	}

	if searchCtx.Err() != nil {
		return canceledOutcome(ctx, id, &state), nil
	}

	results, fetchErr := o.deps.Pipeline.FetchForTargets(searchCtx, targets, videos, req.Since)

	outcome := Outcome{SearchID: id, VideosPerTarget: videos, Quota: &state, Records: []models.ContentRecord{}}

	if searchCtx.Err() != nil {
		out := canceledOutcome(ctx, id, &state)
		out.VideosPerTarget = videos
		return out, nil
	}
	if fetchErr != nil {
		span.Fail(fetchErr)
		return Outcome{}, fmt.Errorf("fetch targets: %w", fetchErr)
	}

	var grouped []TargetResult
	if bulk {
		var unmatched []models.ContentRecord
		grouped, unmatched = partition(targets, results)
		if len(unmatched) > 0 {
			logger.Warn("dropping records that match no requested target", "count", len(unmatched))
		}
		outcome.Targets = grouped
	} else {
		grouped = tagSingle(targets[0], results)
	}
	outcome.Records = flatten(grouped)

	o.record(ctx, session.UserID, id, grouped)

	logger.Info("search completed", "targets", len(targets), "records", len(outcome.Records), "tier", string(tier))
	return outcome, nil
}

func (o *Orchestrator) checkAndCharge(ctx context.Context, userID string, tier models.Tier, units int) (quota.State, error) {
	o.dispatch.Lock()
	defer o.dispatch.Unlock()

	// A search canceled while waiting for the lock is never charged.
	if err := ctx.Err(); err != nil {
		return quota.State{}, err
	}

	state, err := o.deps.Quota.State(ctx, userID, tier)
	if err != nil {
		return quota.State{}, fmt.Errorf("load quota state: %w", err)
	}

	if decision := state.Allows(units); !decision.Allowed {
		return quota.State{}, &QuotaExceededError{Used: state.Used, Max: state.Max, Requested: units, Tier: tier}
	}

	if err := o.deps.Quota.Charge(ctx, userID, units); err != nil {
		return quota.State{}, fmt.Errorf("charge quota: %w", err)
	}
	state.Used += units
	return state, nil
}

// record queues one history entry per non-empty target. The write is skipped
// when the session no longer belongs to userID.
func (o *Orchestrator) record(ctx context.Context, userID, searchID string, grouped []TargetResult) {
	if o.deps.History == nil {
		return
	}
	if !o.deps.Session.Active(userID) {
		logging.FromContext(ctx).Info("session ended during search, skipping history")
		return
	}

	now := time.Now().UTC()
	entries := make([]models.HistoryEntry, 0, len(grouped))
	for _, g := range grouped {
		if len(g.Records) == 0 {
			continue
		}
		entries = append(entries, models.HistoryEntry{
			UserID:    userID,
			Target:    g.Target,
			Records:   g.Records,
			CreatedAt: now,
		})
	}
	if len(entries) == 0 {
		return
	}

	recent := o.deps.Recent
	job := history.Job{
		UserID:   userID,
		SearchID: searchID,
		Entries:  entries,
		OnComplete: func(written int, _ error) {
			if written > 0 && recent != nil {
				recent.Invalidate(userID)
			}
		},
	}

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.deps.History.Enqueue(enqueueCtx, job); err != nil {
		logging.FromContext(ctx).Error("queue search history", "entries", len(entries), "error", err)
	}
}

// register records cancel under id. It reports false when id is already in flight.
func (o *Orchestrator) register(id string, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, taken := o.inflight[id]; taken {
		return false
	}
	o.inflight[id] = cancel
	return true
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) ready() error {
	if o == nil || o.deps.Session == nil || o.deps.Quota == nil || o.deps.Pipeline == nil {
		return ErrNotConfigured
	}
	return nil
}

func canceledOutcome(ctx context.Context, id string, state *quota.State) Outcome {
	charged := state != nil
	logging.FromContext(ctx).Info("search canceled", "charged", charged)
	return Outcome{SearchID: id, Canceled: true, Quota: state, Records: []models.ContentRecord{}}
}

func tagSingle(target string, results []models.SearchResult) []TargetResult {
	records := []models.ContentRecord{}
	for _, result := range results {
		for _, record := range result.Items {
			record.Target = target
			records = append(records, record)
		}
	}
	return []TargetResult{{Target: target, Records: records}}
}

func requestID(req models.SearchRequest) string {
	if id := strings.TrimSpace(req.ID); id != "" {
		return id
	}
	return uuid.NewString()
}

// IsCanceled reports whether err stems from a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
