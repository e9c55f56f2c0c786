package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vidfriends/scout/internal/auth"
	"github.com/vidfriends/scout/internal/history"
	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/quota"
	"github.com/vidfriends/scout/internal/scraper"
)

type gateStub struct {
	mu      sync.Mutex
	session models.Session
	err     error
	active  bool
}

func (g *gateStub) Ensure(context.Context) (models.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session, g.err
}

func (g *gateStub) Active(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active && g.session.UserID == userID
}

func (g *gateStub) setActive(active bool) {
	g.mu.Lock()
	g.active = active
	g.mu.Unlock()
}

type tierStub models.Tier

func (t tierStub) Tier(context.Context, models.Session) models.Tier {
	return models.Tier(t)
}

type pipelineStub struct {
	calls   atomic.Int32
	mu      sync.Mutex
	targets []string
	videos  int
	fetch   func(ctx context.Context, targets []string) ([]models.SearchResult, error)
	results []models.SearchResult
	err     error
}

func (p *pipelineStub) FetchForTargets(ctx context.Context, targets []string, videosPerTarget int, _ *time.Time) ([]models.SearchResult, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.targets = append([]string(nil), targets...)
	p.videos = videosPerTarget
	fetch := p.fetch
	p.mu.Unlock()
	if fetch != nil {
		return fetch(ctx, targets)
	}
	return p.results, p.err
}

type queueStub struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	jobs    int
}

func (q *queueStub) Enqueue(_ context.Context, job history.Job) error {
	q.mu.Lock()
	q.entries = append(q.entries, job.Entries...)
	q.jobs++
	q.mu.Unlock()
	if job.OnComplete != nil {
		job.OnComplete(len(job.Entries), nil)
	}
	return nil
}

func (q *queueStub) written() []models.HistoryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.HistoryEntry(nil), q.entries...)
}

type recentStub struct {
	invalidated atomic.Int32
}

func (r *recentStub) Invalidate(string) {
	r.invalidated.Add(1)
}

type fixture struct {
	gate     *gateStub
	log      *quota.MemoryLog
	tracker  *quota.Tracker
	pipeline *pipelineStub
	queue    *queueStub
	recent   *recentStub
	orch     *Orchestrator
}

func newFixture(tier models.Tier) *fixture {
	f := &fixture{
		gate:     &gateStub{session: models.Session{UserID: "user-1"}, active: true},
		log:      quota.NewMemoryLog(),
		pipeline: &pipelineStub{},
		queue:    &queueStub{},
		recent:   &recentStub{},
	}
	f.tracker = quota.NewTracker(f.log)
	f.orch = NewOrchestrator(Deps{
		Session:  f.gate,
		Tiers:    tierStub(tier),
		Quota:    f.tracker,
		Pipeline: f.pipeline,
		History:  f.queue,
		Recent:   f.recent,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) seedUsage(t *testing.T, units int) {
	t.Helper()
	if err := f.tracker.Charge(context.Background(), "user-1", units); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
}

func records(owner string, n int) []models.ContentRecord {
	out := make([]models.ContentRecord, n)
	for i := range out {
		out[i] = models.ContentRecord{ID: owner + "-" + string(rune('a'+i)), Owner: owner}
	}
	return out
}

func single(target string, videos int) models.SearchRequest {
	return models.SearchRequest{Targets: []string{target}, VideosPerTarget: videos}
}

func TestFreeTierFourthSearchRejected(t *testing.T) {
	f := newFixture(models.TierFree)
	f.pipeline.results = []models.SearchResult{{ForTarget: "nasa", Items: records("nasa", 1)}}

	for i := 0; i < 3; i++ {
		if _, err := f.orch.Single(context.Background(), single("nasa", 5)); err != nil {
			t.Fatalf("search %d: %v", i+1, err)
		}
	}

	_, err := f.orch.Single(context.Background(), single("nasa", 5))
	var exceeded *QuotaExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if exceeded.Used != 3 || exceeded.Max != 3 || exceeded.Tier != models.TierFree {
		t.Fatalf("unexpected quota error %+v", exceeded)
	}
	if calls := f.pipeline.calls.Load(); calls != 3 {
		t.Fatalf("rejected search must not dispatch, got %d calls", calls)
	}
	if f.log.Len() != 3 {
		t.Fatalf("rejected search must not charge, got %d entries", f.log.Len())
	}
}

func TestBulkOverQuotaRejectedAtomically(t *testing.T) {
	f := newFixture(models.TierFree)

	_, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: []string{"a", "b", "c", "d", "e"}, VideosPerTarget: 5})
	var exceeded *QuotaExceededError
	if !errors.As(err, &exceeded) || exceeded.Requested != 5 {
		t.Fatalf("expected quota exceeded for the whole batch, got %v", err)
	}
	if f.pipeline.calls.Load() != 0 {
		t.Fatal("no target may be dispatched")
	}
	if f.log.Len() != 0 {
		t.Fatalf("used must not change, got %d entries", f.log.Len())
	}
}

func TestCancelPreventsHistory(t *testing.T) {
	f := newFixture(models.TierPro)
	started := make(chan struct{})
	f.pipeline.fetch = func(ctx context.Context, targets []string) ([]models.SearchResult, error) {
		close(started)
		<-ctx.Done()
		return []models.SearchResult{{ForTarget: targets[0], Items: records(targets[0], 2)}}, nil
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := f.orch.Single(context.Background(), models.SearchRequest{ID: "search-1", Targets: []string{"nasa"}})
		if err != nil {
			t.Errorf("single: %v", err)
		}
		done <- outcome
	}()

	<-started
	if !f.orch.Cancel("search-1") {
		t.Fatal("expected in-flight search to be found")
	}

	outcome := <-done
	if !outcome.Canceled {
		t.Fatalf("expected canceled outcome, got %+v", outcome)
	}
	if len(f.queue.written()) != 0 {
		t.Fatal("canceled search must not write history")
	}
	if f.orch.Cancel("search-1") {
		t.Fatal("finished search should no longer be registered")
	}
}

// heldTiers blocks Tier until release is closed.
type heldTiers struct {
	entered chan struct{}
	release chan struct{}
}

func (h *heldTiers) Tier(ctx context.Context, _ models.Session) models.Tier {
	close(h.entered)
	<-h.release
	return models.TierPro
}

func TestCancelBeforeDispatchSkipsChargeAndFetch(t *testing.T) {
	f := newFixture(models.TierPro)
	tiers := &heldTiers{entered: make(chan struct{}), release: make(chan struct{})}
	f.orch = NewOrchestrator(Deps{
		Session:  f.gate,
		Tiers:    tiers,
		Quota:    f.tracker,
		Pipeline: f.pipeline,
		History:  f.queue,
		Recent:   f.recent,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := f.orch.Single(context.Background(), models.SearchRequest{ID: "search-early", Targets: []string{"nasa"}})
		if err != nil {
			t.Errorf("single: %v", err)
		}
		done <- outcome
	}()

	<-tiers.entered
	if !f.orch.Cancel("search-early") {
		t.Fatal("expected search to be cancelable while resolving the tier")
	}
	close(tiers.release)

	outcome := <-done
	if !outcome.Canceled {
		t.Fatalf("expected canceled outcome, got %+v", outcome)
	}
	if outcome.Quota != nil {
		t.Fatalf("expected no quota state for an uncharged search, got %+v", outcome.Quota)
	}
	if got := f.pipeline.calls.Load(); got != 0 {
		t.Fatalf("expected no fetch, got %d calls", got)
	}
	if got := f.log.Len(); got != 0 {
		t.Fatalf("expected no charge, got %d", got)
	}
	if len(f.queue.written()) != 0 {
		t.Fatal("canceled search must not write history")
	}
}

func TestDuplicateSearchIDIgnored(t *testing.T) {
	f := newFixture(models.TierPro)
	started := make(chan struct{})
	release := make(chan struct{})
	f.pipeline.fetch = func(ctx context.Context, targets []string) ([]models.SearchResult, error) {
		close(started)
		<-release
		return []models.SearchResult{{ForTarget: targets[0], Items: records(targets[0], 1)}}, nil
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := f.orch.Single(context.Background(), models.SearchRequest{ID: "shared", Targets: []string{"nasa"}})
		if err != nil {
			t.Errorf("first single: %v", err)
		}
		done <- outcome
	}()
	<-started

	second, err := f.orch.Single(context.Background(), models.SearchRequest{ID: "shared", Targets: []string{"esa"}})
	if err != nil {
		t.Fatalf("second single: %v", err)
	}
	if !second.Ignored {
		t.Fatalf("expected search reusing an in-flight id to be ignored, got %+v", second)
	}

	close(release)
	first := <-done
	if first.Canceled || first.Ignored {
		t.Fatalf("expected first search to complete, got %+v", first)
	}
	if got := f.pipeline.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
	if got := f.log.Len(); got != 1 {
		t.Fatalf("expected one charge, got %d", got)
	}
	if f.orch.Cancel("shared") {
		t.Fatal("finished search should no longer be registered")
	}
}

func TestBulkPartitionsByOwner(t *testing.T) {
	f := newFixture(models.TierPro)
	f.pipeline.results = []models.SearchResult{
		{ForTarget: "alice", Items: records("Alice", 3)},
		{ForTarget: "bob", Items: nil},
	}

	outcome, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: []string{"alice", "bob"}, VideosPerTarget: 10})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}

	written := f.queue.written()
	if len(written) != 1 || written[0].Target != "alice" || len(written[0].Records) != 3 {
		t.Fatalf("expected exactly one history entry for alice, got %+v", written)
	}
	if len(outcome.Records) != 3 {
		t.Fatalf("expected 3 aggregate records, got %d", len(outcome.Records))
	}
	for _, r := range outcome.Records {
		if r.Target != "alice" {
			t.Fatalf("record not tagged to alice: %+v", r)
		}
	}
	if len(outcome.Targets) != 2 || len(outcome.Targets[1].Records) != 0 {
		t.Fatalf("unexpected per-target results %+v", outcome.Targets)
	}
	if f.log.Len() != 2 {
		t.Fatalf("expected two units charged, got %d", f.log.Len())
	}
	if f.recent.invalidated.Load() != 1 {
		t.Fatal("expected recent searches to be invalidated after the write")
	}
}

func TestBulkMatchesHandlesAndURLs(t *testing.T) {
	f := newFixture(models.TierPro)
	f.pipeline.results = []models.SearchResult{{Items: []models.ContentRecord{
		{ID: "1", Owner: "@NASA"},
		{ID: "2", Owner: "spacex"},
		{ID: "3", Owner: "stranger"},
	}}}

	outcome, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: []string{
		"https://www.instagram.com/nasa/",
		"@SpaceX",
		"nasa",
	}})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if targets := f.pipeline.targets; len(targets) != 2 {
		t.Fatalf("expected duplicate targets collapsed, got %v", targets)
	}
	if len(outcome.Records) != 2 {
		t.Fatalf("expected unmatched record dropped, got %+v", outcome.Records)
	}
	if outcome.Records[0].Target != "https://www.instagram.com/nasa/" || outcome.Records[1].Target != "@SpaceX" {
		t.Fatalf("records should carry the requested target string: %+v", outcome.Records)
	}
}

func TestFreeTierClampsVideosAndRecords(t *testing.T) {
	f := newFixture(models.TierFree)
	f.seedUsage(t, 2)
	f.pipeline.results = []models.SearchResult{{ForTarget: "nasa", Items: records("nasa", 4)}}

	outcome, err := f.orch.Single(context.Background(), single("nasa", 10))
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if f.pipeline.videos != 5 || outcome.VideosPerTarget != 5 {
		t.Fatalf("expected videos clamped to 5, got %d", f.pipeline.videos)
	}
	if f.log.Len() != 3 {
		t.Fatalf("expected one log entry inserted, got %d total", f.log.Len()-2)
	}
	if written := f.queue.written(); len(written) != 1 || written[0].Target != "nasa" {
		t.Fatalf("expected one history record, got %+v", written)
	}
	if outcome.Quota == nil || outcome.Quota.Used != 3 {
		t.Fatalf("unexpected quota in outcome %+v", outcome.Quota)
	}
}

func TestBulkOverTargetLimitRejected(t *testing.T) {
	f := newFixture(models.TierPro)
	targets := make([]string, 21)
	for i := range targets {
		targets[i] = "user" + string(rune('a'+i))
	}

	_, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: targets})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if want := "bulk search supports at most 20 profiles, got 21"; validation.Message != want {
		t.Fatalf("unexpected message %q", validation.Message)
	}
	if f.log.Len() != 0 || f.pipeline.calls.Load() != 0 {
		t.Fatal("validation failure must not charge or dispatch")
	}
}

func TestValidationBeforeQuota(t *testing.T) {
	f := newFixture(models.TierFree)
	f.seedUsage(t, 3)

	var validation *ValidationError
	if _, err := f.orch.Single(context.Background(), single("  ", 5)); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: []string{"a", ""}}); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for blank bulk entry, got %v", err)
	}
	if f.log.Len() != 3 {
		t.Fatal("validation failures must not charge")
	}
}

func TestUpstreamErrorKeepsChargeWithoutHistory(t *testing.T) {
	f := newFixture(models.TierFree)
	f.pipeline.err = &scraper.UpstreamError{Status: 400, Message: "profile is private"}

	_, err := f.orch.Single(context.Background(), single("nasa", 5))
	var upstream *scraper.UpstreamError
	if !errors.As(err, &upstream) || upstream.Message != "profile is private" {
		t.Fatalf("expected upstream error surfaced verbatim, got %v", err)
	}
	if f.log.Len() != 1 {
		t.Fatalf("dispatched attempt must be charged, got %d", f.log.Len())
	}
	if len(f.queue.written()) != 0 {
		t.Fatal("failed search must not write history")
	}
}

func TestSearchesIgnoredWhileBulkPending(t *testing.T) {
	f := newFixture(models.TierPro)
	started := make(chan struct{})
	release := make(chan struct{})
	f.pipeline.fetch = func(_ context.Context, targets []string) ([]models.SearchResult, error) {
		if len(targets) == 2 {
			close(started)
			<-release
		}
		return nil, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: []string{"a", "b"}})
		done <- err
	}()
	<-started

	bulk, err := f.orch.Bulk(context.Background(), models.SearchRequest{Targets: []string{"c"}})
	if err != nil || !bulk.Ignored {
		t.Fatalf("expected second bulk ignored, got %+v %v", bulk, err)
	}
	one, err := f.orch.Single(context.Background(), single("d", 5))
	if err != nil || !one.Ignored {
		t.Fatalf("expected single ignored, got %+v %v", one, err)
	}
	if !f.orch.Pending() {
		t.Fatal("expected pending bulk search")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if f.log.Len() != 2 || f.pipeline.calls.Load() != 1 {
		t.Fatalf("ignored calls must not charge or dispatch: entries=%d calls=%d", f.log.Len(), f.pipeline.calls.Load())
	}
	if f.orch.Pending() {
		t.Fatal("bulk search should have cleared pending state")
	}
}

func TestDuplicateSingleIgnored(t *testing.T) {
	f := newFixture(models.TierPro)
	started := make(chan struct{})
	release := make(chan struct{})
	f.pipeline.fetch = func(context.Context, []string) ([]models.SearchResult, error) {
		close(started)
		<-release
		return nil, nil
	}

	done := make(chan struct{})
	go func() {
		_, _ = f.orch.Single(context.Background(), single("nasa", 5))
		close(done)
	}()
	<-started

	dup, err := f.orch.Single(context.Background(), single("@NASA", 5))
	if err != nil || !dup.Ignored {
		t.Fatalf("expected duplicate ignored, got %+v %v", dup, err)
	}
	close(release)
	<-done
}

func TestSessionEndedMidFlightSkipsHistory(t *testing.T) {
	f := newFixture(models.TierPro)
	f.pipeline.fetch = func(_ context.Context, targets []string) ([]models.SearchResult, error) {
		f.gate.setActive(false)
		return []models.SearchResult{{ForTarget: targets[0], Items: records(targets[0], 2)}}, nil
	}

	outcome, err := f.orch.Single(context.Background(), single("nasa", 5))
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if len(outcome.Records) != 2 {
		t.Fatal("in-flight results should still be returned")
	}
	if len(f.queue.written()) != 0 {
		t.Fatal("history must not be written for an ended session")
	}
	if f.log.Len() != 1 {
		t.Fatalf("expected exactly one charge, got %d", f.log.Len())
	}
}

func TestInvalidSessionBlocksDispatch(t *testing.T) {
	f := newFixture(models.TierPro)
	f.gate.err = &auth.SessionInvalidError{Reason: auth.ReasonNoSession, RedirectTo: "/login"}

	_, err := f.orch.Single(context.Background(), single("nasa", 5))
	var invalid *auth.SessionInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected session invalid error, got %v", err)
	}
	if f.pipeline.calls.Load() != 0 || f.log.Len() != 0 {
		t.Fatal("invalid session must not dispatch or charge")
	}
}

func TestConcurrentSearchesNeverOvercharge(t *testing.T) {
	f := newFixture(models.TierFree)
	f.pipeline.results = []models.SearchResult{}

	var wg sync.WaitGroup
	var exceeded atomic.Int32
	targets := []string{"a", "b", "c", "d", "e", "f"}
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Single(context.Background(), single(target, 5))
			var q *QuotaExceededError
			if errors.As(err, &q) {
				exceeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if f.log.Len() != 3 {
		t.Fatalf("expected exactly three charges, got %d", f.log.Len())
	}
	if exceeded.Load() != 3 {
		t.Fatalf("expected three rejections, got %d", exceeded.Load())
	}
}

func TestNormalizeTarget(t *testing.T) {
	cases := map[string]string{
		"nasa":                                 "nasa",
		"  @NASA ":                             "nasa",
		"https://www.instagram.com/nasa/":      "nasa",
		"https://www.tiktok.com/@nasa?lang=en": "nasa",
		"instagram.com/nasa":                   "nasa",
		"":                                     "",
		"@":                                    "",
	}
	for in, want := range cases {
		if got := NormalizeTarget(in); got != want {
			t.Fatalf("NormalizeTarget(%q) = %q want %q", in, got, want)
		}
	}
}
