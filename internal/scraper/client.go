// Package scraper fetches profile content from the scraping backend.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
)

// Pipeline fetches content for a set of targets in one logical operation.
// Results are returned in target order.
type Pipeline interface {
	FetchForTargets(ctx context.Context, targets []string, videosPerTarget int, since *time.Time) ([]models.SearchResult, error)
}

// HTTPDoer is the subset of http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig controls how the client talks to the backend.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	Concurrency   int
	RatePerSecond float64
}

// Client fetches targets concurrently from an HTTP scraping backend.
type Client struct {
	baseURL     string
	apiKey      string
	http        HTTPDoer
	limiter     *rate.Limiter
	concurrency int
	timeout     time.Duration
}

// NewClient constructs a Client. A nil doer uses a default http.Client.
func NewClient(cfg ClientConfig, doer HTTPDoer) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if doer == nil {
		doer = &http.Client{}
	}

	limit := rate.Inf
	burst := cfg.Concurrency
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		http:        doer,
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
	}
}

type postPayload struct {
	ID            string    `json:"id"`
	OwnerUsername string    `json:"ownerUsername"`
	Platform      string    `json:"platform"`
	URL           string    `json:"url"`
	Caption       string    `json:"caption"`
	ThumbnailURL  string    `json:"thumbnailUrl"`
	Timestamp     time.Time `json:"timestamp"`
	ViewCount     int64     `json:"viewCount"`
	LikeCount     int64     `json:"likeCount"`
	CommentCount  int64     `json:"commentCount"`
}

type postsResponse struct {
	Items []postPayload `json:"items"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchForTargets implements Pipeline. The first failing target cancels the
// others and its error is returned.
func (c *Client) FetchForTargets(ctx context.Context, targets []string, videosPerTarget int, since *time.Time) ([]models.SearchResult, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	ctx, span := logging.StartSpan(ctx, "scraper.fetch")
	defer span.End()

	results := make([]models.SearchResult, len(targets))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)

	for idx, target := range targets {
		idx, target := idx, target
		group.Go(func() error {
			if err := c.limiter.Wait(groupCtx); err != nil {
				return err
			}
			items, err := c.fetchTarget(groupCtx, target, videosPerTarget, since)
			if err != nil {
				return err
			}
			results[idx] = models.SearchResult{ForTarget: target, Items: items}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		span.Fail(err)
		return nil, err
	}

	logging.FromContext(ctx).Debug("scraper fetch completed", "targets", len(targets), "videosPerTarget", videosPerTarget)
	return results, nil
}

func (c *Client) fetchTarget(ctx context.Context, target string, limit int, since *time.Time) ([]models.ContentRecord, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if since != nil {
		query.Set("since", since.UTC().Format("2006-01-02"))
	}
	endpoint := fmt.Sprintf("%s/v1/profiles/%s/posts?%s", c.baseURL, url.PathEscape(target), query.Encode())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build scraper request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch %s: %w: %w", target, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, target)
	}

	var payload postsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode scraper response for %s: %w", target, err)
	}

	records := make([]models.ContentRecord, 0, len(payload.Items))
	for _, item := range payload.Items {
		owner := item.OwnerUsername
		if owner == "" {
			owner = target
		}
		records = append(records, models.ContentRecord{
			ID:        item.ID,
			Owner:     owner,
			Target:    target,
			Platform:  item.Platform,
			URL:       item.URL,
			Caption:   item.Caption,
			Thumbnail: item.ThumbnailURL,
			PostedAt:  item.Timestamp,
			Views:     item.ViewCount,
			Likes:     item.LikeCount,
			Comments:  item.CommentCount,
		})
	}
	return records, nil
}

func classify(resp *http.Response, target string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("fetch %s: %w", target, ErrRateLimited)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("fetch %s: %w: status %d", target, ErrUnavailable, resp.StatusCode)
	}

	message := strings.TrimSpace(string(body))
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			message = payload.Message
		} else if payload.Error != "" {
			message = payload.Error
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &UpstreamError{Status: resp.StatusCode, Target: target, Message: message}
}
