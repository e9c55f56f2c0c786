// Package subscription resolves the subscription tier of the signed-in user.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/scout/internal/models"
)

// ErrUnavailable indicates the subscription service could not answer.
var ErrUnavailable = errors.New("subscription service unavailable")

// Checker reports the subscription status for an access token.
type Checker interface {
	Check(ctx context.Context, accessToken string) (models.SubscriptionStatus, error)
}

// HTTPDoer is the subset of http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the subscription status endpoint.
type Client struct {
	url     string
	http    HTTPDoer
	timeout time.Duration
}

// NewClient constructs a Client for the endpoint at url.
func NewClient(url string, timeout time.Duration, doer HTTPDoer) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{url: strings.TrimSpace(url), http: doer, timeout: timeout}
}

type statusResponse struct {
	Subscribed        bool   `json:"subscribed"`
	Tier              string `json:"subscription_tier"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// Check implements Checker.
func (c *Client) Check(ctx context.Context, accessToken string) (models.SubscriptionStatus, error) {
	if c.url == "" {
		return models.SubscriptionStatus{Tier: models.TierFree}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, nil)
	if err != nil {
		return models.SubscriptionStatus{}, fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.SubscriptionStatus{}, fmt.Errorf("check subscription: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.SubscriptionStatus{}, fmt.Errorf("check subscription: %w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.SubscriptionStatus{}, fmt.Errorf("decode subscription status: %w", err)
	}

	tier := models.TierFree
	if payload.Subscribed {
		tier = models.ParseTier(payload.Tier)
	}
	return models.SubscriptionStatus{Tier: tier, CanceledAtPeriodEnd: payload.CancelAtPeriodEnd}, nil
}
