package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/scout/internal/models"
)

// Provider is the managed auth backend.
type Provider interface {
	// RefreshSession exchanges a refresh token for a new session. It fails with
	// ErrRefreshRejected or ErrNetwork.
	RefreshSession(ctx context.Context, refreshToken string) (models.Session, error)
	// VerifyToken asks the backend whether accessToken is still acceptable. It
	// fails with ErrTokenRejected or ErrNetwork.
	VerifyToken(ctx context.Context, accessToken string) error
	// SignOut revokes the session server-side.
	SignOut(ctx context.Context, accessToken string) error
}

// HTTPDoer is the subset of http.Client used by HTTPProvider.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProvider talks to a GoTrue-compatible auth API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
	now     func() time.Time
}

// NewHTTPProvider constructs a Provider for the auth API at baseURL.
func NewHTTPProvider(baseURL, apiKey string, client HTTPDoer) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		now:     time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

type errorResponse struct {
	Error       string `json:"error"`
	ErrorCode   string `json:"error_code"`
	Description string `json:"error_description"`
	Message     string `json:"msg"`
}

func (e errorResponse) code() string {
	for _, v := range []string{e.ErrorCode, e.Error} {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

func (e errorResponse) detail() string {
	for _, v := range []string{e.Description, e.Message, e.Error} {
		if v != "" {
			return v
		}
	}
	return ""
}

// RefreshSession implements Provider.
func (p *HTTPProvider) RefreshSession(ctx context.Context, refreshToken string) (models.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return models.Session{}, fmt.Errorf("%w: refresh token is empty", ErrRefreshRejected)
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return models.Session{}, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, "/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return models.Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Session{}, fmt.Errorf("refresh session: %w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Session{}, classifyFailure(resp, ErrRefreshRejected, "refresh session")
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.Session{}, fmt.Errorf("refresh session: %w: decode response: %w", ErrNetwork, err)
	}
	if payload.AccessToken == "" {
		return models.Session{}, fmt.Errorf("refresh session: %w: response missing access token", ErrNetwork)
	}

	expiresAt := time.Unix(payload.ExpiresAt, 0).UTC()
	if payload.ExpiresAt == 0 {
		expiresAt = p.now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	refresh := payload.RefreshToken
	if refresh == "" {
		refresh = refreshToken
	}

	return models.Session{
		UserID:       payload.User.ID,
		AccessToken:  payload.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// VerifyToken implements Provider.
func (p *HTTPProvider) VerifyToken(ctx context.Context, accessToken string) error {
	req, err := p.newRequest(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("verify token: %w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classifyFailure(resp, ErrTokenRejected, "verify token")
}

// SignOut implements Provider.
func (p *HTTPProvider) SignOut(ctx context.Context, accessToken string) error {
	req, err := p.newRequest(ctx, http.MethodPost, "/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sign out: %w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sign out: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}
	return req, nil
}

// classifyFailure maps client errors onto rejected and everything else onto
// ErrNetwork.
func classifyFailure(resp *http.Response, rejected error, op string) error {
	var payload errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%s: %w: status %d", op, ErrNetwork, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %s: %s", op, rejected, payload.code(), payload.detail())
	default:
		return fmt.Errorf("%s: %w: unexpected status %d", op, ErrNetwork, resp.StatusCode)
	}
}
