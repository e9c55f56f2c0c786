package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidfriends/scout/internal/models"
)

func testToken(sub string, exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, _ := json.Marshal(map[string]any{"sub": sub, "exp": exp.Unix()})
	return header + "." + base64.RawURLEncoding.EncodeToString(claims) + ".sig"
}

func testSession(userID string, expiresAt time.Time) models.Session {
	return models.Session{
		UserID:       userID,
		AccessToken:  testToken(userID, expiresAt),
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    expiresAt,
	}
}

type stubProvider struct {
	mu sync.Mutex

	refreshFn func(ctx context.Context, refreshToken string) (models.Session, error)
	verifyErr error

	refreshCalls atomic.Int32
	verifyCalls  atomic.Int32
	signOuts     atomic.Int32
}

func (p *stubProvider) RefreshSession(ctx context.Context, refreshToken string) (models.Session, error) {
	p.refreshCalls.Add(1)
	p.mu.Lock()
	fn := p.refreshFn
	p.mu.Unlock()
	if fn == nil {
		return models.Session{}, ErrRefreshRejected
	}
	return fn(ctx, refreshToken)
}

func (p *stubProvider) VerifyToken(_ context.Context, _ string) error {
	p.verifyCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyErr
}

func (p *stubProvider) SignOut(_ context.Context, _ string) error {
	p.signOuts.Add(1)
	return nil
}

type countingPurger struct {
	purges atomic.Int32
}

func (c *countingPurger) Purge() {
	c.purges.Add(1)
}

type memoryPersister struct {
	mu      sync.Mutex
	session *models.Session
	saves   int
	clears  int
}

func (m *memoryPersister) Load(context.Context) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return models.Session{}, ErrNoSession
	}
	return *m.session, nil
}

func (m *memoryPersister) Save(_ context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &session
	m.saves++
	return nil
}

func (m *memoryPersister) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.clears++
	return nil
}
