package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vidfriends/scout/internal/models"
)

// Persister keeps the device session across process restarts.
type Persister interface {
	Load(ctx context.Context) (models.Session, error)
	Save(ctx context.Context, session models.Session) error
	Clear(ctx context.Context) error
}

// Listener receives auth events. Listeners run synchronously on the writer's
// goroutine and must not block.
type Listener func(models.AuthEvent)

// Store holds the session of the signed-in identity and publishes changes to
// subscribers. It is the only place a session is written.
type Store struct {
	persist Persister
	logger  *slog.Logger

	mu        sync.RWMutex
	session   *models.Session
	listeners map[int]Listener
	nextID    int
}

// NewStore constructs a Store. persist may be nil to keep the session in memory only.
func NewStore(persist Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		persist:   persist,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Current returns a copy of the stored session.
func (s *Store) Current() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return models.Session{}, false
	}
	return *s.session, true
}

// Restore loads the persisted session, if any, and publishes INITIAL_SESSION.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.persist == nil {
		return false, nil
	}

	session, err := s.persist.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return false, nil
		}
		return false, fmt.Errorf("restore session: %w", err)
	}
	if err := validateSession(session); err != nil {
		s.logger.Warn("discarding persisted session", "error", err)
		_ = s.persist.Clear(ctx)
		return false, nil
	}

	s.set(&session)
	published := session
	s.publish(models.AuthEvent{Kind: models.AuthInitialSession, Session: &published})
	return true, nil
}

// Replace stores a new session and publishes kind. Persistence failures are
// logged; the in-memory session is authoritative.
func (s *Store) Replace(ctx context.Context, session models.Session, kind models.AuthEventKind) error {
	if err := validateSession(session); err != nil {
		return err
	}

	s.set(&session)

	if s.persist != nil {
		if err := s.persist.Save(ctx, session); err != nil {
			s.logger.Warn("persist session failed", "userId", session.UserID, "error", err)
		}
	}

	published := session
	s.publish(models.AuthEvent{Kind: kind, Session: &published})
	return nil
}

// Clear removes the session. SIGNED_OUT is published only when a session was present.
func (s *Store) Clear(ctx context.Context) bool {
	s.mu.Lock()
	had := s.session != nil
	s.session = nil
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Clear(ctx); err != nil {
			s.logger.Warn("clear persisted session failed", "error", err)
		}
	}

	if had {
		s.publish(models.AuthEvent{Kind: models.AuthSignedOut})
	}
	return had
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) set(session *models.Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Store) publish(evt models.AuthEvent) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(evt)
	}
}

func validateSession(session models.Session) error {
	if strings.TrimSpace(session.UserID) == "" {
		return errors.New("session user id must be provided")
	}
	if strings.TrimSpace(session.AccessToken) == "" {
		return errors.New("session access token must be provided")
	}
	if session.ExpiresAt.IsZero() {
		return errors.New("session expiry must be provided")
	}
	return nil
}
