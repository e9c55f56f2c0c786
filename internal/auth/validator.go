package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vidfriends/scout/internal/logging"
	"github.com/vidfriends/scout/internal/models"
)

// State is a position in the session validation state machine.
type State string

const (
	StateUnknown    State = "unknown"
	StateChecking   State = "checking"
	StateRefreshing State = "refreshing"
	StateValid      State = "valid"
	StateInvalid    State = "invalid"
)

// Transition describes one state change of the validator.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ValidatorConfig tunes the validator. Zero values take defaults.
type ValidatorConfig struct {
	// RefreshLeeway is the minimum remaining validity below which a refresh runs.
	RefreshLeeway time.Duration
	// RefreshTimeout bounds a single refresh attempt.
	RefreshTimeout time.Duration
	// RecheckInterval is the period of background re-checks and of Ensure's
	// fast path.
	RecheckInterval time.Duration
	// LoginPath is the authentication entry point used in redirects.
	LoginPath string
}

const (
	defaultRefreshLeeway   = 10 * time.Minute
	defaultRefreshTimeout  = 15 * time.Second
	defaultRecheckInterval = 5 * time.Minute
)

// Validator keeps the device session valid: it refreshes tokens close to expiry
// and signs the device out when the backend rejects the session.
type Validator struct {
	store    *Store
	provider Provider
	signOut  *SignOutHandler
	cfg      ValidatorConfig
	logger   *slog.Logger
	now      func() time.Time

	refreshes singleflight.Group

	mu         sync.Mutex
	state      State
	verifiedAt time.Time
	issued     string
	listeners  map[int]func(Transition)
	nextID     int
}

// NewValidator constructs a Validator in the Unknown state.
func NewValidator(store *Store, provider Provider, signOut *SignOutHandler, cfg ValidatorConfig, logger *slog.Logger) *Validator {
	if store == nil || provider == nil {
		panic("auth: validator requires a store and a provider")
	}
	if signOut == nil {
		signOut = NewSignOutHandler(store, provider, nil, logger)
	}
	if cfg.RefreshLeeway <= 0 {
		cfg.RefreshLeeway = defaultRefreshLeeway
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.RecheckInterval <= 0 {
		cfg.RecheckInterval = defaultRecheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		store:     store,
		provider:  provider,
		signOut:   signOut,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		state:     StateUnknown,
		listeners: make(map[int]func(Transition)),
	}
}

// WithNowFunc allows tests to override the time source.
func (v *Validator) WithNowFunc(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// State returns the current validator state.
func (v *Validator) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Current returns the stored session while the validator considers it valid.
func (v *Validator) Current() (models.Session, bool) {
	if v.State() != StateValid {
		return models.Session{}, false
	}
	return v.store.Current()
}

// Active reports whether userID still holds the device session. It stays true
// during re-checks and refreshes and turns false once the session is invalid.
func (v *Validator) Active(userID string) bool {
	if v.State() == StateInvalid {
		return false
	}
	session, ok := v.store.Current()
	return ok && session.UserID == userID
}

// Subscribe registers fn for state transitions and returns a function that removes it.
func (v *Validator) Subscribe(fn func(Transition)) func() {
	if fn == nil {
		return func() {}
	}
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.listeners, id)
			v.mu.Unlock()
		})
	}
}

// Ensure returns the session without contacting the backend when it was
// verified within RecheckInterval and is not close to expiry; otherwise it runs Check.
func (v *Validator) Ensure(ctx context.Context) (models.Session, error) {
	v.mu.Lock()
	state, verifiedAt, now := v.state, v.verifiedAt, v.now()
	v.mu.Unlock()

	if state == StateValid && now.Sub(verifiedAt) < v.cfg.RecheckInterval {
		if session, ok := v.store.Current(); ok && session.Remaining(now) >= v.cfg.RefreshLeeway {
			return session, nil
		}
	}
	return v.Check(ctx)
}

// Check validates the stored session, refreshing it when it is close to expiry.
// Terminal failures sign the device out and return *SessionInvalidError;
// retriable failures keep the session and return ErrSessionUnavailable.
func (v *Validator) Check(ctx context.Context) (models.Session, error) {
	ctx, span := logging.StartSpan(ctx, "session.check")
	defer span.End()

	session, ok := v.store.Current()
	if !ok {
		if v.State() == StateInvalid {
			// Already signed out; the notice was posted on the way in.
			redirect := LoginRedirect(v.cfg.LoginPath, DestinationFromContext(ctx))
			return models.Session{}, &SessionInvalidError{Reason: ReasonNoSession, RedirectTo: redirect, Err: ErrNoSession}
		}
		v.transition(StateChecking, "check")
		return models.Session{}, v.invalidate(ctx, ReasonNoSession, ErrNoSession)
	}
	v.transition(StateChecking, "check")

	claims, err := decodeClaims(session.AccessToken)
	if err != nil {
		return models.Session{}, v.invalidate(ctx, ReasonMalformedToken, err)
	}
	if claims.Subject != "" && claims.Subject != session.UserID {
		return models.Session{}, v.invalidate(ctx, ReasonMalformedToken, errors.New("token subject does not match session user"))
	}

	if session.Remaining(v.clock()) < v.cfg.RefreshLeeway {
		refreshed, err := v.refresh(ctx, session)
		if err != nil {
			span.Fail(err)
		}
		return refreshed, err
	}

	if err := v.provider.VerifyToken(ctx, session.AccessToken); err != nil {
		span.Fail(err)
		if errors.Is(err, ErrTokenRejected) {
			return models.Session{}, v.invalidate(ctx, ReasonTokenRejected, err)
		}
		v.transition(StateChecking, "verify_retriable")
		return models.Session{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	v.markValid("verified")
	return session, nil
}

// SignOut ends the session at the user's request.
func (v *Validator) SignOut(ctx context.Context) {
	v.transition(StateInvalid, ReasonSignedOut)
	v.signOut.SignOut(ctx, Notice{})
}

// Run re-checks the session on auth events and on a fixed interval until ctx ends.
func (v *Validator) Run(ctx context.Context) error {
	events := make(chan models.AuthEvent, 8)
	unsubscribe := v.store.Subscribe(func(evt models.AuthEvent) {
		select {
		case events <- evt:
		default:
			v.logger.Warn("auth event dropped", "kind", string(evt.Kind))
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(v.cfg.RecheckInterval)
	defer ticker.Stop()

	if _, ok := v.store.Current(); ok {
		v.runCheck(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			if v.shouldRecheck(evt) {
				v.runCheck(ctx, string(evt.Kind))
			}
		case <-ticker.C:
			if _, ok := v.store.Current(); ok {
				v.runCheck(ctx, "periodic")
			}
		}
	}
}

func (v *Validator) shouldRecheck(evt models.AuthEvent) bool {
	switch evt.Kind {
	case models.AuthSignedOut:
		return v.State() != StateInvalid
	case models.AuthTokenRefreshed:
		v.mu.Lock()
		self := evt.Session != nil && evt.Session.AccessToken == v.issued
		v.mu.Unlock()
		return !self
	default:
		return true
	}
}

func (v *Validator) runCheck(ctx context.Context, trigger string) {
	if _, err := v.Check(ctx); err != nil {
		var invalid *SessionInvalidError
		if errors.As(err, &invalid) {
			v.logger.Info("session invalidated", "trigger", trigger, "reason", invalid.Reason)
			return
		}
		v.logger.Warn("session check failed", "trigger", trigger, "error", err)
	}
}

func (v *Validator) refresh(ctx context.Context, session models.Session) (models.Session, error) {
	v.transition(StateRefreshing, "near_expiry")

	result, err, shared := v.refreshes.Do(session.RefreshToken, func() (any, error) {
		if current, ok := v.store.Current(); ok &&
			current.AccessToken != session.AccessToken &&
			current.Remaining(v.clock()) >= v.cfg.RefreshLeeway {
			return current, nil
		}

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.cfg.RefreshTimeout)
		defer cancel()

		fresh, err := v.provider.RefreshSession(refreshCtx, session.RefreshToken)
		if err != nil {
			if errors.Is(refreshCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrRefreshRejected) {
				return nil, fmt.Errorf("%w: refresh timed out after %s: %w", ErrNetwork, v.cfg.RefreshTimeout, err)
			}
			return nil, err
		}
		if fresh.UserID == "" {
			fresh.UserID = session.UserID
		}

		v.mu.Lock()
		v.issued = fresh.AccessToken
		v.mu.Unlock()

		if err := v.store.Replace(refreshCtx, fresh, models.AuthTokenRefreshed); err != nil {
			return nil, fmt.Errorf("%w: store refreshed session: %w", ErrNetwork, err)
		}
		return fresh, nil
	})
	if shared {
		logging.FromContext(ctx).Debug("joined in-flight session refresh")
	}

	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			return models.Session{}, v.invalidate(ctx, ReasonRefreshRejected, err)
		}
		v.transition(StateChecking, "refresh_retriable")
		return models.Session{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	v.markValid("refreshed")
	return result.(models.Session), nil
}

// invalidate moves the validator to StateInvalid. Only the caller that makes
// the move signs the device out, so joined refreshes post a single notice.
func (v *Validator) invalidate(ctx context.Context, reason string, cause error) error {
	redirect := LoginRedirect(v.cfg.LoginPath, DestinationFromContext(ctx))
	if v.transition(StateInvalid, reason) {
		v.signOut.SignOut(ctx, noticeFor(reason, redirect))
	}
	return &SessionInvalidError{Reason: reason, RedirectTo: redirect, Err: cause}
}

func noticeFor(reason, redirect string) Notice {
	if reason == ReasonNoSession {
		return Notice{
			Kind:       NoticeSignedOut,
			Message:    "You're signed out. Please sign in to continue.",
			RedirectTo: redirect,
		}
	}
	return Notice{
		Kind:       NoticeSessionExpired,
		Message:    "Your session has expired. Please sign in again.",
		RedirectTo: redirect,
	}
}

func (v *Validator) markValid(reason string) {
	v.mu.Lock()
	v.verifiedAt = v.now()
	v.mu.Unlock()
	v.transition(StateValid, reason)
}

func (v *Validator) clock() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now()
}

// transition reports whether the state changed.
func (v *Validator) transition(to State, reason string) bool {
	v.mu.Lock()
	from := v.state
	if from == to {
		v.mu.Unlock()
		return false
	}
	v.state = to
	t := Transition{From: from, To: to, Reason: reason, At: v.now().UTC()}
	listeners := make([]func(Transition), 0, len(v.listeners))
	for _, fn := range v.listeners {
		listeners = append(listeners, fn)
	}
	v.mu.Unlock()

	v.logger.Debug("session state changed", "from", string(from), "to", string(to), "reason", reason)
	for _, fn := range listeners {
		fn(t)
	}
	return true
}
