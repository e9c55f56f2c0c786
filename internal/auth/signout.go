package auth

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// CachePurger drops cached per-user query data.
type CachePurger interface {
	Purge()
}

// Notice kinds posted on sign-out.
const (
	NoticeSessionExpired = "session_expired"
	NoticeSignedOut      = "signed_out"
)

// Notice is a user-facing message produced by the session lifecycle.
type Notice struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	RedirectTo string    `json:"redirectTo,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier delivers notices to the presentation layer.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

type destinationKey struct{}

// WithDestination records where the caller was headed so a forced sign-out
// can send them back after login.
func WithDestination(ctx context.Context, destination string) context.Context {
	if strings.TrimSpace(destination) == "" {
		return ctx
	}
	return context.WithValue(ctx, destinationKey{}, destination)
}

// DestinationFromContext returns the destination stored by WithDestination.
func DestinationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	dest, _ := ctx.Value(destinationKey{}).(string)
	return dest
}

// LoginRedirect builds the login entry point URL preserving destination.
func LoginRedirect(loginPath, destination string) string {
	if loginPath == "" {
		loginPath = "/login"
	}
	if strings.TrimSpace(destination) == "" {
		return loginPath
	}
	sep := "?"
	if strings.Contains(loginPath, "?") {
		sep = "&"
	}
	return loginPath + sep + url.Values{"next": {destination}}.Encode()
}

// SignOutHandler performs the local and remote cleanup of a sign-out.
type SignOutHandler struct {
	store    *Store
	provider Provider
	caches   []CachePurger
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewSignOutHandler wires the collaborators cleared on sign-out.
func NewSignOutHandler(store *Store, provider Provider, notifier Notifier, logger *slog.Logger, caches ...CachePurger) *SignOutHandler {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignOutHandler{
		store:    store,
		provider: provider,
		caches:   caches,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SignOut purges caches, clears the stored session, revokes it remotely on a
// best-effort basis and posts notice if non-empty.
func (h *SignOutHandler) SignOut(ctx context.Context, notice Notice) {
	for _, c := range h.caches {
		if c != nil {
			c.Purge()
		}
	}

	session, had := h.store.Current()
	h.store.Clear(ctx)

	if had && h.provider != nil {
		revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := h.provider.SignOut(revokeCtx, session.AccessToken); err != nil {
			h.logger.Debug("remote sign-out failed", "userId", session.UserID, "error", err)
		}
		cancel()
	}

	if notice.Kind != "" && h.notifier != nil {
		if notice.At.IsZero() {
			notice.At = h.now().UTC()
		}
		h.notifier.Notify(ctx, notice)
	}
}

// NoticeBoard keeps the most recent notices until the presentation layer drains them.
type NoticeBoard struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

// NewNoticeBoard returns a board holding at most limit notices.
func NewNoticeBoard(limit int) *NoticeBoard {
	if limit <= 0 {
		limit = 16
	}
	return &NoticeBoard{limit: limit}
}

// Notify implements Notifier.
func (b *NoticeBoard) Notify(_ context.Context, notice Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, notice)
	if over := len(b.notices) - b.limit; over > 0 {
		b.notices = append([]Notice(nil), b.notices[over:]...)
	}
}

// Drain returns and removes the pending notices, oldest first.
func (b *NoticeBoard) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}
