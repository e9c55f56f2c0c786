package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited indicates the scraping backend throttled the request.
	ErrRateLimited = errors.New("scraping backend rate limited the request")
	// ErrUnavailable indicates the scraping backend could not be reached. Retriable.
	ErrUnavailable = errors.New("scraping backend unavailable")
	// ErrNotConfigured indicates no backend URL was provided.
	ErrNotConfigured = errors.New("scraping backend not configured")
)

// UpstreamError carries a failure reported by the scraping backend. Message is
// surfaced to callers verbatim.
type UpstreamError struct {
	Status  int
	Target  string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream status %d for %s: %s", e.Status, e.Target, e.Message)
}
