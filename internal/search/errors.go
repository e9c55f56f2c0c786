package search

import (
	"errors"
	"fmt"

	"github.com/vidfriends/scout/internal/models"
	"github.com/vidfriends/scout/internal/quota"
)

// MaxBulkTargets is the largest number of targets a bulk search accepts.
const MaxBulkTargets = 20

// ErrNotConfigured indicates the orchestrator is missing a collaborator.
var ErrNotConfigured = errors.New("search orchestrator not configured")

// ValidationError reports a request rejected before quota or dispatch.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// QuotaExceededError reports a request that would exceed the window allowance.
type QuotaExceededError struct {
	Used      int
	Max       quota.Limit
	Requested int
	Tier      models.Tier
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("you're out of searches: used %d of %s on the %s plan", e.Used, e.Max, e.Tier)
}
