package quota

import "github.com/vidfriends/scout/internal/models"

// Decision is the outcome of a quota evaluation. Remaining is the allowance left
// in the window before the evaluated request.
type Decision struct {
	Allowed   bool
	Remaining Limit
}

// Evaluate decides whether a request for requested units may run when used units
// of the tier's window are already consumed. A bulk request is one
// all-or-nothing check.
func Evaluate(tier models.Tier, used, requested int) Decision {
	limit := LimitsFor(tier).MaxPerWindow
	if limit.Unbounded() {
		return Decision{Allowed: true, Remaining: Unlimited}
	}

	if used < 0 {
		used = 0
	}
	if requested < 0 {
		requested = 0
	}

	remaining := int(limit) - used
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   used+requested <= int(limit),
		Remaining: Limit(remaining),
	}
}

// ClampVideos caps a requested videos-per-target count at the tier's per-search
// cap. Non-positive requests take the cap.
func ClampVideos(tier models.Tier, requested int) int {
	limit := LimitsFor(tier).VideosPerSearch
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}
