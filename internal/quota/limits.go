package quota

import (
	"encoding/json"
	"strconv"

	"github.com/vidfriends/scout/internal/models"
)

// Limit is a per-window allowance. Negative values mean unbounded.
type Limit int

// Unlimited is the allowance of tiers without a per-window maximum.
const Unlimited Limit = -1

// Unbounded reports whether the limit has no maximum.
func (l Limit) Unbounded() bool {
	return l < 0
}

func (l Limit) String() string {
	if l.Unbounded() {
		return "unlimited"
	}
	return strconv.Itoa(int(l))
}

// MarshalJSON renders unbounded limits as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.Unbounded() {
		return []byte("null"), nil
	}
	return json.Marshal(int(l))
}

// FreeMaxPerWindow is the Free tier allowance. The tier-change reset policy
// compares usage against it regardless of the tier being left.
const FreeMaxPerWindow = 3

// Limits are the two independent tier limits: how many searches a window
// allows and how many videos a single search may request per target.
type Limits struct {
	MaxPerWindow    Limit
	VideosPerSearch int
}

var tierLimits = map[models.Tier]Limits{
	models.TierFree:  {MaxPerWindow: FreeMaxPerWindow, VideosPerSearch: 5},
	models.TierPro:   {MaxPerWindow: 25, VideosPerSearch: 25},
	models.TierUltra: {MaxPerWindow: Unlimited, VideosPerSearch: 50},
}

// LimitsFor returns the limits of tier. Unknown tiers get Free limits.
func LimitsFor(tier models.Tier) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[models.TierFree]
}
