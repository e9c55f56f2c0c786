package search

import (
	"net/url"
	"strings"

	"github.com/vidfriends/scout/internal/models"
)

// NormalizeTarget reduces a handle or profile URL to a comparable key:
// lower case, no leading "@", profile URLs reduced to their last path segment.
func NormalizeTarget(target string) string {
	key := strings.ToLower(strings.TrimSpace(target))

	if strings.Contains(key, "://") {
		if u, err := url.Parse(key); err == nil {
			key = u.Path
		}
	} else if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}

	key = strings.TrimRight(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	return strings.TrimPrefix(key, "@")
}

// dedupeTargets keeps the first target for each normalized key.
func dedupeTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, target := range targets {
		target = strings.TrimSpace(target)
		key := NormalizeTarget(target)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, target)
	}
	return out
}

// TargetResult groups the records returned for one requested target.
type TargetResult struct {
	Target  string                 `json:"target"`
	Records []models.ContentRecord `json:"records"`
}

// partition assigns each record to the requested target whose key matches the
// record owner. Records are tagged with the requested target string. Records
// without a matching target are returned separately.
func partition(targets []string, results []models.SearchResult) ([]TargetResult, []models.ContentRecord) {
	index := make(map[string]int, len(targets))
	grouped := make([]TargetResult, len(targets))
	for i, target := range targets {
		grouped[i] = TargetResult{Target: target, Records: []models.ContentRecord{}}
		index[NormalizeTarget(target)] = i
	}

	var unmatched []models.ContentRecord
	for _, result := range results {
		for _, record := range result.Items {
			owner := record.Owner
			if owner == "" {
				owner = result.ForTarget
			}
			i, ok := index[NormalizeTarget(owner)]
			if !ok {
				unmatched = append(unmatched, record)
				continue
			}
			record.Target = grouped[i].Target
			grouped[i].Records = append(grouped[i].Records, record)
		}
	}
	return grouped, unmatched
}

func flatten(grouped []TargetResult) []models.ContentRecord {
	total := 0
	for _, g := range grouped {
		total += len(g.Records)
	}
	out := make([]models.ContentRecord, 0, total)
	for _, g := range grouped {
		out = append(out, g.Records...)
	}
	return out
}
