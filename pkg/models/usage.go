package models

import "time"

// UsageStats is the per-resource, per-day aggregate the reranker's
// usage-preference signal reads. Derived from match history and fully
// rebuildable from it.
type UsageStats struct {
	ResourceID     string    `json:"resource_id"`
	Day            time.Time `json:"day"` // Date only, UTC
	MatchCount     int64     `json:"match_count"`
	SelectionCount int64     `json:"selection_count"`
	PositiveCount  int64     `json:"positive_count"`
	NegativeCount  int64     `json:"negative_count"`
	AvgSimilarity  float64   `json:"avg_similarity"`
	AvgDurationMs  float64   `json:"avg_duration_ms"`
}
