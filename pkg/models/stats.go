package models

import "time"

// EngineStatistics is the administrative snapshot returned by the engine's
// get-statistics operation.
type EngineStatistics struct {
	// ResourcesByType counts catalog entries per resource kind.
	ResourcesByType map[ResourceType]int64 `json:"resources_by_type"`

	// ResourcesByStatus counts catalog entries per status.
	ResourcesByStatus map[ResourceStatus]int64 `json:"resources_by_status"`

	// VectorizationByStatus counts resources per vectorization state.
	VectorizationByStatus map[VectorizationStatus]int64 `json:"vectorization_by_status"`

	// VectorCount is the total number of stored embedding rows.
	VectorCount int64 `json:"vector_count"`

	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus `json:"last_sync_status,omitempty"`

	// MatchCount and AvgMatchLatencyMs cover the trailing stats window.
	MatchCount        int64   `json:"match_count"`
	AvgMatchLatencyMs float64 `json:"avg_match_latency_ms"`
}
