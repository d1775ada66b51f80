package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderError records a provider failure during a discovery run.
// Provider failures are isolated; they never abort the run.
type ProviderError struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

// DiscoveryReport summarizes one discovery run.
type DiscoveryReport struct {
	Discovered  int `json:"discovered"`  // New resources inserted
	Updated     int `json:"updated"`     // Existing resources whose content changed
	Unchanged   int `json:"unchanged"`   // Existing resources re-seen with identical content
	Deactivated int `json:"deactivated"` // Previously active resources absent from this run

	// ByProvider counts resources each provider enumerated this run.
	ByProvider map[string]int `json:"by_provider"`

	Errors   []ProviderError `json:"errors,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// SyncKind distinguishes incremental runs from explicit full resyncs.
type SyncKind string

const (
	SyncKindIncremental SyncKind = "incremental"
	SyncKindFull        SyncKind = "full"
)

// SyncStatus is the lifecycle state of a sync checkpoint.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncCheckpoint is the persisted progress marker for an incremental sync
// run. Processed is advanced after each completed batch, so a restarted sync
// resumes from the last completed batch rather than from scratch.
type SyncCheckpoint struct {
	ID          uuid.UUID  `json:"id"`
	Kind        SyncKind   `json:"kind"`
	Status      SyncStatus `json:"status"`
	ChangedIDs  []string   `json:"changed_ids"`
	Processed   int        `json:"processed"`
	BatchSize   int        `json:"batch_size"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Remaining returns the changed ids not yet covered by a completed batch.
func (c *SyncCheckpoint) Remaining() []string {
	if c.Processed >= len(c.ChangedIDs) {
		return nil
	}
	return c.ChangedIDs[c.Processed:]
}
