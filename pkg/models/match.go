package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Feedback is the outcome a caller reports for a match.
type Feedback string

const (
	FeedbackNone     Feedback = "none"
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
	FeedbackNeutral  Feedback = "neutral"
)

// MatchCandidate is one ranked result of a match call, carrying both the
// caller-facing fields and the per-signal score breakdown for auditability.
type MatchCandidate struct {
	ResourceID   string         `json:"resource_id"`
	Name         string         `json:"name"`
	Type         ResourceType   `json:"resource_type"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities"`
	UsageInfo    map[string]any `json:"usage_info"`

	// Per-vector-type cosine similarities; a facet the resource has no
	// vector for is simply absent.
	Similarities map[VectorType]float64 `json:"similarities"`

	BaseSimilarity   float64 `json:"base_similarity"`
	UsagePreference  float64 `json:"usage_preference"`
	PerformanceScore float64 `json:"performance_score"`
	ContextRelevance float64 `json:"context_relevance"`

	// FinalScore is the confidence the result list is ranked by.
	FinalScore float64 `json:"confidence"`
}

// MatchRecord is the persisted audit trail of one match call. Immutable after
// creation except for SelectedResourceID and Feedback, which a feedback
// callback may set exactly once.
type MatchRecord struct {
	ID                 uuid.UUID         `json:"id"`
	QueryText          string            `json:"query_text"`
	QueryHash          string            `json:"query_hash"`
	Candidates         []*MatchCandidate `json:"candidates"`
	SelectedResourceID *string           `json:"selected_resource_id,omitempty"`
	Feedback           Feedback          `json:"feedback"`
	DurationMs         int64             `json:"duration_ms"`
	CreatedAt          time.Time         `json:"created_at"`
	FeedbackAt         *time.Time        `json:"feedback_at,omitempty"`
}

// CandidateIDs returns the resource ids of the recorded candidates in rank order.
func (m *MatchRecord) CandidateIDs() []string {
	ids := make([]string, 0, len(m.Candidates))
	for _, c := range m.Candidates {
		ids = append(ids, c.ResourceID)
	}
	return ids
}

// HashQuery returns a SHA-256 hex digest of a query text, used to group
// repeated queries in match history.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}
