package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ResourceType is the closed set of resource kinds the engine catalogs.
type ResourceType string

const (
	ResourceTypeConnection   ResourceType = "connection"
	ResourceTypeAPI          ResourceType = "api"
	ResourceTypeTool         ResourceType = "tool"
	ResourceTypeKnowledge    ResourceType = "knowledge"
	ResourceTypeExampleStore ResourceType = "example_store"
)

// AllResourceTypes returns every resource kind in a stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceTypeConnection,
		ResourceTypeAPI,
		ResourceTypeTool,
		ResourceTypeKnowledge,
		ResourceTypeExampleStore,
	}
}

// ResourceStatus is the catalog-visibility state of a resource.
type ResourceStatus string

const (
	ResourceStatusActive   ResourceStatus = "active"
	ResourceStatusInactive ResourceStatus = "inactive"
	ResourceStatusError    ResourceStatus = "error"
)

// VectorizationStatus tracks embedding freshness per resource.
type VectorizationStatus string

const (
	VectorizationPending    VectorizationStatus = "pending"
	VectorizationProcessing VectorizationStatus = "processing"
	VectorizationCompleted  VectorizationStatus = "completed"
	VectorizationFailed     VectorizationStatus = "failed"
)

// Resource is a uniform catalog entry for any discoverable capability:
// a data connection, an API, a callable tool, a knowledge source, or a
// query-example store. Content fields are only ever written by the
// discovery coordinator; the matcher reads them.
type Resource struct {
	ResourceID          string              `json:"resource_id"` // Globally unique, stable across rediscovery
	Type                ResourceType        `json:"resource_type"`
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	Capabilities        []string            `json:"capabilities"`
	UsageInfo           map[string]any      `json:"usage_info"` // How to invoke the resource, keys enumerated per type
	Metadata            map[string]any      `json:"metadata"`   // Opaque pass-through from the backing registry
	Status              ResourceStatus      `json:"status"`
	SourceRef           string              `json:"source_ref"` // "<origin table>:<origin id>" for traceability
	VectorizationStatus VectorizationStatus `json:"vectorization_status"`
	ContentHash         string              `json:"content_hash"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
	LastVectorizedAt    *time.Time          `json:"last_vectorized_at,omitempty"`
}

// resourceContent is the canonical projection of a Resource's content fields
// used for change detection. Timestamps and lifecycle fields are excluded.
type resourceContent struct {
	Type         ResourceType   `json:"resource_type"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities"`
	UsageInfo    map[string]any `json:"usage_info"`
	Metadata     map[string]any `json:"metadata"`
	SourceRef    string         `json:"source_ref"`
}

// ComputeContentHash returns a SHA-256 hex digest over the resource's content
// fields. encoding/json sorts map keys, so the digest is stable for equal
// content regardless of map iteration order.
func (r *Resource) ComputeContentHash() string {
	data, err := json.Marshal(resourceContent{
		Type:         r.Type,
		Name:         r.Name,
		Description:  r.Description,
		Capabilities: r.Capabilities,
		UsageInfo:    r.UsageInfo,
		Metadata:     r.Metadata,
		SourceRef:    r.SourceRef,
	})
	if err != nil {
		// Marshal of plain maps/slices/strings cannot fail; an unmarshalable
		// value planted in metadata still needs a distinct, stable hash.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MetadataFloat reads a numeric metadata value, tolerating the types JSON
// and YAML decoding produce. ok is false when the key is absent or not numeric.
func (r *Resource) MetadataFloat(key string) (float64, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	switch v := r.Metadata[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
