package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// VectorType is one of the four textual facets independently embedded per
// resource. The matcher searches each facet's sub-index separately before
// merging.
type VectorType string

const (
	VectorTypeName         VectorType = "name"
	VectorTypeDescription  VectorType = "description"
	VectorTypeCapabilities VectorType = "capabilities"
	VectorTypeComposite    VectorType = "composite"
)

// AllVectorTypes returns the vector types in a stable order.
func AllVectorTypes() []VectorType {
	return []VectorType{
		VectorTypeName,
		VectorTypeDescription,
		VectorTypeCapabilities,
		VectorTypeComposite,
	}
}

// ResourceVector is one embedded facet of a resource. At most one row exists
// per (resource_id, vector_type); the embedding dimension is fixed per model.
type ResourceVector struct {
	ResourceID string     `json:"resource_id"`
	VectorType VectorType `json:"vector_type"`
	SourceText string     `json:"source_text"`
	Embedding  []float32  `json:"-"`
	ModelName  string     `json:"model_name"`
	Norm       float64    `json:"norm"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BuildSourceText returns the text embedded for one facet of a resource.
// An empty result means the facet has no signal and is skipped entirely
// rather than embedded as an empty string.
func BuildSourceText(r *Resource, vt VectorType) string {
	switch vt {
	case VectorTypeName:
		return strings.TrimSpace(r.Name)
	case VectorTypeDescription:
		return strings.TrimSpace(r.Description)
	case VectorTypeCapabilities:
		return strings.TrimSpace(strings.Join(r.Capabilities, ", "))
	case VectorTypeComposite:
		return fmt.Sprintf("name: %s\ndescription: %s\ncapabilities: %s\ntype: %s",
			strings.TrimSpace(r.Name),
			strings.TrimSpace(r.Description),
			strings.TrimSpace(strings.Join(r.Capabilities, ", ")),
			r.Type)
	default:
		return ""
	}
}

// L2Norm returns the Euclidean norm of an embedding.
func L2Norm(embedding []float32) float64 {
	var sum float64
	for _, v := range embedding {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
