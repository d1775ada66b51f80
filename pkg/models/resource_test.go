package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testResource() *Resource {
	return &Resource{
		ResourceID:   "connection_primary",
		Type:         ResourceTypeConnection,
		Name:         "primary database",
		Description:  "main transactional database",
		Capabilities: []string{"sql execution", "table lookup"},
		UsageInfo:    map[string]any{"dialect": "postgres"},
		Metadata:     map[string]any{"owner": "data-platform", "success_rate": 0.95},
		SourceRef:    "connections:primary",
	}
}

func TestComputeContentHash_Stable(t *testing.T) {
	a := testResource()
	b := testResource()

	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash(),
		"identical content must hash identically")
	assert.Len(t, a.ComputeContentHash(), 64)
}

func TestComputeContentHash_IgnoresLifecycleFields(t *testing.T) {
	a := testResource()
	b := testResource()
	b.Status = ResourceStatusInactive
	b.VectorizationStatus = VectorizationFailed

	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash(),
		"status and vectorization state must not affect the content hash")
}

func TestComputeContentHash_ChangesWithContent(t *testing.T) {
	base := testResource()
	baseHash := base.ComputeContentHash()

	changed := testResource()
	changed.Description = "read replica"
	assert.NotEqual(t, baseHash, changed.ComputeContentHash())

	changed = testResource()
	changed.Capabilities = []string{"table lookup", "sql execution"} // order matters
	assert.NotEqual(t, baseHash, changed.ComputeContentHash())

	changed = testResource()
	changed.Metadata["owner"] = "analytics"
	assert.NotEqual(t, baseHash, changed.ComputeContentHash())
}

func TestMetadataFloat(t *testing.T) {
	r := &Resource{Metadata: map[string]any{
		"success_rate":         0.95,
		"avg_response_time_ms": 120, // int, as YAML decoding produces
		"owner":                "data-platform",
	}}

	v, ok := r.MetadataFloat("success_rate")
	assert.True(t, ok)
	assert.InDelta(t, 0.95, v, 1e-9)

	v, ok = r.MetadataFloat("avg_response_time_ms")
	assert.True(t, ok)
	assert.InDelta(t, 120, v, 1e-9)

	_, ok = r.MetadataFloat("owner")
	assert.False(t, ok, "non-numeric value")

	_, ok = r.MetadataFloat("missing")
	assert.False(t, ok)

	empty := &Resource{}
	_, ok = empty.MetadataFloat("anything")
	assert.False(t, ok, "nil metadata")
}
