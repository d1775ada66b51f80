package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/resource-engine/pkg/config"
	"github.com/ekaya-inc/resource-engine/pkg/models"
	"github.com/ekaya-inc/resource-engine/pkg/providers"
)

func testResource(id string, kind models.ResourceType, name, description string, capabilities ...string) *models.Resource {
	return &models.Resource{
		ResourceID:   id,
		Type:         kind,
		Name:         name,
		Description:  description,
		Capabilities: capabilities,
		SourceRef:    "test:" + id,
	}
}

func newTestCoordinator(t *testing.T, f *fakes, provs ...providers.ResourceProvider) DiscoveryCoordinator {
	t.Helper()

	registry := providers.NewRegistry()
	for _, p := range provs {
		require.NoError(t, registry.Register(p))
	}
	return NewDiscoveryCoordinator(
		config.DiscoveryConfig{Concurrency: 2, ProviderTimeoutSeconds: 5},
		registry, f.resources, f.vectors, zap.NewNop())
}

func TestDiscoverAllInsertsNewResources(t *testing.T) {
	f := newFakes()
	coord := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
			testResource("connection_db2", models.ResourceTypeConnection, "replica db", "read replica"),
		}},
		&fakeProvider{name: "tools", kind: models.ResourceTypeTool, resources: []*models.Resource{
			testResource("tool_search", models.ResourceTypeTool, "search", "keyword search"),
		}},
	)

	report, err := coord.DiscoverAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Unchanged)
	assert.Equal(t, 2, report.ByProvider["connections"])
	assert.Equal(t, 1, report.ByProvider["tools"])
	assert.Empty(t, report.Errors)

	stored, err := f.resources.Get(context.Background(), "connection_db1")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusActive, stored.Status)
	assert.Equal(t, models.VectorizationPending, stored.VectorizationStatus)
	assert.NotEmpty(t, stored.ContentHash)
}

func TestDiscoverAllIsIdempotent(t *testing.T) {
	f := newFakes()
	coord := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
		}},
	)

	_, err := coord.DiscoverAll(context.Background())
	require.NoError(t, err)

	// Mark it vectorized; an unchanged rediscovery must not reset that.
	require.NoError(t, f.vectors.ReplaceForResource(context.Background(), "connection_db1", nil, nil))

	report, err := coord.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Discovered)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Unchanged)

	stored, err := f.resources.Get(context.Background(), "connection_db1")
	require.NoError(t, err)
	assert.Equal(t, models.VectorizationCompleted, stored.VectorizationStatus)
}

func TestDiscoverAllDetectsContentChange(t *testing.T) {
	f := newFakes()
	coord := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
		}},
	)
	_, err := coord.DiscoverAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.vectors.ReplaceForResource(context.Background(), "connection_db1", nil, nil))

	changed := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main analytics database"),
		}},
	)
	report, err := changed.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Unchanged)

	stored, err := f.resources.Get(context.Background(), "connection_db1")
	require.NoError(t, err)
	assert.Equal(t, "main analytics database", stored.Description)
	assert.Equal(t, models.VectorizationPending, stored.VectorizationStatus)
}

func TestDiscoverAllIsolatesProviderFailure(t *testing.T) {
	f := newFakes()

	// Seed a tool resource from an earlier successful run.
	seed := newTestCoordinator(t, f,
		&fakeProvider{name: "tools", kind: models.ResourceTypeTool, resources: []*models.Resource{
			testResource("tool_search", models.ResourceTypeTool, "search", "keyword search"),
		}},
	)
	_, err := seed.DiscoverAll(context.Background())
	require.NoError(t, err)

	coord := newTestCoordinator(t, f,
		&fakeProvider{name: "tools", kind: models.ResourceTypeTool, err: errors.New("mcp server unreachable")},
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
		}},
	)

	report, err := coord.DiscoverAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Discovered)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "tools", report.Errors[0].Provider)
	assert.Contains(t, report.Errors[0].Message, "unreachable")

	// The failed provider's resources survive the run untouched.
	assert.Equal(t, 0, report.Deactivated)
	stored, err := f.resources.Get(context.Background(), "tool_search")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusActive, stored.Status)
}

func TestDiscoverAllRejectsDuplicateIDs(t *testing.T) {
	f := newFakes()
	coord := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("shared_id", models.ResourceTypeConnection, "primary db", "main database"),
		}},
		&fakeProvider{name: "tools", kind: models.ResourceTypeTool, resources: []*models.Resource{
			testResource("shared_id", models.ResourceTypeTool, "search", "keyword search"),
		}},
	)

	report, err := coord.DiscoverAll(context.Background())
	require.NoError(t, err)

	// First registered provider wins; the duplicate is reported.
	assert.Equal(t, 1, report.Discovered)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "tools", report.Errors[0].Provider)

	stored, err := f.resources.Get(context.Background(), "shared_id")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceTypeConnection, stored.Type)
}

func TestDiscoverAllDeactivatesVanishedResources(t *testing.T) {
	f := newFakes()
	seed := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
			testResource("connection_db2", models.ResourceTypeConnection, "replica db", "read replica"),
		}},
	)
	_, err := seed.DiscoverAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.vectors.ReplaceForResource(context.Background(), "connection_db2", []*models.ResourceVector{
		{ResourceID: "connection_db2", VectorType: models.VectorTypeName, SourceText: "replica db", Embedding: []float32{1, 0}, ModelName: "m"},
	}, nil))

	shrunk := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
		}},
	)
	report, err := shrunk.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deactivated)

	stored, err := f.resources.Get(context.Background(), "connection_db2")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusInactive, stored.Status)

	// Deactivated resources drop out of the index entirely.
	hits, err := f.vectors.Search(context.Background(), models.VectorTypeName, []float32{1, 0}, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "connection_db2", h.ResourceID)
	}
	vecs, err := f.vectors.GetByResource(context.Background(), "connection_db2")
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestDiscoverAllReactivatesReturnedResource(t *testing.T) {
	f := newFakes()
	provider := func() *fakeProvider {
		return &fakeProvider{name: "connections", kind: models.ResourceTypeConnection, resources: []*models.Resource{
			testResource("connection_db1", models.ResourceTypeConnection, "primary db", "main database"),
		}}
	}

	_, err := newTestCoordinator(t, f, provider()).DiscoverAll(context.Background())
	require.NoError(t, err)

	empty := newTestCoordinator(t, f,
		&fakeProvider{name: "connections", kind: models.ResourceTypeConnection})
	_, err = empty.DiscoverAll(context.Background())
	require.NoError(t, err)

	report, err := newTestCoordinator(t, f, provider()).DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	stored, err := f.resources.Get(context.Background(), "connection_db1")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusActive, stored.Status)
	assert.Equal(t, models.VectorizationPending, stored.VectorizationStatus)
}

func TestPurgeInactiveHardDeletes(t *testing.T) {
	f := newFakes()
	coord := newTestCoordinator(t, f)

	old := testResource("connection_old", models.ResourceTypeConnection, "old", "gone")
	require.NoError(t, f.resources.Upsert(context.Background(), old))
	require.NoError(t, f.resources.SetStatus(context.Background(), []string{"connection_old"}, models.ResourceStatusInactive))

	// Not old enough yet.
	n, err := coord.PurgeInactive(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = coord.PurgeInactive(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.resources.Get(context.Background(), "connection_old")
	assert.Error(t, err)
}
