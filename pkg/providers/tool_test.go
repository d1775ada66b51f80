package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/resource-engine/pkg/models"
)

type fakeToolLister struct {
	tools []mcp.Tool
	err   error
}

func (f *fakeToolLister) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tools, nil
}

func (f *fakeToolLister) ServerURL() string {
	return "http://mcp.internal/mcp"
}

func TestToolProvider_Discover(t *testing.T) {
	lister := &fakeToolLister{tools: []mcp.Tool{
		{
			Name:        "execute_query",
			Description: "Run a SQL query against the project datasource",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"sql":    map[string]any{"type": "string"},
					"params": map[string]any{"type": "array"},
				},
				Required: []string{"sql"},
			},
		},
	}}

	resources, err := NewToolProvider(lister).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)

	r := resources[0]
	assert.Equal(t, "tool_execute_query", r.ResourceID)
	assert.Equal(t, models.ResourceTypeTool, r.Type)
	assert.Equal(t, "execute_query", r.Name)
	assert.Equal(t, []string{"params", "sql"}, r.Capabilities, "schema properties, sorted")
	assert.Equal(t, "mcp_tools:execute_query", r.SourceRef)
	assert.Equal(t, "http://mcp.internal/mcp", r.UsageInfo["server_url"])
	assert.Equal(t, "execute_query", r.UsageInfo["tool_name"])
}

func TestToolProvider_Idempotent(t *testing.T) {
	lister := &fakeToolLister{tools: []mcp.Tool{
		{
			Name: "search",
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"q": map[string]any{"type": "string"}, "limit": map[string]any{"type": "number"}},
			},
		},
	}}

	provider := NewToolProvider(lister)
	first, err := provider.Discover(context.Background())
	require.NoError(t, err)
	second, err := provider.Discover(context.Background())
	require.NoError(t, err)

	// Capability order comes from a map; sorting makes the hash stable.
	assert.Equal(t, first[0].ComputeContentHash(), second[0].ComputeContentHash())
}

func TestToolProvider_ListError(t *testing.T) {
	lister := &fakeToolLister{err: errors.New("mcp server unreachable")}

	_, err := NewToolProvider(lister).Discover(context.Background())
	assert.ErrorContains(t, err, "mcp server unreachable")
}

func TestToolProvider_RejectsUnnamedTool(t *testing.T) {
	lister := &fakeToolLister{tools: []mcp.Tool{{Description: "nameless"}}}

	_, err := NewToolProvider(lister).Discover(context.Background())
	assert.Error(t, err)
}
