package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// ToolLister lists callable tools from an MCP server. Narrow on purpose so
// tests can fake it without an MCP round trip.
type ToolLister interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	ServerURL() string
}

// MCPToolLister connects to a streamable-HTTP MCP server per discovery run.
// Discovery is periodic and tool lists are small; a persistent session buys
// nothing over a connect-list-close cycle.
type MCPToolLister struct {
	serverURL string
	timeout   time.Duration
}

// NewMCPToolLister creates a lister for the given MCP server URL.
func NewMCPToolLister(serverURL string, timeout time.Duration) *MCPToolLister {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MCPToolLister{serverURL: serverURL, timeout: timeout}
}

var _ ToolLister = (*MCPToolLister)(nil)

// ServerURL returns the MCP server this lister connects to.
func (l *MCPToolLister) ServerURL() string {
	return l.serverURL
}

// ListTools implements ToolLister.
func (l *MCPToolLister) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	mcpClient, err := client.NewStreamableHttpClient(
		l.serverURL,
		transport.WithHTTPTimeout(l.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP connection: %w", err)
	}

	_, err = mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "resource-engine",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	return result.Tools, nil
}

// toolProvider maps MCP tools into catalog resources.
type toolProvider struct {
	lister ToolLister
}

// NewToolProvider enumerates callable tools from an MCP server.
func NewToolProvider(lister ToolLister) ResourceProvider {
	return &toolProvider{lister: lister}
}

func (p *toolProvider) Name() string {
	return "tool-provider"
}

func (p *toolProvider) Kind() models.ResourceType {
	return models.ResourceTypeTool
}

// Discover lists the MCP server's tools and maps each into a resource.
// Capability strings come from the tool's input schema property names, which
// is the closest thing MCP exposes to a capability vocabulary.
func (p *toolProvider) Discover(ctx context.Context) ([]*models.Resource, error) {
	tools, err := p.lister.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate MCP tools: %w", err)
	}

	resources := make([]*models.Resource, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("MCP server returned a tool without a name")
		}
		resources = append(resources, p.mapTool(tool))
	}
	return resources, nil
}

func (p *toolProvider) mapTool(tool mcp.Tool) *models.Resource {
	capabilities := make([]string, 0, len(tool.InputSchema.Properties))
	for prop := range tool.InputSchema.Properties {
		capabilities = append(capabilities, prop)
	}
	sort.Strings(capabilities)

	return &models.Resource{
		ResourceID:   qualifiedID(models.ResourceTypeTool, tool.Name),
		Type:         models.ResourceTypeTool,
		Name:         tool.Name,
		Description:  tool.Description,
		Capabilities: capabilities,
		UsageInfo: map[string]any{
			"transport":  "streamable-http",
			"server_url": p.lister.ServerURL(),
			"tool_name":  tool.Name,
			"required":   tool.InputSchema.Required,
		},
		Metadata:            map[string]any{},
		Status:              models.ResourceStatusActive,
		SourceRef:           "mcp_tools:" + tool.Name,
		VectorizationStatus: models.VectorizationPending,
	}
}
