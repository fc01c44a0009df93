package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpdash/internal/api"
	"mcpdash/pkg/logging"
)

// MCPCapabilityClient routes capability listing and invocation over the MCP
// protocol while delegating lifecycle operations (status, env, control) to
// the REST facade. The MCP connection is established lazily on first use
// and survives until Close.
type MCPCapabilityClient struct {
	rest     *RESTClient
	endpoint string

	mu     sync.Mutex
	client client.MCPClient
}

// NewMCPCapabilityClient layers an MCP capability transport over a REST
// client.
func NewMCPCapabilityClient(rest *RESTClient, endpoint string) *MCPCapabilityClient {
	return &MCPCapabilityClient{
		rest:     rest,
		endpoint: endpoint,
	}
}

// FetchStatus delegates to the REST facade.
func (c *MCPCapabilityClient) FetchStatus(ctx context.Context, targetID string) (api.TargetStatus, error) {
	return c.rest.FetchStatus(ctx, targetID)
}

// UpdateEnv delegates to the REST facade.
func (c *MCPCapabilityClient) UpdateEnv(ctx context.Context, targetID string, diff api.EnvDiff) error {
	return c.rest.UpdateEnv(ctx, targetID, diff)
}

// ControlAction delegates to the REST facade.
func (c *MCPCapabilityClient) ControlAction(ctx context.Context, targetID string, verb api.ControlVerb) error {
	return c.rest.ControlAction(ctx, targetID, verb)
}

// ListCapabilities lists tools over the MCP protocol. Tools are exposed on
// the aggregator endpoint with a "<targetID>.<tool>" prefix; only the
// target's own tools are returned, with the prefix stripped.
func (c *MCPCapabilityClient) ListCapabilities(ctx context.Context, targetID string) ([]api.Capability, error) {
	mcpClient, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	prefix := targetID + "."
	var capabilities []api.Capability
	for _, tool := range result.Tools {
		if !strings.HasPrefix(tool.Name, prefix) {
			continue
		}
		capability := api.CapabilityFromTool(tool)
		capability.Name = strings.TrimPrefix(tool.Name, prefix)
		capabilities = append(capabilities, capability)
	}
	return capabilities, nil
}

// InvokeCapability calls one tool over the MCP protocol and returns the
// first text content of the result.
func (c *MCPCapabilityClient) InvokeCapability(ctx context.Context, targetID, capability string, args map[string]interface{}) (string, error) {
	mcpClient, err := c.ensureConnected(ctx)
	if err != nil {
		return "", err
	}

	var arguments interface{}
	if len(args) > 0 {
		arguments = args
	}

	request := mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      targetID + "." + capability,
			Arguments: arguments,
		},
	}

	result, err := mcpClient.CallTool(ctx, request)
	if err != nil {
		return "", fmt.Errorf("tool call %s failed: %w", capability, err)
	}

	text := firstTextContent(result)
	if result.IsError {
		return "", &api.BackendError{Op: "invoke", TargetID: targetID, Message: text}
	}
	return text, nil
}

// Close tears down the MCP connection if one was established.
func (c *MCPCapabilityClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// ensureConnected establishes the streamable HTTP transport and performs
// the MCP handshake on first use.
func (c *MCPCapabilityClient) ensureConnected(ctx context.Context) (client.MCPClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	logging.Info("MCPClient", "Connecting to MCP endpoint %s", c.endpoint)
	httpClient, err := client.NewStreamableHttpClient(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}

	if err := httpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start streamable HTTP client: %w", err)
	}

	initRequest := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "mcpdash",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := httpClient.Initialize(initCtx, initRequest); err != nil {
		httpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = httpClient
	return c.client, nil
}

// firstTextContent extracts the first text block of a tool result.
func firstTextContent(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			return textContent.Text
		}
	}
	return ""
}
