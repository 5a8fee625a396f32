package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const mcpInitTimeout = 10 * time.Second

// MCPConn is a live connection to one MCP server.
type MCPConn struct {
	mcpClient client.MCPClient
}

// ConnectMCPStdio launches an MCP server subprocess and completes the
// protocol handshake.
func ConnectMCPStdio(ctx context.Context, command string, args ...string) (*MCPConn, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %q: %w", command, err)
	}
	if err := stdioClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "gather",
		Version: "0.1.0",
	}
	if _, err := stdioClient.Initialize(initCtx, initRequest); err != nil {
		_ = stdioClient.Close()
		return nil, fmt.Errorf("initialize mcp connection: %w", err)
	}
	return &MCPConn{mcpClient: stdioClient}, nil
}

// ListTools retrieves the tool definitions the server advertises.
func (c *MCPConn) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	return resp.Tools, nil
}

// CallTool executes a tool on the server. Implements MCPCaller.
func (c *MCPConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.mcpClient.CallTool(ctx, req)
}

// Close shuts the connection down.
func (c *MCPConn) Close() error {
	return c.mcpClient.Close()
}

// RegisterMCPServer connects the registry to an already-established
// MCP connection: every advertised tool becomes a registered tool.
func RegisterMCPServer(ctx context.Context, reg *Registry, conn *MCPConn) error {
	tools, err := conn.ListTools(ctx)
	if err != nil {
		return err
	}
	return RegisterMCPTools(reg, tools, conn)
}
