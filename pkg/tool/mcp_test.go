package tool

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeCaller struct {
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func TestRegisterMCPTools(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "42 guests"}},
		},
	}
	tools := []mcp.Tool{
		{
			Name:        "count_guests",
			Description: "Counts guests for a venue.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"venue": map[string]any{"type": "string", "description": "venue name"},
				},
				Required: []string{"venue"},
			},
		},
	}

	reg := NewRegistry()
	if err := RegisterMCPTools(reg, tools, caller); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := reg.Invoke(context.Background(), "count_guests", map[string]any{"venue": "loft"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "42 guests" {
		t.Errorf("expected text content, got %v", out)
	}
	if caller.lastName != "count_guests" || caller.lastArgs["venue"] != "loft" {
		t.Errorf("caller saw %s %v", caller.lastName, caller.lastArgs)
	}

	// Required field from the MCP schema is enforced by the registry.
	if _, err := reg.Invoke(context.Background(), "count_guests", map[string]any{}); err == nil {
		t.Error("expected missing required argument to fail")
	}
}

func TestMCPErrorResult(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "venue not found"}},
		},
	}
	reg := NewRegistry()
	err := RegisterMCPTools(reg, []mcp.Tool{{Name: "lookup", InputSchema: mcp.ToolInputSchema{Type: "object"}}}, caller)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Invoke(context.Background(), "lookup", nil); err == nil {
		t.Error("expected error result to propagate")
	}
}
