package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/gatherlabs/gather/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPCaller abstracts MCP tool execution so tests can provide fakes.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// RegisterMCPTools registers the given MCP tool definitions into the
// registry, dispatching invocations through caller. The MCP input
// schema is translated into the registry's parameter schema so the
// same argument validation applies to remote tools.
func RegisterMCPTools(reg *Registry, tools []mcp.Tool, caller MCPCaller) error {
	if caller == nil {
		return errors.New(errors.CodeSchema, "mcp caller is required", nil)
	}
	for _, t := range tools {
		descriptor, err := mcpDescriptor(t)
		if err != nil {
			return err
		}
		name := t.Name
		fn := func(ctx context.Context, args map[string]any) (any, error) {
			result, err := caller.CallTool(ctx, name, args)
			if err != nil {
				return nil, err
			}
			return mcpResultToOutput(result)
		}
		if err := reg.Register(descriptor, fn); err != nil {
			return err
		}
	}
	return nil
}

func mcpDescriptor(t mcp.Tool) (Descriptor, error) {
	if t.Name == "" {
		return Descriptor{}, errors.New(errors.CodeSchema, "mcp tool name is required", nil)
	}
	d := Descriptor{
		Name:        t.Name,
		Description: t.Description,
	}
	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, name := range t.InputSchema.Required {
		required[name] = true
	}
	for name, raw := range t.InputSchema.Properties {
		p := Param{Name: name, Type: "string", Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			if typ, ok := prop["type"].(string); ok && validParamTypes[typ] {
				p.Type = typ
			}
			if desc, ok := prop["description"].(string); ok {
				p.Description = desc
			}
		}
		d.Params = append(d.Params, p)
	}
	return d, nil
}

func mcpResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, fmt.Errorf("mcp tool result is nil")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
