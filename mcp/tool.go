package mcp

import (
	"context"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/nbi-ai/nbi/chat"
)

// serverTool exposes one MCP server tool to the chat tool call loop.
type serverTool struct {
	server      *Server
	tool        mcptypes.Tool
	autoApprove bool
}

func (t *serverTool) Name() string        { return t.tool.Name }
func (t *serverTool) Title() string       { return t.tool.Name }
func (t *serverTool) Tags() []string      { return []string{"mcp-tool"} }
func (t *serverTool) Description() string { return t.tool.Description }

func (t *serverTool) Schema() chat.ToolSchema {
	parameters := map[string]any{
		"type":       t.tool.InputSchema.Type,
		"properties": t.tool.InputSchema.Properties,
	}
	if len(t.tool.InputSchema.Required) > 0 {
		parameters["required"] = t.tool.InputSchema.Required
	}
	return chat.ToolSchema{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.tool.Name,
			Description: t.tool.Description,
			Parameters:  parameters,
		},
	}
}

func (t *serverTool) PreInvoke(req *chat.Request, args map[string]any) *chat.PreInvokeResult {
	result := &chat.PreInvokeResult{Message: fmt.Sprintf("Calling MCP tool '%s'", t.tool.Name)}
	if !t.autoApprove {
		result.ConfirmationTitle = "Approve"
		result.ConfirmationMessage = "Are you sure you want to call this MCP tool?"
	}
	return result
}

// Call invokes the tool and renders its result for the model. Text
// contents are joined; image contents are streamed to the UI directly.
// Failures are reported back to the model as plain text so the tool
// loop can continue.
func (t *serverTool) Call(ctx context.Context, req *chat.Request, resp chat.Response, args map[string]any) (any, error) {
	callArgs := filterArgs(t.tool.InputSchema.Properties, args)

	result, err := t.server.CallTool(ctx, t.tool.Name, callArgs)
	if err != nil {
		return fmt.Sprintf("Error occurred while calling MCP tool: %v", err), nil
	}
	if result == nil {
		return fmt.Sprintf("Error! Invalid tool result: %v", result), nil
	}

	var texts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcptypes.TextContent:
			texts = append(texts, c.Text)
		case mcptypes.ImageContent:
			resp.Stream(chat.Image{Content: fmt.Sprintf("data:%s;base64,%s", c.MIMEType, c.Data)})
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}
	return "success", nil
}

// filterArgs keeps only the arguments the tool's input schema declares.
func filterArgs(properties map[string]any, args map[string]any) map[string]any {
	filtered := map[string]any{}
	for key := range properties {
		if value, ok := args[key]; ok {
			filtered[key] = value
		}
	}
	return filtered
}
