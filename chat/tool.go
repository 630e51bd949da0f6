package chat

import "context"

// PreInvokeResult announces an imminent tool call and optionally asks
// the user for confirmation before it runs.
type PreInvokeResult struct {
	Message             string
	Detail              map[string]any
	ConfirmationTitle   string
	ConfirmationMessage string
}

// Tool is a function a chat model can call during a tool call loop.
type Tool interface {
	Name() string
	Title() string
	Tags() []string
	Description() string
	Schema() ToolSchema

	// PreInvoke may return nil when there is nothing to announce or
	// confirm.
	PreInvoke(req *Request, args map[string]any) *PreInvokeResult

	Call(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error)
}

// Toolset groups related tools under an id, with optional instructions
// that are appended to the agent system prompt when the set is active.
type Toolset struct {
	ID           string
	Name         string
	Description  string
	Provider     string
	Tools        []Tool
	Instructions string
}

func (t *Toolset) Tool(name string) Tool {
	for _, tool := range t.Tools {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}

// FuncTool adapts a plain function into a Tool. Tools that are not
// auto approved ask for user confirmation before every call.
type FuncTool struct {
	ToolName        string
	ToolTitle       string
	ToolDescription string
	ToolSchema      ToolSchema
	AutoApprove     bool
	Fn              func(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error)
}

func (t *FuncTool) Name() string { return t.ToolName }

func (t *FuncTool) Title() string {
	if t.ToolTitle != "" {
		return t.ToolTitle
	}
	return t.ToolName
}

func (t *FuncTool) Tags() []string { return nil }

func (t *FuncTool) Description() string { return t.ToolDescription }

func (t *FuncTool) Schema() ToolSchema { return t.ToolSchema }

func (t *FuncTool) PreInvoke(req *Request, args map[string]any) *PreInvokeResult {
	result := &PreInvokeResult{Message: "Calling tool '" + t.ToolName + "'"}
	if !t.AutoApprove {
		result.ConfirmationTitle = "Approve"
		result.ConfirmationMessage = "Are you sure you want to call this tool?"
	}
	return result
}

func (t *FuncTool) Call(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
	return t.Fn(ctx, req, resp, args)
}
