package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

const assistantIconSVG = `<svg width="16" height="16" viewBox="0 0 16 16" xmlns="http://www.w3.org/2000/svg" fill="currentColor"><path d="M6 1l1.2 3.3L10.5 5.5 7.2 6.7 6 10 4.8 6.7 1.5 5.5l3.3-1.2z"/><path d="M12 9l.8 2.2 2.2.8-2.2.8L12 15l-.8-2.2L9 12l2.2-.8z"/></svg>`

var assistantIconURL = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(assistantIconSVG))

// BuiltinParticipant is the default assistant that handles prompts
// without an explicit participant mention. In ask mode it answers with
// a streaming completion and a small set of notebook cell tools; in
// agent mode it runs the tool call loop over the user's tool
// selection.
type BuiltinParticipant struct {
	name       string
	ChatPrompt func(modelProvider, modelName string) string
}

func NewBuiltinParticipant() *BuiltinParticipant {
	return &BuiltinParticipant{name: "AI Assistant", ChatPrompt: GenericChatPrompt}
}

// NewCopilotParticipant returns the default participant branded for
// GitHub Copilot.
func NewCopilotParticipant() *BuiltinParticipant {
	return &BuiltinParticipant{name: "GitHub Copilot", ChatPrompt: GitHubCopilotChatPrompt}
}

func (p *BuiltinParticipant) ID() string          { return DefaultParticipantID }
func (p *BuiltinParticipant) Name() string        { return p.name }
func (p *BuiltinParticipant) Description() string { return p.name }
func (p *BuiltinParticipant) IconPath() string    { return assistantIconURL }

func (p *BuiltinParticipant) Commands() []Command {
	return []Command{
		{Name: "newNotebook", Description: "Create a new notebook"},
		{Name: "newPythonFile", Description: "Create a new Python file"},
		{Name: "clear", Description: "Clears chat history"},
		{Name: "settings", Description: "Open settings dialog"},
	}
}

func (p *BuiltinParticipant) AllowedContextProviders() []string {
	return []string{"*"}
}

func (p *BuiltinParticipant) Tools(req *Request) []Tool {
	switch req.Mode {
	case ModeAsk:
		return []Tool{
			newAddMarkdownCellToNotebookTool(),
			newAddCodeCellToNotebookTool(),
			newPythonFallbackTool(),
		}
	case ModeAgent:
		var tools []Tool
		for _, toolsetID := range req.ToolSelection.BuiltinToolsets {
			if toolset := req.Host.BuiltinToolset(toolsetID); toolset != nil {
				tools = append(tools, toolset.Tools...)
			}
		}
		for server, names := range req.ToolSelection.MCPServers {
			tools = append(tools, req.Host.MCPServerTools(server, names)...)
		}
		for extID, toolsets := range req.ToolSelection.Extensions {
			for toolsetID, names := range toolsets {
				toolset := req.Host.ExtensionToolset(extID, toolsetID)
				if toolset == nil {
					continue
				}
				for _, name := range names {
					if tool := toolset.Tool(name); tool != nil {
						tools = append(tools, &securedExtensionTool{tool})
					}
				}
			}
		}
		return tools
	}
	return nil
}

func (p *BuiltinParticipant) HandleRequest(ctx context.Context, req *Request, resp Response) error {
	if req.Mode == ModeAgent {
		return p.handleAgentRequest(ctx, req, resp)
	}
	return p.handleAskRequest(ctx, req, resp)
}

func (p *BuiltinParticipant) handleAgentRequest(ctx context.Context, req *Request, resp Response) error {
	tools := p.Tools(req)

	var systemPrompt strings.Builder
	if len(tools) > 0 {
		systemPrompt.WriteString("Try to answer the question with a tool first. If the tool you use has default values for parameters and user didn't provide a value for those, make sure to set the default value for the parameter.\n\n")
	}
	for _, toolsetID := range req.ToolSelection.BuiltinToolsets {
		if toolset := req.Host.BuiltinToolset(toolsetID); toolset != nil && toolset.Instructions != "" {
			systemPrompt.WriteString(toolset.Instructions + "\n")
		}
	}
	for extID, toolsets := range req.ToolSelection.Extensions {
		for toolsetID := range toolsets {
			if toolset := req.Host.ExtensionToolset(extID, toolsetID); toolset != nil && toolset.Instructions != "" {
				systemPrompt.WriteString(toolset.Instructions + "\n")
			}
		}
	}

	RunWithTools(ctx, req, resp, tools, RequestOptions{SystemPrompt: systemPrompt.String()})
	return nil
}

func (p *BuiltinParticipant) handleAskRequest(ctx context.Context, req *Request, resp Response) error {
	model := req.Host.ChatModel()
	if model == nil {
		resp.Stream(Markdown{Content: "Chat model is not set!"})
		resp.Stream(Button{Title: "Configure", CommandID: "notebook-intelligence:open-configuration-dialog"})
		resp.Finish()
		return nil
	}

	switch req.Command {
	case "newNotebook":
		return p.handleNewNotebook(ctx, req, resp)
	case "newPythonFile":
		return p.handleNewPythonFile(ctx, req, resp)
	case "settings":
		if _, err := resp.RunUICommand(ctx, "notebook-intelligence:open-configuration-dialog", nil); err != nil {
			return err
		}
		resp.Stream(Markdown{Content: "Opened the settings dialog"})
		resp.Finish()
		return nil
	}

	systemPrompt := p.ChatPrompt(model.Provider().Name(), model.Name())
	if req.SystemPrompt != "" {
		systemPrompt = req.SystemPrompt
	}

	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, SystemMessage(systemPrompt))
	messages = append(messages, req.History...)

	if model.Provider().ID() != "github-copilot" {
		resp.Stream(Progress{Title: "Thinking..."})
	}
	if _, err := model.Completions(ctx, messages, nil, resp, req.Cancel, CompletionOptions{}); err != nil {
		slog.Error("chat: ask request failed", "model", model.ID(), "error", err)
		resp.Stream(Markdown{Content: "Oops! There was a problem handling chat request. Please try again with a different prompt."})
		resp.Finish()
	}
	return nil
}

func (p *BuiltinParticipant) handleNewNotebook(ctx context.Context, req *Request, resp Response) error {
	cmdResp, err := resp.RunUICommand(ctx, "notebook-intelligence:create-new-notebook-from-py", map[string]any{"code": ""})
	if err != nil {
		return err
	}
	filePath, _ := cmdResp["path"].(string)

	code, err := p.generateCodeCell(ctx, req)
	if err != nil {
		return err
	}
	markdown, err := p.generateMarkdownForCode(ctx, req, code)
	if err != nil {
		return err
	}

	if _, err := resp.RunUICommand(ctx, "notebook-intelligence:add-markdown-cell-to-notebook", map[string]any{"markdown": markdown, "path": filePath}); err != nil {
		return err
	}
	if _, err := resp.RunUICommand(ctx, "notebook-intelligence:add-code-cell-to-notebook", map[string]any{"code": code, "path": filePath}); err != nil {
		return err
	}

	resp.Stream(Markdown{Content: fmt.Sprintf("Notebook '%s' created and opened successfully", filePath)})
	resp.Finish()
	return nil
}

func (p *BuiltinParticipant) handleNewPythonFile(ctx context.Context, req *Request, resp Response) error {
	model := req.Host.ChatModel()

	messages := trimLastMessage(req.History)
	messages = append([]Message{SystemMessage("You are an assistant that creates Python code. You should return the code directly, without wrapping it inside ```.")}, messages...)
	messages = append(messages, UserMessage("Generate code for: "+req.Prompt))

	result, err := model.Completions(ctx, messages, nil, nil, req.Cancel, CompletionOptions{})
	if err != nil {
		return err
	}
	code := ExtractGeneratedCode(result.Content)

	cmdResp, err := resp.RunUICommand(ctx, "notebook-intelligence:create-new-file", map[string]any{"code": code})
	if err != nil {
		return err
	}
	filePath, _ := cmdResp["path"].(string)

	resp.Stream(Markdown{Content: fmt.Sprintf("File '%s' created successfully", filePath)})
	resp.Finish()
	return nil
}

func (p *BuiltinParticipant) generateCodeCell(ctx context.Context, req *Request) (string, error) {
	model := req.Host.ChatModel()

	messages := trimLastMessage(req.History)
	messages = append([]Message{SystemMessage("You are an assistant that creates Python code which will be used in a Jupyter notebook. Generate only Python code and some comments for the code. You should return the code directly, without wrapping it inside ```.")}, messages...)
	messages = append(messages, UserMessage("Generate code for: "+req.Prompt))

	result, err := model.Completions(ctx, messages, nil, nil, req.Cancel, CompletionOptions{})
	if err != nil {
		return "", err
	}
	return ExtractGeneratedCode(result.Content), nil
}

func (p *BuiltinParticipant) generateMarkdownForCode(ctx context.Context, req *Request, code string) (string, error) {
	model := req.Host.ChatModel()

	messages := trimLastMessage(req.History)
	messages = append([]Message{SystemMessage("You are an assistant that explains the provided code using markdown. Don't include any code, just narrative markdown text. Keep it concise, only generate few lines. First create a title that suits the code and then explain the code briefly. You should return the markdown directly, without wrapping it inside ```.")}, messages...)
	messages = append(messages, UserMessage("Generate markdown that explains this code: "+code))

	result, err := model.Completions(ctx, messages, nil, nil, req.Cancel, CompletionOptions{})
	if err != nil {
		return "", err
	}
	return ExtractGeneratedCode(result.Content), nil
}

func trimLastMessage(history []Message) []Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]Message, len(history)-1)
	copy(out, history[:len(history)-1])
	return out
}

// relativizePath strips the server root prefix so frontend commands
// receive paths relative to the Jupyter server.
func relativizePath(req *Request, path string) string {
	root := req.Host.ServerRootDir()
	if root == "" || !strings.HasPrefix(path, root) {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

func confirmedCellTool(name, title, description string, props map[string]any, required []string, fn func(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error)) *FuncTool {
	return &FuncTool{
		ToolName:        name,
		ToolTitle:       title,
		ToolDescription: description,
		ToolSchema: ToolSchema{
			Type: "function",
			Function: ToolFunction{
				Name:        name,
				Description: description,
				Parameters:  objectParameters(props, required...),
			},
		},
		Fn: fn,
	}
}

func newAddMarkdownCellToNotebookTool() Tool {
	return confirmedCellTool(
		"add_markdown_cell_to_notebook",
		"Add markdown cell to notebook",
		"This is a tool that adds markdown cell to a notebook",
		map[string]any{
			"notebook_file_path":   stringProp("Notebook file path to add the markdown cell to"),
			"markdown_cell_source": stringProp("Markdown to add to the notebook"),
		},
		[]string{"notebook_file_path", "markdown_cell_source"},
		func(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
			path := relativizePath(req, stringArg(args, "notebook_file_path"))
			if _, err := resp.RunUICommand(ctx, "notebook-intelligence:add-markdown-cell-to-notebook", map[string]any{
				"markdown": stringArg(args, "markdown_cell_source"),
				"path":     path,
			}); err != nil {
				return nil, err
			}
			return "Added markdown cell to notebook", nil
		},
	)
}

func newAddCodeCellToNotebookTool() Tool {
	return confirmedCellTool(
		"add_code_cell_to_notebook",
		"Add code cell to notebook",
		"This is a tool that adds code cell to a notebook",
		map[string]any{
			"notebook_file_path": stringProp("Notebook file path to add the markdown cell to"),
			"code_cell_source":   stringProp("Code to add to the notebook"),
		},
		[]string{"notebook_file_path", "code_cell_source"},
		func(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
			path := relativizePath(req, stringArg(args, "notebook_file_path"))
			if _, err := resp.RunUICommand(ctx, "notebook-intelligence:add-code-cell-to-notebook", map[string]any{
				"code": stringArg(args, "code_cell_source"),
				"path": path,
			}); err != nil {
				return nil, err
			}
			return "Added code cell to notebook", nil
		},
	)
}

// newPythonFallbackTool catches the common case of models calling a
// generic "python" tool instead of one of the advertised ones.
func newPythonFallbackTool() Tool {
	return confirmedCellTool(
		"python",
		"Add code cell to notebook",
		"This is a tool that adds code cell to a notebook",
		map[string]any{
			"code_cell_source": stringProp("Code to add to the notebook"),
		},
		[]string{"code_cell_source"},
		func(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
			if _, err := resp.RunUICommand(ctx, "notebook-intelligence:add-code-cell-to-notebook", map[string]any{
				"code": stringArg(args, "code_cell_source"),
				"path": "",
			}); err != nil {
				return nil, err
			}
			return "Code cell added to notebook", nil
		},
	)
}

// securedExtensionTool forces confirmation for tools contributed by
// third party extensions regardless of their own pre-invoke behavior.
type securedExtensionTool struct {
	tool Tool
}

func (s *securedExtensionTool) Name() string        { return s.tool.Name() }
func (s *securedExtensionTool) Title() string       { return s.tool.Title() }
func (s *securedExtensionTool) Tags() []string      { return s.tool.Tags() }
func (s *securedExtensionTool) Description() string { return s.tool.Description() }
func (s *securedExtensionTool) Schema() ToolSchema  { return s.tool.Schema() }

func (s *securedExtensionTool) PreInvoke(req *Request, args map[string]any) *PreInvokeResult {
	return &PreInvokeResult{
		Message:             fmt.Sprintf("Calling extension tool '%s'", s.Name()),
		Detail:              map[string]any{"title": "Parameters"},
		ConfirmationTitle:   "Approve",
		ConfirmationMessage: "Are you sure you want to call this extension tool?",
	}
}

func (s *securedExtensionTool) Call(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
	return s.tool.Call(ctx, req, resp, args)
}
