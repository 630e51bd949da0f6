package chat

import "context"

// Mode selects how a participant answers: plain Q&A or an agent loop
// with tools acting on the notebook.
type Mode string

const (
	ModeAsk   Mode = "ask"
	ModeAgent Mode = "agent"
)

// Command is a slash command a participant advertises to the UI.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolSelection is the set of tools the user enabled for an agent
// request.
type ToolSelection struct {
	BuiltinToolsets []string                       `json:"builtinToolsets"`
	MCPServers      map[string][]string            `json:"mcpServers"`
	Extensions      map[string]map[string][]string `json:"extensions"`
}

// Request is one chat request routed to a participant.
type Request struct {
	ChatID        string
	MessageID     string
	Mode          Mode
	Command       string
	Prompt        string
	History       []Message
	ToolSelection ToolSelection
	Cancel        *CancelToken
	Host          Host

	// SystemPrompt overrides the participant's default system prompt
	// when set. Used by the code generation flow.
	SystemPrompt string
}

// RequestOptions carry participant-level tuning for a request.
type RequestOptions struct {
	SystemPrompt string
	ToolChoice   string
}

// Participant handles chat requests addressed to it with @mentions.
type Participant interface {
	ID() string
	Name() string
	Description() string
	IconPath() string
	Commands() []Command
	Tools(req *Request) []Tool

	// AllowedContextProviders lists the completion context provider
	// ids this participant accepts; "*" allows any provider.
	AllowedContextProviders() []string

	HandleRequest(ctx context.Context, req *Request, resp Response) error
}

// Host gives participants access to the configured model and to tools
// registered outside the participant itself.
type Host interface {
	// ChatModel returns the active chat model, or nil when none is
	// configured.
	ChatModel() ChatModel

	// ServerRootDir is the Jupyter server root, used to relativize
	// file paths coming from tool arguments.
	ServerRootDir() string

	BuiltinToolsets() []*Toolset
	BuiltinToolset(id string) *Toolset
	ExtensionToolset(extensionID, toolsetID string) *Toolset
	MCPServerTools(server string, names []string) []Tool
}
