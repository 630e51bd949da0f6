package chat

import "context"

// Property is a user-configurable provider or model setting, such as a
// base URL or an API key.
type Property struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Value       string `json:"value"`
	Optional    bool   `json:"optional"`
}

// PropertySet is embedded by providers and models that expose
// configurable properties.
type PropertySet struct {
	props []*Property
}

func NewPropertySet(props ...*Property) PropertySet {
	return PropertySet{props: props}
}

func (p *PropertySet) Properties() []*Property {
	return p.props
}

func (p *PropertySet) Property(id string) *Property {
	for _, prop := range p.props {
		if prop.ID == id {
			return prop
		}
	}
	return nil
}

func (p *PropertySet) SetProperty(id, value string) {
	for _, prop := range p.props {
		if prop.ID == id {
			prop.Value = value
		}
	}
}

// ToolSchema is an OpenAI function tool definition.
type ToolSchema struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CompletionOptions tune a single completions call.
type CompletionOptions struct {
	// ToolChoice is "auto", "none", "required" or a tool name.
	ToolChoice string
}

// CompletionResult is the aggregate outcome of a non-streaming
// completions call.
type CompletionResult struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatModel generates chat completions. When resp is non-nil the model
// streams raw delta chunks through it and calls Finish; the returned
// result is nil. When resp is nil the model returns the aggregate
// result instead.
type ChatModel interface {
	Provider() Provider
	ID() string
	Name() string
	ContextWindow() int
	Properties() []*Property
	SetProperty(id, value string)

	Completions(ctx context.Context, messages []Message, tools []ToolSchema, resp Response, cancel *CancelToken, opts CompletionOptions) (*CompletionResult, error)
}

// ContextRequestType identifies what a completion context request is
// for.
type ContextRequestType string

const (
	ContextRequestInlineCompletion ContextRequestType = "inline-completion"
	ContextRequestNewPythonFile    ContextRequestType = "new-python-file"
	ContextRequestNewNotebook      ContextRequestType = "new-notebook"
)

// ContextType classifies where a context item came from.
type ContextType string

const (
	ContextTypeCustom      ContextType = "custom"
	ContextTypeProvider    ContextType = "provider"
	ContextTypeCurrentFile ContextType = "current-file"
)

// ContextRequest asks registered completion context providers for
// snippets relevant to a completion.
type ContextRequest struct {
	Type        ContextRequestType
	Prefix      string
	Suffix      string
	Language    string
	Filename    string
	Participant Participant
	Cancel      *CancelToken
}

// ContextItem is one snippet contributed by a context provider.
type ContextItem struct {
	Type      ContextType `json:"type"`
	Content   string      `json:"content"`
	FilePath  string      `json:"filePath,omitempty"`
	CellIndex int         `json:"cellIndex,omitempty"`
	StartLine int         `json:"startLine,omitempty"`
	EndLine   int         `json:"endLine,omitempty"`
}

// CompletionContext is the combined set of context items handed to an
// inline completion model alongside the prefix and suffix.
type CompletionContext struct {
	Items []ContextItem
}

// CompletionContextProvider contributes context items for inline
// completions. Extensions register providers with the service manager;
// a participant controls which providers apply to it through
// AllowedContextProviders.
type CompletionContextProvider interface {
	ID() string
	CompletionContext(req *ContextRequest) CompletionContext
}

// InlineCompletionModel generates fill-in-the-middle code completions.
type InlineCompletionModel interface {
	Provider() Provider
	ID() string
	Name() string
	ContextWindow() int
	Properties() []*Property
	SetProperty(id, value string)

	InlineCompletions(ctx context.Context, prefix, suffix, language, filename string, cc CompletionContext, cancel *CancelToken) (string, error)
}

// Provider exposes the models of one LLM backend.
type Provider interface {
	ID() string
	Name() string
	Properties() []*Property
	SetProperty(id, value string)

	ChatModels() []ChatModel
	InlineCompletionModels() []InlineCompletionModel
}

// FindChatModel returns the provider's chat model with the given id.
func FindChatModel(p Provider, modelID string) ChatModel {
	for _, m := range p.ChatModels() {
		if m.ID() == modelID {
			return m
		}
	}
	return nil
}

// FindInlineCompletionModel returns the provider's inline completion
// model with the given id.
func FindInlineCompletionModel(p Provider, modelID string) InlineCompletionModel {
	for _, m := range p.InlineCompletionModels() {
		if m.ID() == modelID {
			return m
		}
	}
	return nil
}
