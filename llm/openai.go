package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nbi-ai/nbi/chat"
)

// compatibleProvider serves any OpenAI-compatible HTTP backend. The
// LiteLLM flavor differs only in ids and which properties are
// required.
type compatibleProvider struct {
	chat.PropertySet
	id          string
	name        string
	chatModel   *compatibleChatModel
	inlineModel *compatibleInlineCompletionModel
}

// NewOpenAICompatibleProvider returns the provider for OpenAI API
// compatible backends.
func NewOpenAICompatibleProvider() chat.Provider {
	p := &compatibleProvider{id: "openai-compatible", name: "OpenAI Compatible"}
	p.chatModel = &compatibleChatModel{
		PropertySet: chat.NewPropertySet(
			&chat.Property{ID: "api_key", Name: "API key", Description: "API key"},
			&chat.Property{ID: "model_id", Name: "Model", Description: "Model (must support streaming)"},
			&chat.Property{ID: "base_url", Name: "Base URL", Description: "Base URL", Optional: true},
			&chat.Property{ID: "context_window", Name: "Context window", Description: "Context window length", Optional: true},
		),
		provider: p,
		modelID:  "openai-compatible-chat-model",
	}
	p.inlineModel = &compatibleInlineCompletionModel{
		PropertySet: chat.NewPropertySet(
			&chat.Property{ID: "api_key", Name: "API key", Description: "API key"},
			&chat.Property{ID: "model_id", Name: "Model", Description: "Model"},
			&chat.Property{ID: "base_url", Name: "Base URL", Description: "Base URL", Optional: true},
			&chat.Property{ID: "context_window", Name: "Context window", Description: "Context window length", Optional: true},
		),
		provider: p,
		modelID:  "openai-compatible-inline-completion-model",
	}
	return p
}

// NewLiteLLMCompatibleProvider returns the provider for LiteLLM proxy
// backends.
func NewLiteLLMCompatibleProvider() chat.Provider {
	p := &compatibleProvider{id: "litellm-compatible", name: "LiteLLM Compatible"}
	p.chatModel = &compatibleChatModel{
		PropertySet: chat.NewPropertySet(
			&chat.Property{ID: "model_id", Name: "Model", Description: "Model (must support streaming)"},
			&chat.Property{ID: "base_url", Name: "Base URL", Description: "Base URL"},
			&chat.Property{ID: "api_key", Name: "API key", Description: "API key", Optional: true},
			&chat.Property{ID: "context_window", Name: "Context window", Description: "Context window length", Optional: true},
		),
		provider: p,
		modelID:  "litellm-compatible-chat-model",
	}
	p.inlineModel = &compatibleInlineCompletionModel{
		PropertySet: chat.NewPropertySet(
			&chat.Property{ID: "model_id", Name: "Model", Description: "Model"},
			&chat.Property{ID: "base_url", Name: "Base URL", Description: "Base URL"},
			&chat.Property{ID: "api_key", Name: "API key", Description: "API key", Optional: true},
			&chat.Property{ID: "context_window", Name: "Context window", Description: "Context window length", Optional: true},
		),
		provider: p,
		modelID:  "litellm-compatible-inline-completion-model",
	}
	return p
}

func (p *compatibleProvider) ID() string   { return p.id }
func (p *compatibleProvider) Name() string { return p.name }

func (p *compatibleProvider) ChatModels() []chat.ChatModel {
	return []chat.ChatModel{p.chatModel}
}

func (p *compatibleProvider) InlineCompletionModels() []chat.InlineCompletionModel {
	return []chat.InlineCompletionModel{p.inlineModel}
}

type compatibleChatModel struct {
	chat.PropertySet
	provider *compatibleProvider
	modelID  string
}

func (m *compatibleChatModel) Provider() chat.Provider { return m.provider }
func (m *compatibleChatModel) ID() string              { return m.modelID }

func (m *compatibleChatModel) Name() string {
	if prop := m.Property("model_id"); prop != nil && prop.Value != "" {
		return prop.Value
	}
	return m.modelID
}

func (m *compatibleChatModel) ContextWindow() int {
	return parseContextWindow(m.Property("context_window"))
}

func (m *compatibleChatModel) client() *openai.Client {
	var baseURL, apiKey string
	if prop := m.Property("base_url"); prop != nil {
		baseURL = prop.Value
	}
	if prop := m.Property("api_key"); prop != nil {
		apiKey = prop.Value
	}
	return NewClient(baseURL, apiKey)
}

func (m *compatibleChatModel) Completions(ctx context.Context, messages []chat.Message, tools []chat.ToolSchema, resp chat.Response, cancel *chat.CancelToken, opts chat.CompletionOptions) (*chat.CompletionResult, error) {
	modelProp := m.Property("model_id")
	if modelProp == nil || modelProp.Value == "" {
		return nil, fmt.Errorf("chat model id is not configured for provider %q", m.provider.id)
	}

	req := openai.ChatCompletionRequest{
		Model:    modelProp.Value,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}
	if len(tools) > 0 {
		req.ToolChoice = toOpenAIToolChoice(opts.ToolChoice)
	}

	client := m.client()

	if resp != nil {
		stream, err := client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("create completion stream: %w", err)
		}
		if err := streamChunks(stream, resp, cancel); err != nil {
			return nil, fmt.Errorf("read completion stream: %w", err)
		}
		return nil, nil
	}

	completion, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create completion: %w", err)
	}
	return fromOpenAIResponse(completion), nil
}

type compatibleInlineCompletionModel struct {
	chat.PropertySet
	provider *compatibleProvider
	modelID  string
}

func (m *compatibleInlineCompletionModel) Provider() chat.Provider { return m.provider }
func (m *compatibleInlineCompletionModel) ID() string              { return m.modelID }
func (m *compatibleInlineCompletionModel) Name() string            { return "Inline Completion Model" }

func (m *compatibleInlineCompletionModel) ContextWindow() int {
	return parseContextWindow(m.Property("context_window"))
}

func (m *compatibleInlineCompletionModel) InlineCompletions(ctx context.Context, prefix, suffix, language, filename string, cc chat.CompletionContext, cancel *chat.CancelToken) (string, error) {
	modelProp := m.Property("model_id")
	if modelProp == nil || modelProp.Value == "" {
		return "", fmt.Errorf("inline completion model id is not configured for provider %q", m.provider.id)
	}

	var baseURL, apiKey string
	if prop := m.Property("base_url"); prop != nil {
		baseURL = prop.Value
	}
	if prop := m.Property("api_key"); prop != nil {
		apiKey = prop.Value
	}

	client := NewClient(baseURL, apiKey)
	resp, err := client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:  modelProp.Value,
		Prompt: prefix,
		Suffix: suffix,
	})
	if err != nil {
		return "", fmt.Errorf("create inline completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Text, nil
}
