package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/nbi-ai/nbi/chat"
	"github.com/nbi-ai/nbi/shared/jsonutil"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Model families that only produce embeddings and cannot chat.
var ollamaEmbeddingFamilies = map[string]bool{
	"nomic-bert": true,
	"bert":       true,
}

// fimTemplate renders a fill-in-the-middle prompt for a model family.
type fimTemplate func(prefix, suffix string) string

var (
	fimQwen = func(prefix, suffix string) string {
		return fmt.Sprintf("<|fim_prefix|>%s<|fim_suffix|>%s<|fim_middle|>", prefix, suffix)
	}
	fimDeepSeek = func(prefix, suffix string) string {
		return fmt.Sprintf("<｜fim▁begin｜>%s<｜fim▁hole｜>%s<｜fim▁end｜>", prefix, suffix)
	}
	fimCodeLlama = func(prefix, suffix string) string {
		return fmt.Sprintf("<PRE> %s <SUF>%s <MID>", prefix, suffix)
	}
	fimStarCoder = func(prefix, suffix string) string {
		return fmt.Sprintf("<fim_prefix>%s<fim_suffix>%s<fim_middle>", prefix, suffix)
	}
	fimCodestral = func(prefix, suffix string) string {
		return fmt.Sprintf("[SUFFIX]%s[PREFIX]%s", suffix, prefix)
	}
)

var ollamaInlineStop = []string{
	"<|end▁of▁sentence|>",
	"<｜end▁of▁sentence｜>",
	"<|EOT|>",
	"<EOT>",
	"\\n",
	"</s>",
	"<|eot_id|>",
}

// OllamaProvider serves models hosted by a local or remote Ollama
// instance. The chat model list is discovered from the running server;
// inline completion models are a fixed catalog of code models with
// known fill-in-the-middle formats.
type OllamaProvider struct {
	chat.PropertySet

	mu           sync.RWMutex
	chatModels   []chat.ChatModel
	inlineModels []chat.InlineCompletionModel
}

func NewOllamaProvider() *OllamaProvider {
	p := &OllamaProvider{
		PropertySet: chat.NewPropertySet(
			&chat.Property{ID: "base_url", Name: "Base URL", Description: "Base URL", Value: defaultOllamaBaseURL, Optional: true},
		),
	}

	inlineModels := []struct {
		name string
		ctx  int
		fim  fimTemplate
	}{
		{"deepseek-coder-v2", 163840, fimDeepSeek},
		{"qwen2.5-coder", 32768, fimQwen},
		{"codestral", 32768, fimCodestral},
		{"starcoder2", 16384, fimStarCoder},
		{"codellama:7b-code", 16384, fimCodeLlama},
	}
	for _, im := range inlineModels {
		p.inlineModels = append(p.inlineModels, &ollamaInlineCompletionModel{
			provider: p,
			name:     im.name,
			ctxWin:   im.ctx,
			fim:      im.fim,
		})
	}

	p.UpdateChatModelList(context.Background())
	return p
}

func (p *OllamaProvider) ID() string   { return "ollama" }
func (p *OllamaProvider) Name() string { return "Ollama" }

func (p *OllamaProvider) baseURL() string {
	if prop := p.Property("base_url"); prop != nil && prop.Value != "" {
		return prop.Value
	}
	return defaultOllamaBaseURL
}

func (p *OllamaProvider) client() (*api.Client, error) {
	parsed, err := url.Parse(p.baseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	return api.NewClient(parsed, http.DefaultClient), nil
}

// UpdateChatModelList refreshes the chat model list from the Ollama
// server. Models of embedding-only families are skipped. Discovery
// failures leave the current list empty rather than erroring out, so
// the provider stays usable when Ollama is not running.
func (p *OllamaProvider) UpdateChatModelList(ctx context.Context) {
	var models []chat.ChatModel

	client, err := p.client()
	if err != nil {
		slog.Warn("failed to create Ollama client", "error", err)
		p.setChatModels(models)
		return
	}

	list, err := client.List(ctx)
	if err != nil {
		slog.Warn("failed to list Ollama models", "error", err)
		p.setChatModels(models)
		return
	}

	for _, entry := range list.Models {
		show, err := client.Show(ctx, &api.ShowRequest{Model: entry.Model})
		if err != nil {
			slog.Warn("failed to get Ollama model info", "model", entry.Model, "error", err)
			continue
		}
		family := show.Details.Family
		if ollamaEmbeddingFamilies[family] {
			continue
		}
		ctxWin := defaultContextWindow
		if v, ok := show.ModelInfo[family+".context_length"]; ok {
			if f, ok := v.(float64); ok && f > 0 {
				ctxWin = int(f)
			}
		}
		models = append(models, &ollamaChatModel{
			provider: p,
			name:     entry.Model,
			ctxWin:   ctxWin,
		})
	}

	p.setChatModels(models)
}

func (p *OllamaProvider) setChatModels(models []chat.ChatModel) {
	p.mu.Lock()
	p.chatModels = models
	p.mu.Unlock()
}

func (p *OllamaProvider) ChatModels() []chat.ChatModel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]chat.ChatModel(nil), p.chatModels...)
}

func (p *OllamaProvider) InlineCompletionModels() []chat.InlineCompletionModel {
	return append([]chat.InlineCompletionModel(nil), p.inlineModels...)
}

type ollamaChatModel struct {
	chat.PropertySet
	provider *OllamaProvider
	name     string
	ctxWin   int
}

func (m *ollamaChatModel) Provider() chat.Provider { return m.provider }
func (m *ollamaChatModel) ID() string              { return m.name }
func (m *ollamaChatModel) Name() string            { return m.name }
func (m *ollamaChatModel) ContextWindow() int      { return m.ctxWin }

var errOllamaCancelled = errors.New("ollama request cancelled")

func (m *ollamaChatModel) Completions(ctx context.Context, messages []chat.Message, tools []chat.ToolSchema, resp chat.Response, cancel *chat.CancelToken, opts chat.CompletionOptions) (*chat.CompletionResult, error) {
	client, err := m.provider.client()
	if err != nil {
		return nil, err
	}

	streaming := resp != nil
	req := &api.ChatRequest{
		Model:    m.name,
		Messages: toOllamaMessages(messages),
		Tools:    toOllamaTools(tools),
		Stream:   &streaming,
	}

	if streaming {
		err := client.Chat(ctx, req, func(chunk api.ChatResponse) error {
			if cancel != nil && cancel.Requested() {
				return errOllamaCancelled
			}
			resp.Stream(chat.RawChunk{Chunk: map[string]any{
				"choices": []any{
					map[string]any{
						"delta": map[string]any{
							"role":    chunk.Message.Role,
							"content": chunk.Message.Content,
						},
					},
				},
			}})
			return nil
		})
		if err != nil && !errors.Is(err, errOllamaCancelled) {
			return nil, fmt.Errorf("ollama chat: %w", err)
		}
		resp.Finish()
		return nil, nil
	}

	result := &chat.CompletionResult{}
	var content strings.Builder
	err = client.Chat(ctx, req, func(chunk api.ChatResponse) error {
		if cancel != nil && cancel.Requested() {
			return errOllamaCancelled
		}
		content.WriteString(chunk.Message.Content)
		for _, call := range chunk.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
				Type: "function",
				Function: chat.ToolCallFunction{
					Name:      call.Function.Name,
					Arguments: map[string]any(call.Function.Arguments),
				},
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, errOllamaCancelled) {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	result.Content = content.String()
	return result, nil
}

func toOllamaMessages(messages []chat.Message) []api.Message {
	out := make([]api.Message, len(messages))
	for i, msg := range messages {
		m := api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      call.Function.Name,
					Arguments: toOllamaArguments(call.Function.Arguments),
				},
			})
		}
		out[i] = m
	}
	return out
}

func toOllamaArguments(args any) api.ToolCallFunctionArguments {
	switch v := args.(type) {
	case map[string]any:
		return api.ToolCallFunctionArguments(v)
	case string:
		if m := jsonutil.FuzzyParse(v); m != nil {
			return api.ToolCallFunctionArguments(m)
		}
		return api.ToolCallFunctionArguments{}
	default:
		return api.ToolCallFunctionArguments{}
	}
}

func toOllamaTools(tools []chat.ToolSchema) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(tools))
	for _, schema := range tools {
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        schema.Function.Name,
				Description: schema.Function.Description,
				Parameters:  toOllamaParameters(schema.Function.Parameters),
			},
		})
	}
	return out
}

func toOllamaParameters(params map[string]any) api.ToolFunctionParameters {
	out := api.ToolFunctionParameters{
		Type:       "object",
		Properties: map[string]api.ToolProperty{},
	}
	if params == nil {
		return out
	}
	if t, ok := params["type"].(string); ok {
		out.Type = t
	}
	if required, ok := params["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return out
	}
	for name, raw := range props {
		propMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		prop := api.ToolProperty{}
		if t, ok := propMap["type"].(string); ok {
			prop.Type = api.PropertyType{t}
		}
		if desc, ok := propMap["description"].(string); ok {
			prop.Description = desc
		}
		if enum, ok := propMap["enum"].([]any); ok {
			prop.Enum = enum
		}
		out.Properties[name] = prop
	}
	return out
}

type ollamaInlineCompletionModel struct {
	chat.PropertySet
	provider *OllamaProvider
	name     string
	ctxWin   int
	fim      fimTemplate
}

func (m *ollamaInlineCompletionModel) Provider() chat.Provider { return m.provider }
func (m *ollamaInlineCompletionModel) ID() string              { return m.name }
func (m *ollamaInlineCompletionModel) Name() string            { return m.name }
func (m *ollamaInlineCompletionModel) ContextWindow() int      { return m.ctxWin }

func (m *ollamaInlineCompletionModel) InlineCompletions(ctx context.Context, prefix, suffix, language, filename string, cc chat.CompletionContext, cancel *chat.CancelToken) (string, error) {
	client, err := m.provider.client()
	if err != nil {
		slog.Warn("failed to create Ollama client for inline completion", "error", err)
		return "", nil
	}

	prompt := prefix
	if strings.TrimSpace(suffix) != "" {
		prompt = m.fim(prefix, suffix)
	}

	streaming := false
	req := &api.GenerateRequest{
		Model:  m.name,
		Prompt: prompt,
		Raw:    true,
		Stream: &streaming,
		Options: map[string]any{
			"num_predict": 128,
			"temperature": 0,
			"stop":        ollamaInlineStop,
		},
	}

	var generated strings.Builder
	err = client.Generate(ctx, req, func(chunk api.GenerateResponse) error {
		if cancel != nil && cancel.Requested() {
			return errOllamaCancelled
		}
		generated.WriteString(chunk.Response)
		return nil
	})
	if err != nil && !errors.Is(err, errOllamaCancelled) {
		slog.Warn("ollama inline completion failed", "model", m.name, "error", err)
		return "", nil
	}
	return chat.ExtractGeneratedCode(generated.String()), nil
}
