package llm

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbi-ai/nbi/chat"
)

func TestToOpenAIToolChoice(t *testing.T) {
	assert.Equal(t, "auto", toOpenAIToolChoice(""))
	assert.Equal(t, "auto", toOpenAIToolChoice("auto"))
	assert.Equal(t, "none", toOpenAIToolChoice("none"))
	assert.Equal(t, "required", toOpenAIToolChoice("required"))

	choice, ok := toOpenAIToolChoice("run_cell").(openai.ToolChoice)
	require.True(t, ok)
	assert.Equal(t, "run_cell", choice.Function.Name)
}

func TestArgumentsString(t *testing.T) {
	assert.Equal(t, "", argumentsString(nil))
	assert.Equal(t, `{"a": 1}`, argumentsString(`{"a": 1}`))
	assert.JSONEq(t, `{"a":1}`, argumentsString(map[string]any{"a": 1}))
}

func TestToOpenAIMessages(t *testing.T) {
	messages := []chat.Message{
		chat.SystemMessage("system prompt"),
		chat.UserMessage("hello"),
		{
			Role: chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{
				{
					ID:   "call-1",
					Type: "function",
					Function: chat.ToolCallFunction{
						Name:      "run_cell",
						Arguments: map[string]any{"cell_index": 0},
					},
				},
			},
		},
		chat.ToolMessage("call-1", "done"),
	}

	converted := toOpenAIMessages(messages)
	require.Len(t, converted, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, converted[0].Role)
	assert.Equal(t, "hello", converted[1].Content)
	require.Len(t, converted[2].ToolCalls, 1)
	assert.Equal(t, "run_cell", converted[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"cell_index":0}`, converted[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call-1", converted[3].ToolCallID)
}

func TestParseContextWindow(t *testing.T) {
	assert.Equal(t, defaultContextWindow, parseContextWindow(nil))
	assert.Equal(t, defaultContextWindow, parseContextWindow(&chat.Property{}))
	assert.Equal(t, defaultContextWindow, parseContextWindow(&chat.Property{Value: "abc"}))
	assert.Equal(t, defaultContextWindow, parseContextWindow(&chat.Property{Value: "-5"}))
	assert.Equal(t, 32768, parseContextWindow(&chat.Property{Value: "32768"}))
}

func TestCompatibleProviderProperties(t *testing.T) {
	provider := NewOpenAICompatibleProvider()
	assert.Equal(t, "openai-compatible", provider.ID())

	models := provider.ChatModels()
	require.Len(t, models, 1)
	model := models[0]
	assert.Equal(t, "openai-compatible-chat-model", model.ID())

	model.SetProperty("model_id", "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", model.Name())

	model.SetProperty("context_window", "128000")
	assert.Equal(t, 128000, model.ContextWindow())
}

func TestLiteLLMProviderRequiresBaseURL(t *testing.T) {
	provider := NewLiteLLMCompatibleProvider()
	models := provider.ChatModels()
	require.Len(t, models, 1)

	var baseURL *chat.Property
	for _, prop := range models[0].Properties() {
		if prop.ID == "base_url" {
			baseURL = prop
		}
	}
	require.NotNil(t, baseURL)
	assert.False(t, baseURL.Optional)
}
