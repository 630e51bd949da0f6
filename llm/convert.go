package llm

import (
	"errors"
	"io"
	"strconv"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nbi-ai/nbi/chat"
	"github.com/nbi-ai/nbi/shared/jsonutil"
)

const defaultContextWindow = 4096

func toOpenAIMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: argumentsString(call.Function.Arguments),
				},
			})
		}
		out[i] = m
	}
	return out
}

func argumentsString(args any) string {
	switch v := args.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return jsonutil.MustJSON(v)
	}
}

func toOpenAITools(tools []chat.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, schema := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Function.Name,
				Description: schema.Function.Description,
				Parameters:  schema.Function.Parameters,
			},
		}
	}
	return out
}

func toOpenAIToolChoice(choice string) any {
	switch choice {
	case "", "auto":
		return "auto"
	case "none", "required":
		return choice
	default:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice},
		}
	}
}

func fromOpenAIResponse(resp openai.ChatCompletionResponse) *chat.CompletionResult {
	result := &chat.CompletionResult{}
	if len(resp.Choices) == 0 {
		return result
	}
	msg := resp.Choices[0].Message
	result.Content = msg.Content
	for _, call := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
			ID:   call.ID,
			Type: string(call.Type),
			Function: chat.ToolCallFunction{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return result
}

// streamChunks drains a completion stream into the response as raw
// delta chunks and finishes it, honoring cancellation between chunks.
func streamChunks(stream *openai.ChatCompletionStream, resp chat.Response, cancel *chat.CancelToken) error {
	defer stream.Close()
	for {
		if cancel != nil && cancel.Requested() {
			break
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		resp.Stream(chat.RawChunk{Chunk: map[string]any{
			"choices": []any{
				map[string]any{
					"delta": map[string]any{
						"role":    delta.Role,
						"content": delta.Content,
					},
				},
			},
		}})
	}
	resp.Finish()
	return nil
}

func parseContextWindow(prop *chat.Property) int {
	if prop == nil || prop.Value == "" {
		return defaultContextWindow
	}
	n, err := strconv.Atoi(prop.Value)
	if err != nil || n <= 0 {
		return defaultContextWindow
	}
	return n
}
