package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nbi-ai/nbi/shared/jsonutil"
)

const (
	msgToolNotFound = "Oops! Failed to find requested tool. Please try again with a different prompt."
	msgToolBadArgs  = "Oops! There was a problem handling tool request. Please try again with a different prompt."
	msgToolLoopErr  = "Oops! I am sorry, there was a problem generating response with tools. Please try again. You can check server logs for more details."
)

// maxToolRounds bounds the number of completion rounds in one request.
const maxToolRounds = 25

// RunWithTools runs the tool call loop for a request. With no tools it
// degrades to a single streaming completion. With tools it alternates
// between aggregate completions and FIFO tool execution until the
// model stops requesting tools, then finishes the response. Errors are
// reported to the user and never propagate.
func RunWithTools(ctx context.Context, req *Request, resp Response, tools []Tool, opts RequestOptions) {
	model := req.Host.ChatModel()
	if model == nil {
		resp.Stream(Markdown{Content: "Chat model is not set!"})
		resp.Stream(Button{Title: "Configure", CommandID: "notebook-intelligence:open-configuration-dialog"})
		resp.Finish()
		return
	}

	messages := make([]Message, 0, len(req.History)+1)
	if opts.SystemPrompt != "" {
		messages = append(messages, SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, req.History...)

	if len(tools) == 0 {
		if _, err := model.Completions(ctx, messages, nil, resp, req.Cancel, CompletionOptions{}); err != nil {
			slog.Error("chat: streaming completion failed", "model", model.ID(), "error", err)
			resp.Stream(Markdown{Content: msgToolLoopErr})
			resp.Finish()
		}
		return
	}

	schemas := make([]ToolSchema, len(tools))
	for i, tool := range tools {
		schemas[i] = tool.Schema()
	}

	toolChoice := opts.ToolChoice
	if toolChoice == "" {
		toolChoice = "auto"
	}

	for round := 0; round < maxToolRounds; round++ {
		if req.Cancel.Requested() {
			resp.Finish()
			return
		}

		result, err := model.Completions(ctx, messages, schemas, nil, req.Cancel, CompletionOptions{ToolChoice: toolChoice})
		if err != nil {
			slog.Error("chat: tool call loop failed", "model", model.ID(), "error", err)
			resp.Stream(Markdown{Content: msgToolLoopErr})
			resp.Finish()
			return
		}
		toolChoice = "auto"

		pending := append([]ToolCall(nil), result.ToolCalls...)
		if len(pending) == 0 && result.Content != "" {
			resp.Stream(Markdown{Content: result.Content})
		}
		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		if len(pending) == 0 {
			resp.Finish()
			return
		}

		for len(pending) > 0 {
			if req.Cancel.Requested() {
				resp.Finish()
				return
			}

			call := pending[0]
			pending = pending[1:]
			if call.ID == "" {
				call.ID = strings.ReplaceAll(uuid.NewString(), "-", "")
			}

			tool := findTool(tools, call.Function.Name)
			if tool == nil {
				slog.Error("chat: tool not found", "tool", call.Function.Name)
				resp.Stream(Markdown{Content: msgToolNotFound})
				resp.Finish()
				return
			}

			args, ok := bindToolArgs(call.Function.Arguments, tool.Schema())
			if !ok {
				slog.Error("chat: tool argument mismatch", "tool", call.Function.Name, "args", call.Function.Arguments)
				resp.Stream(Markdown{Content: msgToolBadArgs})
				resp.Finish()
				return
			}

			if pre := tool.PreInvoke(req, args); pre != nil {
				if pre.Message != "" {
					resp.Stream(Markdown{Content: fmt.Sprintf("&#x2713; %s...", pre.Message), Detail: pre.Detail})
				}
				if pre.ConfirmationMessage != "" {
					confirmed, err := confirmToolCall(ctx, req, resp, call.ID, pre)
					if err != nil {
						slog.Error("chat: tool confirmation failed", "tool", call.Function.Name, "error", err)
						resp.Finish()
						return
					}
					if !confirmed {
						resp.Finish()
						return
					}
				}
			}

			result, err := tool.Call(ctx, req, resp, args)
			if err != nil {
				slog.Error("chat: tool call failed", "tool", call.Function.Name, "error", err)
				resp.Stream(Markdown{Content: msgToolLoopErr})
				resp.Finish()
				return
			}

			messages = append(messages, ToolMessage(call.ID, stringifyToolResult(result)))
		}
	}

	slog.Error("chat: tool call loop exceeded round limit")
	resp.Stream(Markdown{Content: msgToolLoopErr})
	resp.Finish()
}

func confirmToolCall(ctx context.Context, req *Request, resp Response, callbackID string, pre *PreInvokeResult) (bool, error) {
	resp.Stream(Confirmation{
		Title:   pre.ConfirmationTitle,
		Message: pre.ConfirmationMessage,
		ConfirmArgs: map[string]any{
			"id": resp.MessageID(),
			"data": map[string]any{
				"callback_id": callbackID,
				"data":        map[string]any{"confirmed": true},
			},
		},
		CancelArgs: map[string]any{
			"id": resp.MessageID(),
			"data": map[string]any{
				"callback_id": callbackID,
				"data":        map[string]any{"confirmed": false},
			},
		},
	})

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-req.Cancel.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	input, err := resp.WaitUserInput(waitCtx, callbackID)
	if err != nil {
		return false, err
	}
	confirmed, _ := input["confirmed"].(bool)
	return confirmed, nil
}

// bindToolArgs normalizes model-provided arguments against the tool
// schema. Arguments can arrive as a decoded map, a JSON string or a
// bare scalar; a scalar binds to the schema's only property when there
// is exactly one. Every required property must be present.
func bindToolArgs(raw any, schema ToolSchema) (map[string]any, bool) {
	props, _ := schema.Function.Parameters["properties"].(map[string]any)

	var args map[string]any
	switch v := raw.(type) {
	case nil:
		args = map[string]any{}
	case map[string]any:
		args = v
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") {
			args = jsonutil.FuzzyParse(trimmed)
		}
		if args == nil {
			if len(props) == 1 && v != "" {
				for name := range props {
					args = map[string]any{name: v}
				}
			} else {
				args = map[string]any{}
			}
		}
	default:
		return nil, false
	}

	required, _ := schema.Function.Parameters["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if _, ok := args[name]; !ok {
			return nil, false
		}
	}
	return args, true
}

func stringifyToolResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		return jsonutil.MustJSON(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func findTool(tools []Tool, name string) Tool {
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}
