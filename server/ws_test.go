package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbi-ai/nbi/chat"
)

type envelopeCapture struct {
	mu        sync.Mutex
	envelopes []map[string]any
}

func (c *envelopeCapture) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, v.(map[string]any))
	return nil
}

func (c *envelopeCapture) all() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.envelopes...)
}

func (c *envelopeCapture) last(t *testing.T) map[string]any {
	t.Helper()
	envelopes := c.all()
	require.NotEmpty(t, envelopes)
	return envelopes[len(envelopes)-1]
}

func nbiContentOf(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	data := envelope["data"].(map[string]any)
	choices := data["choices"].([]any)
	require.Len(t, choices, 1)
	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, "", delta["content"])
	assert.Equal(t, "assistant", delta["role"])
	return delta["nbiContent"].(map[string]any)
}

func TestEmitterMarkdown(t *testing.T) {
	capture := &envelopeCapture{}
	history := chat.NewHistory()
	em := newEmitter("chat-1", "msg-1", capture.write, history)
	em.SetParticipant("default")

	em.Stream(chat.Markdown{Content: "**hello**", Detail: map[string]any{"key": "value"}})

	envelope := capture.last(t)
	assert.Equal(t, "msg-1", envelope["id"])
	assert.Equal(t, "default", envelope["participant"])
	assert.Equal(t, messageStreamMessage, envelope["type"])
	assert.NotEmpty(t, envelope["created"])

	content := nbiContentOf(t, envelope)
	assert.Equal(t, string(chat.EventMarkdown), content["type"])
	assert.Equal(t, "**hello**", content["content"])
	assert.Equal(t, map[string]any{"key": "value"}, content["detail"])

	messages := history.Messages("chat-1")
	require.Len(t, messages, 1)
	assert.Equal(t, chat.RoleAssistant, messages[0].Role)
	assert.Equal(t, "**hello**", messages[0].Content)
}

func TestEmitterMarkdownPartsAccumulate(t *testing.T) {
	capture := &envelopeCapture{}
	history := chat.NewHistory()
	em := newEmitter("chat-1", "msg-1", capture.write, history)

	em.Stream(chat.MarkdownPart{Content: "Hello "})
	em.Stream(chat.MarkdownPart{Content: "world"})
	em.Finish()

	envelope := capture.last(t)
	assert.Equal(t, messageStreamEnd, envelope["type"])
	assert.Equal(t, map[string]any{}, envelope["data"])

	messages := history.Messages("chat-1")
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello world", messages[0].Content)
}

func TestEmitterRawChunkContent(t *testing.T) {
	capture := &envelopeCapture{}
	history := chat.NewHistory()
	em := newEmitter("chat-1", "msg-1", capture.write, history)

	chunk := map[string]any{
		"choices": []any{
			map[string]any{"delta": map[string]any{"content": "streamed text", "role": "assistant"}},
		},
	}
	em.Stream(chat.RawChunk{Chunk: chunk})
	em.Finish()

	first := capture.all()[0]
	assert.Equal(t, chunk, first["data"])

	messages := history.Messages("chat-1")
	require.Len(t, messages, 1)
	assert.Equal(t, "streamed text", messages[0].Content)
}

func TestEmitterRawChunkWithoutChoices(t *testing.T) {
	capture := &envelopeCapture{}
	em := newEmitter("chat-1", "msg-1", capture.write, chat.NewHistory())

	chunk := map[string]any{"completions": "def add(a, b):"}
	em.Stream(chat.RawChunk{Chunk: chunk})

	envelope := capture.last(t)
	assert.Equal(t, chunk, envelope["data"])
}

func TestEmitterButtonDefaults(t *testing.T) {
	capture := &envelopeCapture{}
	em := newEmitter("chat-1", "msg-1", capture.write, chat.NewHistory())

	em.Stream(chat.Button{Title: "Configure", CommandID: "notebook-intelligence:open-configuration-dialog"})

	content := nbiContentOf(t, capture.last(t))
	assert.Equal(t, string(chat.EventButton), content["type"])
	button := content["content"].(map[string]any)
	assert.Equal(t, "Configure", button["title"])
	assert.Equal(t, "notebook-intelligence:open-configuration-dialog", button["commandId"])
	assert.Equal(t, map[string]any{}, button["args"])
}

func TestEmitterConfirmationDefaults(t *testing.T) {
	capture := &envelopeCapture{}
	em := newEmitter("chat-1", "msg-1", capture.write, chat.NewHistory())

	em.Stream(chat.Confirmation{Title: "Run tool", Message: "Are you sure?"})

	content := nbiContentOf(t, capture.last(t))
	confirmation := content["content"].(map[string]any)
	assert.Equal(t, "Run tool", confirmation["title"])
	assert.Equal(t, "Are you sure?", confirmation["message"])
	assert.Equal(t, "Approve", confirmation["confirmLabel"])
	assert.Equal(t, "Cancel", confirmation["cancelLabel"])
	assert.Equal(t, map[string]any{}, confirmation["confirmArgs"])
	assert.Equal(t, map[string]any{}, confirmation["cancelArgs"])
}

func TestEmitterHTMLFrameAndAnchor(t *testing.T) {
	capture := &envelopeCapture{}
	em := newEmitter("chat-1", "msg-1", capture.write, chat.NewHistory())

	em.Stream(chat.HTMLFrame{Source: "<p>hi</p>", Height: 120})
	frame := nbiContentOf(t, capture.last(t))["content"].(map[string]any)
	assert.Equal(t, "<p>hi</p>", frame["source"])
	assert.Equal(t, 120, frame["height"])

	em.Stream(chat.Anchor{URI: "https://example.com", Title: "Example"})
	anchor := nbiContentOf(t, capture.last(t))["content"].(map[string]any)
	assert.Equal(t, "https://example.com", anchor["uri"])
	assert.Equal(t, "Example", anchor["title"])
}

func TestEmitterRunUICommand(t *testing.T) {
	capture := &envelopeCapture{}
	em := newEmitter("chat-1", "msg-1", capture.write, chat.NewHistory())

	type cmdResult struct {
		result map[string]any
		err    error
	}
	done := make(chan cmdResult, 1)
	go func() {
		result, err := em.RunUICommand(context.Background(), "notebook-intelligence:create-new-file", map[string]any{"code": "pass"})
		done <- cmdResult{result, err}
	}()

	var callbackID string
	require.Eventually(t, func() bool {
		envelopes := capture.all()
		if len(envelopes) == 0 {
			return false
		}
		data := envelopes[len(envelopes)-1]["data"].(map[string]any)
		callbackID, _ = data["callback_id"].(string)
		return callbackID != ""
	}, time.Second, 5*time.Millisecond)

	envelope := capture.last(t)
	assert.Equal(t, messageRunUICommand, envelope["type"])
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "notebook-intelligence:create-new-file", data["commandId"])
	assert.Equal(t, map[string]any{"code": "pass"}, data["args"])

	em.onRunUICommandResponse(map[string]any{
		"callback_id": callbackID,
		"result":      map[string]any{"path": "untitled.py"},
	})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, map[string]any{"path": "untitled.py"}, res.result)
}

func TestEmitterWaitUserInput(t *testing.T) {
	em := newEmitter("chat-1", "msg-1", (&envelopeCapture{}).write, chat.NewHistory())

	type inputResult struct {
		input map[string]any
		err   error
	}
	done := make(chan inputResult, 1)
	go func() {
		input, err := em.WaitUserInput(context.Background(), "cb-1")
		done <- inputResult{input, err}
	}()

	require.Eventually(t, func() bool {
		em.mu.Lock()
		defer em.mu.Unlock()
		return em.inputWaiters["cb-1"] != nil
	}, time.Second, 5*time.Millisecond)

	em.onUserInput(map[string]any{
		"callback_id": "cb-1",
		"data":        map[string]any{"confirmed": true},
	})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, map[string]any{"confirmed": true}, res.input)
}

func TestEmitterWaitUserInputContextCancelled(t *testing.T) {
	em := newEmitter("chat-1", "msg-1", (&envelopeCapture{}).write, chat.NewHistory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := em.WaitUserInput(ctx, "cb-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChatRequestDataDecoding(t *testing.T) {
	raw := `{
		"chatId": "chat-1",
		"prompt": "@test /repeat hi",
		"language": "python",
		"filename": "analysis.ipynb",
		"chatMode": "agent",
		"toolSelections": {
			"builtinToolsets": ["notebook-edit"],
			"mcpServers": {"files": ["read_file"]},
			"extensions": {"ext": {"toolset": ["tool"]}}
		},
		"additionalContext": [
			{
				"filePath": "nb/analysis.ipynb",
				"startLine": 1,
				"endLine": 20,
				"content": "import pandas",
				"currentCellContents": {"input": "df.head()", "output": "..."}
			}
		]
	}`

	var data chatRequestData
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	assert.Equal(t, "chat-1", data.ChatID)
	assert.Equal(t, "agent", data.ChatMode)
	assert.Equal(t, []string{"notebook-edit"}, data.ToolSelections.BuiltinToolsets)
	assert.Equal(t, map[string][]string{"files": {"read_file"}}, data.ToolSelections.MCPServers)
	require.Len(t, data.AdditionalContext, 1)
	require.NotNil(t, data.AdditionalContext[0].CurrentCellContents)
	assert.Equal(t, "df.head()", data.AdditionalContext[0].CurrentCellContents.Input)
}

func TestApproxTokenCount(t *testing.T) {
	assert.Equal(t, 0, approxTokenCount(""))
	assert.Equal(t, 1, approxTokenCount("abc"))
	assert.Equal(t, 1, approxTokenCount("abcd"))
	assert.Equal(t, 2, approxTokenCount("abcde"))
}
