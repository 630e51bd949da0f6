package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinParticipantAskTools(t *testing.T) {
	p := NewBuiltinParticipant()
	req := newTestRequest(nil)
	req.Mode = ModeAsk

	tools := p.Tools(req)
	require.Len(t, tools, 3)
	assert.Equal(t, "add_markdown_cell_to_notebook", tools[0].Name())
	assert.Equal(t, "add_code_cell_to_notebook", tools[1].Name())
	assert.Equal(t, "python", tools[2].Name())
}

func TestBuiltinParticipantAgentTools(t *testing.T) {
	p := NewBuiltinParticipant()
	req := newTestRequest(nil)
	req.Mode = ModeAgent
	req.ToolSelection = ToolSelection{
		BuiltinToolsets: []string{ToolsetNotebookExecute},
	}

	tools := p.Tools(req)
	require.Len(t, tools, 1)
	assert.Equal(t, "run_cell", tools[0].Name())
}

func TestBuiltinParticipantNewNotebook(t *testing.T) {
	model := &fakeModel{results: []*CompletionResult{
		{Content: "```python\nprint('hi')\n```"},
		{Content: "# Greeting\n\nPrints a greeting."},
	}}
	p := NewBuiltinParticipant()
	resp := newFakeResponse()
	resp.uiResults["notebook-intelligence:create-new-notebook-from-py"] = map[string]any{"path": "Untitled.ipynb"}
	req := newTestRequest(model)
	req.Command = "newNotebook"

	require.NoError(t, p.HandleRequest(context.Background(), req, resp))

	assert.Equal(t, []string{
		"notebook-intelligence:create-new-notebook-from-py",
		"notebook-intelligence:add-markdown-cell-to-notebook",
		"notebook-intelligence:add-code-cell-to-notebook",
	}, resp.uiCalls)
	assert.Contains(t, resp.markdownContents(), "Notebook 'Untitled.ipynb' created and opened successfully")
	assert.Equal(t, 1, resp.finished)

	// generation calls are aggregate, not streaming
	require.Len(t, model.calls, 2)
	assert.False(t, model.calls[0].streaming)
}

func TestBuiltinParticipantAskStreams(t *testing.T) {
	model := &fakeModel{}
	p := NewBuiltinParticipant()
	resp := newFakeResponse()
	req := newTestRequest(model)

	require.NoError(t, p.HandleRequest(context.Background(), req, resp))

	require.Len(t, model.calls, 1)
	assert.True(t, model.calls[0].streaming)
	require.NotEmpty(t, model.calls[0].messages)
	assert.Equal(t, RoleSystem, model.calls[0].messages[0].Role)
	assert.Contains(t, model.calls[0].messages[0].Content, "Fake Provider")

	// non Copilot providers show a progress indicator first
	require.NotEmpty(t, resp.events)
	assert.Equal(t, EventProgress, resp.events[0].Type())
}

func TestExtractGeneratedCode(t *testing.T) {
	assert.Equal(t, "print('hi')\n", ExtractGeneratedCode("```python\nprint('hi')\n```"))
	assert.Equal(t, "print('hi')", ExtractGeneratedCode("Here you go:\n```\nprint('hi')\n```\nEnjoy!"))
	assert.Equal(t, "plain code", ExtractGeneratedCode("plain code"))
}
