package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbi-ai/nbi/chat"
	"github.com/nbi-ai/nbi/config"
)

func newTestManager(t *testing.T, userConfigJSON string) *Manager {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NBI_ENV_DIR", "")

	userDir := t.TempDir()
	if userConfigJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.json"), []byte(userConfigJSON), 0o644))
	}
	cfg := config.New(config.Options{
		ServerRootDir: t.TempDir(),
		EnvDir:        t.TempDir(),
		UserDir:       userDir,
	})
	m := NewManager(cfg)
	t.Cleanup(m.Stop)
	return m
}

type fakeProvider struct {
	chat.PropertySet
	id string
}

func (p *fakeProvider) ID() string   { return p.id }
func (p *fakeProvider) Name() string { return p.id }

func (p *fakeProvider) ChatModels() []chat.ChatModel { return nil }
func (p *fakeProvider) InlineCompletionModels() []chat.InlineCompletionModel {
	return nil
}

type fakeParticipant struct {
	id      string
	allowed []string
}

func (p *fakeParticipant) ID() string               { return p.id }
func (p *fakeParticipant) Name() string             { return p.id }
func (p *fakeParticipant) Description() string      { return p.id }
func (p *fakeParticipant) IconPath() string         { return "" }
func (p *fakeParticipant) Commands() []chat.Command { return nil }

func (p *fakeParticipant) Tools(req *chat.Request) []chat.Tool { return nil }

func (p *fakeParticipant) AllowedContextProviders() []string {
	if p.allowed == nil {
		return []string{"*"}
	}
	return p.allowed
}

func (p *fakeParticipant) HandleRequest(ctx context.Context, req *chat.Request, resp chat.Response) error {
	resp.Finish()
	return nil
}

type recordingResponse struct {
	events   []chat.Event
	finished bool
}

func (r *recordingResponse) ChatID() string    { return "chat-1" }
func (r *recordingResponse) MessageID() string { return "msg-1" }

func (r *recordingResponse) Stream(event chat.Event) { r.events = append(r.events, event) }
func (r *recordingResponse) Finish()                 { r.finished = true }

func (r *recordingResponse) RunUICommand(ctx context.Context, command string, args map[string]any) (map[string]any, error) {
	return nil, nil
}

func (r *recordingResponse) WaitUserInput(ctx context.Context, callbackID string) (map[string]any, error) {
	return nil, nil
}

type fakeContextProvider struct {
	id      string
	content string
}

func (p *fakeContextProvider) ID() string { return p.id }

func (p *fakeContextProvider) CompletionContext(req *chat.ContextRequest) chat.CompletionContext {
	return chat.CompletionContext{Items: []chat.ContextItem{
		{Type: chat.ContextTypeProvider, Content: p.content, FilePath: p.id + ".py"},
	}}
}

func TestRegisterProviderGuards(t *testing.T) {
	m := newTestManager(t, "")

	m.RegisterProvider(&fakeProvider{id: "openai"})
	assert.Nil(t, m.Provider("openai"))

	m.RegisterProvider(&fakeProvider{id: "custom"})
	require.NotNil(t, m.Provider("custom"))

	duplicate := &fakeProvider{id: "custom"}
	m.RegisterProvider(duplicate)
	assert.NotSame(t, duplicate, m.Provider("custom"))
}

func TestRegisterParticipantGuards(t *testing.T) {
	m := newTestManager(t, "")

	m.RegisterParticipant(&fakeParticipant{id: "jupyter"})
	assert.Nil(t, m.Participant("jupyter"))

	m.RegisterParticipant(&fakeParticipant{id: "docs"})
	require.NotNil(t, m.Participant("docs"))

	duplicate := &fakeParticipant{id: "docs"}
	m.RegisterParticipant(duplicate)
	assert.NotSame(t, duplicate, m.Participant("docs"))
}

func TestRouteFallsBackToDefaultParticipant(t *testing.T) {
	m := newTestManager(t, "")

	participant, parsed := m.Route("hello there")
	require.NotNil(t, participant)
	assert.Equal(t, DefaultParticipantID, participant.ID())
	assert.Equal(t, "hello there", parsed.Prompt)

	participant, parsed = m.Route("@unknown do something")
	assert.Equal(t, DefaultParticipantID, participant.ID())
	assert.Equal(t, DefaultParticipantID, parsed.ParticipantID)
}

func TestRouteMentionAndCommand(t *testing.T) {
	m := newTestManager(t, "")

	participant, parsed := m.Route("@test /repeat say hi")
	require.NotNil(t, participant)
	assert.Equal(t, "test", participant.ID())
	assert.Equal(t, "repeat", parsed.Command)
	assert.Equal(t, "say hi", parsed.Prompt)
}

func TestDefaultParticipantFollowsChatProvider(t *testing.T) {
	m := newTestManager(t, "")
	assert.Equal(t, "GitHub Copilot", m.Participant(DefaultParticipantID).Name())

	m = newTestManager(t, `{
		"chat_model": {"provider": "ollama", "model": "qwen2.5-coder"},
		"inline_completion_model": {"provider": "ollama", "model": "qwen2.5-coder"}
	}`)
	assert.Equal(t, "AI Assistant", m.Participant(DefaultParticipantID).Name())
}

func TestDefaultParticipantIsListedFirst(t *testing.T) {
	m := newTestManager(t, "")

	participants := m.Participants()
	require.NotEmpty(t, participants)
	assert.Equal(t, DefaultParticipantID, participants[0].ID())
}

func TestUpdateModelsFromConfigAppliesProperties(t *testing.T) {
	m := newTestManager(t, `{
		"chat_model": {
			"provider": "openai-compatible",
			"model": "openai-compatible-chat-model",
			"properties": [
				{"id": "model_id", "value": "gpt-4o"},
				{"id": "api_key", "value": "sk-test"},
				{"id": "context_window", "value": "32768"}
			]
		}
	}`)

	model := m.ChatModel()
	require.NotNil(t, model)
	assert.Equal(t, "openai-compatible", model.Provider().ID())
	assert.Equal(t, 32768, model.ContextWindow())

	var modelID string
	for _, prop := range model.Properties() {
		if prop.ID == "model_id" {
			modelID = prop.Value
		}
	}
	assert.Equal(t, "gpt-4o", modelID)
}

func TestChatModelNilForUnknownProvider(t *testing.T) {
	m := newTestManager(t, `{
		"chat_model": {"provider": "nonexistent", "model": "what"}
	}`)

	assert.Nil(t, m.ChatModel())
}

func TestHandleChatRequestWithoutModel(t *testing.T) {
	m := newTestManager(t, `{
		"chat_model": {"provider": "nonexistent", "model": "what"}
	}`)

	resp := &recordingResponse{}
	err := m.HandleChatRequest(context.Background(), &chat.Request{Prompt: "hello"}, resp)
	require.NoError(t, err)
	require.True(t, resp.finished)
	require.Len(t, resp.events, 2)

	markdown, ok := resp.events[0].(chat.Markdown)
	require.True(t, ok)
	assert.Equal(t, "Chat model is not set!", markdown.Content)

	button, ok := resp.events[1].(chat.Button)
	require.True(t, ok)
	assert.Equal(t, "Configure", button.Title)
	assert.Equal(t, "notebook-intelligence:open-configuration-dialog", button.CommandID)
}

func TestHandleChatRequestRoutesToParticipant(t *testing.T) {
	m := newTestManager(t, `{
		"chat_model": {
			"provider": "openai-compatible",
			"model": "openai-compatible-chat-model",
			"properties": [{"id": "model_id", "value": "gpt-4o"}]
		}
	}`)

	resp := &recordingResponse{}
	req := &chat.Request{Prompt: "@test /repeat hello"}
	require.NoError(t, m.HandleChatRequest(context.Background(), req, resp))
	assert.True(t, resp.finished)
	assert.Equal(t, "repeat", req.Command)
	assert.Equal(t, "hello", req.Prompt)
	assert.Same(t, m, req.Host)

	require.NotEmpty(t, resp.events)
	markdown, ok := resp.events[0].(chat.Markdown)
	require.True(t, ok)
	assert.Equal(t, "repeating: hello", markdown.Content)
}

func TestCapabilitiesPayload(t *testing.T) {
	m := newTestManager(t, "")

	caps := m.Capabilities()

	for _, key := range []string{
		"user_home_dir", "nbi_user_config_dir", "using_github_copilot_service",
		"llm_providers", "chat_models", "inline_completion_models",
		"chat_model", "inline_completion_model", "chat_participants",
		"store_github_access_token", "tool_config", "default_chat_mode",
	} {
		assert.Contains(t, caps, key)
	}

	providers := caps["llm_providers"].([]map[string]any)
	providerIDs := make([]string, 0, len(providers))
	for _, provider := range providers {
		providerIDs = append(providerIDs, provider["id"].(string))
	}
	assert.Equal(t, []string{"github-copilot", "openai-compatible", "litellm-compatible", "ollama"}, providerIDs)

	toolConfig := caps["tool_config"].(map[string]any)
	assert.Contains(t, toolConfig, "builtinToolsets")
	assert.Contains(t, toolConfig, "mcpServers")
	assert.Contains(t, toolConfig, "extensions")

	participants := caps["chat_participants"].([]map[string]any)
	require.NotEmpty(t, participants)
	assert.Equal(t, DefaultParticipantID, participants[0]["id"])
	assert.Equal(t, "ask", caps["default_chat_mode"])
}

func TestCompletionContextFiltersByParticipant(t *testing.T) {
	m := newTestManager(t, "")
	m.RegisterCompletionContextProvider(&fakeContextProvider{id: "history", content: "import pandas"})
	m.RegisterCompletionContextProvider(&fakeContextProvider{id: "kernel", content: "df.head()"})

	req := &chat.ContextRequest{
		Type:        chat.ContextRequestInlineCompletion,
		Prefix:      "df.",
		Participant: &fakeParticipant{id: "docs"},
	}
	cc := m.CompletionContext(req)
	require.Len(t, cc.Items, 2)
	assert.Equal(t, "import pandas", cc.Items[0].Content)
	assert.Equal(t, "df.head()", cc.Items[1].Content)

	req.Participant = &fakeParticipant{id: "docs", allowed: []string{"kernel"}}
	cc = m.CompletionContext(req)
	require.Len(t, cc.Items, 1)
	assert.Equal(t, "kernel.py", cc.Items[0].FilePath)

	req.Participant = nil
	assert.Empty(t, m.CompletionContext(req).Items)
}

func TestRegisterCompletionContextProviderRejectsDuplicate(t *testing.T) {
	m := newTestManager(t, "")
	m.RegisterCompletionContextProvider(&fakeContextProvider{id: "history", content: "first"})
	m.RegisterCompletionContextProvider(&fakeContextProvider{id: "history", content: "second"})

	cc := m.CompletionContext(&chat.ContextRequest{
		Type:        chat.ContextRequestInlineCompletion,
		Participant: &fakeParticipant{id: "docs"},
	})
	require.Len(t, cc.Items, 1)
	assert.Equal(t, "first", cc.Items[0].Content)
}

func TestExtensionToolsets(t *testing.T) {
	m := newTestManager(t, "")

	toolset := &chat.Toolset{ID: "markdown", Name: "Markdown tools"}
	m.RegisterExtensionToolset("my-extension", toolset)

	assert.Same(t, toolset, m.ExtensionToolset("my-extension", "markdown"))
	assert.Nil(t, m.ExtensionToolset("my-extension", "other"))
	assert.Nil(t, m.ExtensionToolset("unknown", "markdown"))
}

func TestMCPServerToolsUnknownServer(t *testing.T) {
	m := newTestManager(t, "")

	assert.Nil(t, m.MCPServerTools("unknown", nil))
}

func TestReloadMCPServersPicksUpConfig(t *testing.T) {
	m := newTestManager(t, "")
	assert.Empty(t, m.MCPServers())

	mcpJSON := `{
		"mcpServers": {
			"files": {"command": "mcp-files", "args": ["--root", "."]}
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(m.Config().UserDir(), "mcp.json"), []byte(mcpJSON), 0o644))

	m.ReloadMCPServers()
	assert.Equal(t, []string{"files"}, m.MCPServers())
	require.NotNil(t, m.Participant("mcp"))
}
