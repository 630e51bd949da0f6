package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDefaults(t *testing.T) {
	cfg := New(Options{EnvDir: t.TempDir(), UserDir: t.TempDir()})

	assert.Equal(t, "ask", cfg.DefaultChatMode())
	assert.Equal(t, ModelRef{Provider: "github-copilot", Model: "gpt-4.1"}, cfg.ChatModel())
	assert.Equal(t, ModelRef{Provider: "github-copilot", Model: "gpt-4o-copilot"}, cfg.InlineCompletionModel())
	assert.False(t, cfg.StoreGitHubAccessToken())
	assert.True(t, cfg.UsingGitHubCopilotService())
}

func TestUserLayerOverridesEnvLayer(t *testing.T) {
	envDir := t.TempDir()
	userDir := t.TempDir()
	writeFile(t, envDir, "config.json", `{
		"default_chat_mode": "agent",
		"store_github_access_token": true
	}`)
	writeFile(t, userDir, "config.json", `{
		"default_chat_mode": "ask",
		"chat_model": {"provider": "ollama", "model": "qwen2.5-coder"}
	}`)

	cfg := New(Options{EnvDir: envDir, UserDir: userDir})

	assert.Equal(t, "ask", cfg.DefaultChatMode())
	assert.True(t, cfg.StoreGitHubAccessToken())
	assert.Equal(t, "ollama", cfg.ChatModel().Provider)
	assert.Equal(t, "qwen2.5-coder", cfg.ChatModel().Model)
	assert.True(t, cfg.UsingGitHubCopilotService())
}

func TestSetPersistsToUserLayer(t *testing.T) {
	userDir := t.TempDir()
	cfg := New(Options{EnvDir: t.TempDir(), UserDir: userDir})

	require.NoError(t, cfg.Set("default_chat_mode", "agent"))

	reloaded := New(Options{EnvDir: t.TempDir(), UserDir: userDir})
	assert.Equal(t, "agent", reloaded.DefaultChatMode())
}

func TestChatModelProperties(t *testing.T) {
	userDir := t.TempDir()
	writeFile(t, userDir, "config.json", `{
		"chat_model": {
			"provider": "openai-compatible",
			"model": "openai-compatible-chat-model",
			"properties": [
				{"id": "model_id", "value": "gpt-4o-mini"},
				{"id": "api_key", "value": "sk-test"}
			]
		}
	}`)

	cfg := New(Options{EnvDir: t.TempDir(), UserDir: userDir})

	ref := cfg.ChatModel()
	assert.Equal(t, "openai-compatible", ref.Provider)
	require.Len(t, ref.Properties, 2)
	assert.Equal(t, "model_id", ref.Properties[0].ID)
	assert.Equal(t, "gpt-4o-mini", ref.Properties[0].Value)
	assert.False(t, cfg.UsingGitHubCopilotService())
}

func TestMCPMerge(t *testing.T) {
	envDir := t.TempDir()
	userDir := t.TempDir()
	writeFile(t, envDir, "mcp.json", `{
		"mcpServers": {"env-server": {"command": "env-cmd"}}
	}`)
	writeFile(t, userDir, "mcp.json", `{
		"mcpServers": {"user-server": {"url": "http://localhost:9000/sse"}}
	}`)

	cfg := New(Options{EnvDir: envDir, UserDir: userDir})

	mcpCfg := cfg.MCP()
	// The user layer replaces the whole mcpServers section.
	require.Len(t, mcpCfg.MCPServers, 1)
	assert.Contains(t, mcpCfg.MCPServers, "user-server")
}

func TestSetUserMCPRaw(t *testing.T) {
	userDir := t.TempDir()
	cfg := New(Options{EnvDir: t.TempDir(), UserDir: userDir})

	raw, err := cfg.UserMCPRaw()
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(raw))

	require.Error(t, cfg.SetUserMCPRaw([]byte("{bad")))

	updated := `{"mcpServers": {"files": {"command": "npx"}}}`
	require.NoError(t, cfg.SetUserMCPRaw([]byte(updated)))

	mcpCfg := cfg.MCP()
	assert.Contains(t, mcpCfg.MCPServers, "files")
}
