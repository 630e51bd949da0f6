package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbi-ai/nbi/config"
	"github.com/nbi-ai/nbi/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NBI_ENV_DIR", "")

	cfg := config.New(config.Options{
		ServerRootDir: t.TempDir(),
		EnvDir:        t.TempDir(),
		UserDir:       t.TempDir(),
	})
	manager := service.NewManager(cfg)
	t.Cleanup(manager.Stop)
	return New(manager, Options{Host: "127.0.0.1", Port: 0})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestGetCapabilities(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/notebook-intelligence/capabilities", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, body, "chat_models")
	assert.Contains(t, body, "chat_participants")
	assert.Contains(t, body, "tool_config")
	assert.Equal(t, "ask", body["default_chat_mode"])
	assert.Equal(t, true, body["using_github_copilot_service"])
}

func TestPostConfig(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/notebook-intelligence/config", `{
		"default_chat_mode": "agent",
		"not_a_valid_key": "ignored"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := srv.manager.Config()
	assert.Equal(t, "agent", cfg.DefaultChatMode())
	_, ok := cfg.Get("not_a_valid_key")
	assert.False(t, ok)
}

func TestPostConfigSwitchesChatModel(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/notebook-intelligence/config", `{
		"chat_model": {
			"provider": "openai-compatible",
			"model": "openai-compatible-chat-model",
			"properties": [{"id": "model_id", "value": "gpt-4o"}]
		}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	model := srv.manager.ChatModel()
	require.NotNil(t, model)
	assert.Equal(t, "openai-compatible", model.Provider().ID())
}

func TestUpdateProviderModelsRequiresBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/notebook-intelligence/update-provider-models", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadMCPServers(t *testing.T) {
	srv := newTestServer(t)

	mcpJSON := `{"mcpServers": {"files": {"command": "mcp-files"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(srv.manager.Config().UserDir(), "mcp.json"), []byte(mcpJSON), 0o644))

	rec, body := doJSON(t, srv, http.MethodPost, "/notebook-intelligence/reload-mcp-servers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	servers := body["mcpServers"].([]any)
	require.Len(t, servers, 1)
	assert.Equal(t, "files", servers[0].(map[string]any)["id"])
}

func TestMCPConfigFileRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/notebook-intelligence/mcp-config-file", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{}, body["mcpServers"])

	rec, body = doJSON(t, srv, http.MethodPost, "/notebook-intelligence/mcp-config-file", `{
		"mcpServers": {"weather": {"url": "https://weather.example.com/sse"}}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = doJSON(t, srv, http.MethodGet, "/notebook-intelligence/mcp-config-file", "")
	require.Equal(t, http.StatusOK, rec.Code)
	servers := body["mcpServers"].(map[string]any)
	assert.Contains(t, servers, "weather")
}

func TestMCPConfigFileRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/notebook-intelligence/mcp-config-file", strings.NewReader(`{"mcpServers": [1, 2]}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestGitHubLoginStatus(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/notebook-intelligence/gh-login-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NOT_LOGGED_IN", body["status"])
}

func TestGitHubLogout(t *testing.T) {
	srv := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/notebook-intelligence/gh-logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NOT_LOGGED_IN", body["status"])
}
