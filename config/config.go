// Package config implements the layered Notebook Intelligence
// configuration: an environment-wide directory overridden by a
// per-user directory, each holding config.json and mcp.json.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/nbi-ai/nbi/mcp"
)

const (
	DefaultChatModeAsk = "ask"

	configFileName = "config.json"
	mcpFileName    = "mcp.json"
)

// PropertyValue is a persisted model or provider property setting.
type PropertyValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// ModelRef selects a model of a provider, with optional property
// overrides applied on activation.
type ModelRef struct {
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Properties []PropertyValue `json:"properties,omitempty"`
}

// Options configure an NBIConfig.
type Options struct {
	// ServerRootDir is the Jupyter server root directory.
	ServerRootDir string

	// EnvDir holds environment-wide configuration. Empty means the
	// NBI_ENV_DIR environment variable, or no environment layer.
	EnvDir string

	// UserDir holds per-user configuration. Empty means
	// ~/.jupyter/nbi.
	UserDir string
}

// NBIConfig is the merged configuration. Reads consult the user layer
// first and fall back to the environment layer; writes always go to
// the user layer.
type NBIConfig struct {
	serverRootDir string
	envDir        string
	userDir       string

	mu         sync.RWMutex
	envConfig  map[string]any
	userConfig map[string]any
	envMCP     map[string]any
	userMCP    map[string]any
}

func New(opts Options) *NBIConfig {
	envDir := opts.EnvDir
	if envDir == "" {
		envDir = os.Getenv("NBI_ENV_DIR")
	}
	userDir := opts.UserDir
	if userDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			userDir = filepath.Join(home, ".jupyter", "nbi")
		}
	}

	c := &NBIConfig{
		serverRootDir: opts.ServerRootDir,
		envDir:        envDir,
		userDir:       userDir,
	}
	c.Load()
	return c
}

// Load re-reads all configuration files from disk.
func (c *NBIConfig) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.envConfig = readConfigFile(filepath.Join(c.envDir, configFileName))
	c.userConfig = readConfigFile(filepath.Join(c.userDir, configFileName))
	c.envMCP = readMCPFile(filepath.Join(c.envDir, mcpFileName))
	c.userMCP = readMCPFile(filepath.Join(c.userDir, mcpFileName))
}

func readConfigFile(path string) map[string]any {
	if path == "" || path == configFileName {
		return map[string]any{}
	}
	if _, err := os.Stat(path); err != nil {
		return map[string]any{}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		slog.Error("failed to read configuration file", "path", path, "error", err)
		return map[string]any{}
	}
	return v.AllSettings()
}

// readMCPFile reads mcp.json with plain JSON decoding to preserve the
// camelCase server and participant keys.
func readMCPFile(path string) map[string]any {
	if path == "" || path == mcpFileName {
		return map[string]any{}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Error("failed to read MCP configuration file", "path", path, "error", err)
		return map[string]any{}
	}
	return data
}

// Save writes the user layer back to disk.
func (c *NBIConfig) Save() error {
	c.mu.RLock()
	userConfig := c.userConfig
	userMCP := c.userMCP
	c.mu.RUnlock()

	if err := os.MkdirAll(c.userDir, 0o755); err != nil {
		return fmt.Errorf("create user config directory: %w", err)
	}
	if err := writeJSONFile(filepath.Join(c.userDir, configFileName), userConfig); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(c.userDir, mcpFileName), userMCP)
}

func writeJSONFile(path string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write configuration file %s: %w", path, err)
	}
	return nil
}

func (c *NBIConfig) ServerRootDir() string { return c.serverRootDir }

// UserDir is the per-user configuration directory.
func (c *NBIConfig) UserDir() string { return c.userDir }

// Get returns the value for key, user layer over environment layer.
func (c *NBIConfig) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if value, ok := c.userConfig[key]; ok {
		return value, true
	}
	if value, ok := c.envConfig[key]; ok {
		return value, true
	}
	return nil, false
}

// Set stores a value in the user layer and persists it.
func (c *NBIConfig) Set(key string, value any) error {
	c.mu.Lock()
	if c.userConfig == nil {
		c.userConfig = map[string]any{}
	}
	c.userConfig[key] = value
	c.mu.Unlock()

	return c.Save()
}

func (c *NBIConfig) DefaultChatMode() string {
	if value, ok := c.Get("default_chat_mode"); ok {
		if mode, ok := value.(string); ok && mode != "" {
			return mode
		}
	}
	return DefaultChatModeAsk
}

func (c *NBIConfig) ChatModel() ModelRef {
	return c.modelRef("chat_model", ModelRef{Provider: "github-copilot", Model: "gpt-4.1"})
}

func (c *NBIConfig) InlineCompletionModel() ModelRef {
	return c.modelRef("inline_completion_model", ModelRef{Provider: "github-copilot", Model: "gpt-4o-copilot"})
}

func (c *NBIConfig) modelRef(key string, fallback ModelRef) ModelRef {
	value, ok := c.Get(key)
	if !ok {
		return fallback
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fallback
	}
	var ref ModelRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Provider == "" {
		return fallback
	}
	return ref
}

func (c *NBIConfig) StoreGitHubAccessToken() bool {
	if value, ok := c.Get("store_github_access_token"); ok {
		if store, ok := value.(bool); ok {
			return store
		}
	}
	return false
}

// UsingGitHubCopilotService reports whether either active model is
// served by GitHub Copilot.
func (c *NBIConfig) UsingGitHubCopilotService() bool {
	return c.ChatModel().Provider == "github-copilot" ||
		c.InlineCompletionModel().Provider == "github-copilot"
}

// MCP returns the merged MCP configuration, user layer over
// environment layer.
func (c *NBIConfig) MCP() *mcp.Config {
	c.mu.RLock()
	merged := make(map[string]any, len(c.envMCP)+len(c.userMCP))
	for k, v := range c.envMCP {
		merged[k] = v
	}
	for k, v := range c.userMCP {
		merged[k] = v
	}
	c.mu.RUnlock()

	raw, err := json.Marshal(merged)
	if err != nil {
		return &mcp.Config{}
	}
	cfg, err := mcp.ParseConfig(raw)
	if err != nil {
		slog.Error("invalid MCP configuration", "error", err)
		return &mcp.Config{}
	}
	return cfg
}

// MergedMCPRaw returns the merged MCP configuration as a generic map,
// user layer over environment layer, with the mcpServers key always
// present.
func (c *NBIConfig) MergedMCPRaw() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	merged := make(map[string]any, len(c.envMCP)+len(c.userMCP)+1)
	for k, v := range c.envMCP {
		merged[k] = v
	}
	for k, v := range c.userMCP {
		merged[k] = v
	}
	if _, ok := merged["mcpServers"]; !ok {
		merged["mcpServers"] = map[string]any{}
	}
	return merged
}

// UserMCPRaw returns the raw contents of the user mcp.json file.
func (c *NBIConfig) UserMCPRaw() ([]byte, error) {
	path := filepath.Join(c.userDir, mcpFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []byte("{}"), nil
	}
	return raw, err
}

// SetUserMCPRaw validates and replaces the user mcp.json file, then
// reloads the configuration.
func (c *NBIConfig) SetUserMCPRaw(raw []byte) error {
	if _, err := mcp.ParseConfig(raw); err != nil {
		return err
	}
	if err := os.MkdirAll(c.userDir, 0o755); err != nil {
		return fmt.Errorf("create user config directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.userDir, mcpFileName), raw, 0o644); err != nil {
		return fmt.Errorf("write mcp.json: %w", err)
	}
	c.Load()
	return nil
}
