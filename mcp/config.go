// Package mcp integrates Model Context Protocol servers as chat
// participants and tool sources.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServerConfig describes one MCP server. Servers started over stdio
// set Command; remote servers set URL instead.
type ServerConfig struct {
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	AutoApprove []string          `json:"autoApprove,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
}

// Stdio reports whether the server runs as a local child process.
func (c ServerConfig) Stdio() bool { return c.Command != "" }

// ParticipantConfig groups servers under a custom chat participant.
type ParticipantConfig struct {
	Name     string   `json:"name,omitempty"`
	Servers  []string `json:"servers,omitempty"`
	NBITools []string `json:"nbiTools,omitempty"`
}

// Config is the schema of the mcp.json configuration file.
type Config struct {
	MCPServers   map[string]ServerConfig      `json:"mcpServers"`
	Participants map[string]ParticipantConfig `json:"participants,omitempty"`
}

// ParseConfig parses an mcp.json document.
func ParseConfig(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse MCP configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses an mcp.json file. A missing file yields
// an empty configuration.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read MCP configuration: %w", err)
	}
	return ParseConfig(raw)
}
