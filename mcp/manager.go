package mcp

import (
	"context"
	"log/slog"
	"sort"
)

// Manager builds the MCP participants and servers from an mcp.json
// configuration. Named participants get their listed servers; enabled
// servers no participant claims are grouped under the generic "mcp"
// participant.
type Manager struct {
	participants []*Participant
	servers      []*Server
}

func NewManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		return m
	}

	claimed := map[string]bool{}

	for _, participantID := range sortedKeys(cfg.Participants) {
		participantCfg := cfg.Participants[participantID]
		name := participantCfg.Name
		if name == "" {
			name = participantID
		}
		// "mcp" names the catch-all participant below.
		if name == "mcp" {
			continue
		}

		servers := m.createServers(participantCfg.Servers, cfg.MCPServers)
		if len(servers) == 0 {
			continue
		}
		for _, server := range servers {
			claimed[server.Name()] = true
		}
		m.participants = append(m.participants, NewParticipant("mcp-"+participantID, name, servers, participantCfg.NBITools))
		m.servers = append(m.servers, servers...)
	}

	var unclaimed []string
	for _, serverName := range sortedKeys(cfg.MCPServers) {
		if !cfg.MCPServers[serverName].Disabled && !claimed[serverName] {
			unclaimed = append(unclaimed, serverName)
		}
	}
	if len(unclaimed) > 0 {
		servers := m.createServers(unclaimed, cfg.MCPServers)
		m.participants = append(m.participants, NewParticipant("mcp", "MCP", servers, cfg.Participants["mcp"].NBITools))
		m.servers = append(m.servers, servers...)
	}

	go m.warmUpToolLists()

	return m
}

func (m *Manager) createServers(names []string, configs map[string]ServerConfig) []*Server {
	var servers []*Server
	for _, name := range names {
		cfg, ok := configs[name]
		if !ok {
			slog.Error("server not found in MCP servers configuration", "server", name)
			continue
		}
		if cfg.Disabled {
			slog.Info("MCP server is disabled, skipping", "server", name)
			continue
		}
		if !cfg.Stdio() && cfg.URL == "" {
			slog.Error("invalid MCP server configuration", "server", name)
			continue
		}
		servers = append(servers, NewServer(name, cfg))
	}
	return servers
}

// warmUpToolLists connects each server once in the background so tool
// lists are already cached when the first request arrives.
func (m *Manager) warmUpToolLists() {
	for _, server := range m.servers {
		if err := server.Connect(context.Background()); err != nil {
			slog.Error("failed to initialize tool list for MCP server", "server", server.Name(), "error", err)
			continue
		}
		server.Disconnect()
	}
}

func (m *Manager) Participants() []*Participant {
	return append([]*Participant(nil), m.participants...)
}

func (m *Manager) Servers() []*Server {
	return append([]*Server(nil), m.servers...)
}

func (m *Manager) Server(name string) *Server {
	for _, server := range m.servers {
		if server.Name() == name {
			return server
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
