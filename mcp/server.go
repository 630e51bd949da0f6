package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/nbi-ai/nbi/chat"
)

const (
	protocolVersion = "2025-06-18"
	toolCallTimeout = 60 * time.Second

	clientName    = "Notebook Intelligence"
	clientVersion = "2.0.0"
)

// Server is a configured MCP server connection. Connections are
// established lazily and the tool list is cached after the first
// successful fetch.
type Server struct {
	name   string
	config ServerConfig

	autoApprove map[string]bool

	mu            sync.Mutex
	client        *client.Client
	tools         []mcptypes.Tool
	triedToolList bool
}

func NewServer(name string, config ServerConfig) *Server {
	autoApprove := make(map[string]bool, len(config.AutoApprove))
	for _, tool := range config.AutoApprove {
		autoApprove[tool] = true
	}
	return &Server{
		name:        name,
		config:      config,
		autoApprove: autoApprove,
	}
}

func (s *Server) Name() string { return s.name }

// Connect establishes the client connection and fetches the tool list
// if it was never fetched before. Connecting an already connected
// server is a no-op.
func (s *Server) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Server) connectLocked(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	mcpClient, err := s.newClient(ctx)
	if err != nil {
		return fmt.Errorf("connect to MCP server %q: %w", s.name, err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize MCP server %q: %w", s.name, err)
	}

	s.client = mcpClient

	if !s.triedToolList {
		result, err := mcpClient.ListTools(ctx, mcptypes.ListToolsRequest{})
		if err != nil {
			s.client = nil
			mcpClient.Close()
			return fmt.Errorf("list tools of MCP server %q: %w", s.name, err)
		}
		s.tools = result.Tools
		s.triedToolList = true
	}

	return nil
}

func (s *Server) newClient(ctx context.Context) (*client.Client, error) {
	if s.config.Stdio() {
		env := os.Environ()
		for k, v := range s.config.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(s.config.Command, env, s.config.Args...)
	}

	if s.config.URL == "" {
		return nil, fmt.Errorf("server has neither a command nor a URL")
	}

	var opts []transport.ClientOption
	if len(s.config.Headers) > 0 {
		opts = append(opts, transport.WithHeaders(s.config.Headers))
	}
	mcpClient, err := client.NewSSEMCPClient(s.config.URL, opts...)
	if err != nil {
		return nil, err
	}
	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("start SSE transport: %w", err)
	}
	return mcpClient, nil
}

// Disconnect closes the client connection. The cached tool list
// survives so tools remain listable while disconnected.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		slog.Warn("failed to close MCP client", "server", s.name, "error", err)
	}
	s.client = nil
}

// CallTool invokes a tool on the server, connecting first if needed.
func (s *Server) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcptypes.CallToolResult, error) {
	s.mu.Lock()
	if err := s.connectLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	mcpClient := s.client
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	result, err := mcpClient.CallTool(callCtx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %q on MCP server %q: %w", toolName, s.name, err)
	}
	return result, nil
}

// Tools returns the server's tools wrapped as chat tools.
func (s *Server) Tools() []chat.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tools := make([]chat.Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, &serverTool{
			server:      s,
			tool:        tool,
			autoApprove: s.autoApprove[tool.Name],
		})
	}
	return tools
}

func (s *Server) Tool(name string) chat.Tool {
	for _, tool := range s.Tools() {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}
