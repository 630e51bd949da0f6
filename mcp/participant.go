package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nbi-ai/nbi/chat"
)

const mcpIconSVG = `<svg width="16" height="16" viewBox="0 0 16 16" xmlns="http://www.w3.org/2000/svg" fill="currentColor"><path d="M8 1a7 7 0 1 0 0 14A7 7 0 0 0 8 1zm0 1.5a5.5 5.5 0 1 1 0 11 5.5 5.5 0 0 1 0-11z"/><path d="M8 4.5a3.5 3.5 0 1 0 0 7 3.5 3.5 0 0 0 0-7zM8 6a2 2 0 1 1 0 4 2 2 0 0 1 0-4z"/></svg>`

var mcpIconURL = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(mcpIconSVG))

// Participant answers chat requests with the tools of one or more MCP
// servers. Servers are connected for the duration of a request.
type Participant struct {
	id       string
	name     string
	servers  []*Server
	nbiTools []string
}

func NewParticipant(id, name string, servers []*Server, nbiTools []string) *Participant {
	return &Participant{
		id:       id,
		name:     name,
		servers:  servers,
		nbiTools: nbiTools,
	}
}

func (p *Participant) ID() string          { return p.id }
func (p *Participant) Name() string        { return p.name }
func (p *Participant) Description() string { return p.name }
func (p *Participant) IconPath() string    { return mcpIconURL }

func (p *Participant) Commands() []chat.Command { return nil }

func (p *Participant) Servers() []*Server { return p.servers }

func (p *Participant) AllowedContextProviders() []string { return []string{"*"} }

func (p *Participant) Tools(req *chat.Request) []chat.Tool {
	var tools []chat.Tool
	for _, server := range p.servers {
		tools = append(tools, server.Tools()...)
	}
	if req == nil || req.Host == nil {
		return tools
	}
	for _, name := range p.nbiTools {
		if tool := builtinToolByName(req.Host, name); tool != nil {
			tools = append(tools, tool)
		}
	}
	return tools
}

func builtinToolByName(host chat.Host, name string) chat.Tool {
	for _, toolset := range host.BuiltinToolsets() {
		if tool := toolset.Tool(name); tool != nil {
			return tool
		}
	}
	return nil
}

func (p *Participant) HandleRequest(ctx context.Context, req *chat.Request, resp chat.Response) error {
	resp.Stream(chat.Progress{Title: "Thinking..."})

	for _, server := range p.servers {
		if err := server.Connect(ctx); err != nil {
			slog.Error("failed to connect to MCP server", "server", server.Name(), "error", err)
		}
	}
	defer func() {
		for _, server := range p.servers {
			server.Disconnect()
		}
	}()

	if req.Command == "info" {
		for _, server := range p.servers {
			lines := []string{fmt.Sprintf("- **%s** server tools:", server.Name())}
			for _, tool := range server.Tools() {
				lines = append(lines, fmt.Sprintf("  - **%s**: %s\n", tool.Name(), tool.Description()))
			}
			resp.Stream(chat.Markdown{Content: strings.Join(lines, "\n")})
		}
		resp.Finish()
		return nil
	}

	chat.RunWithTools(ctx, req, resp, p.Tools(req), chat.RequestOptions{})
	return nil
}
