// Package service wires the LLM providers, chat participants, builtin
// toolsets and MCP servers together and routes chat requests between
// them.
package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/nbi-ai/nbi/chat"
	"github.com/nbi-ai/nbi/config"
	"github.com/nbi-ai/nbi/llm"
	"github.com/nbi-ai/nbi/mcp"
)

// DefaultParticipantID is the participant that answers un-mentioned
// prompts.
const DefaultParticipantID = chat.DefaultParticipantID

var reservedProviderIDs = map[string]bool{
	"openai": true, "anthropic": true, "chat": true, "copilot": true,
	"jupyter": true, "jupyterlab": true, "jlab": true, "notebook": true,
	"intelligence": true, "nb": true, "nbi": true, "ai": true,
	"config": true, "settings": true, "ui": true, "cell": true,
	"code": true, "file": true, "data": true, "new": true,
}

var reservedParticipantIDs = map[string]bool{
	"chat": true, "copilot": true, "jupyter": true, "jupyterlab": true,
	"jlab": true, "notebook": true, "intelligence": true, "nb": true,
	"nbi": true, "terminal": true, "vscode": true, "workspace": true,
	"help": true, "ai": true, "config": true, "settings": true,
	"ui": true, "cell": true, "code": true, "file": true, "data": true,
	"new": true, "run": true, "search": true,
}

// Manager owns the provider and participant registries and implements
// chat.Host for participants.
type Manager struct {
	cfg            *config.NBIConfig
	copilotSession *llm.CopilotSession
	copilot        *llm.CopilotProvider
	ollama         *llm.OllamaProvider

	mu                   sync.RWMutex
	providers            map[string]chat.Provider
	providerOrder        []string
	participants         map[string]chat.Participant
	participantOrder     []string
	extensionToolsets    map[string][]*chat.Toolset
	builtinToolsets      []*chat.Toolset
	contextProviders     map[string]chat.CompletionContextProvider
	contextProviderOrder []string
	mcpManager           *mcp.Manager

	chatModel   chat.ChatModel
	inlineModel chat.InlineCompletionModel
}

func NewManager(cfg *config.NBIConfig) *Manager {
	session := llm.NewCopilotSession()
	m := &Manager{
		cfg:               cfg,
		copilotSession:    session,
		copilot:           llm.NewCopilotProvider(session),
		ollama:            llm.NewOllamaProvider(),
		providers:         map[string]chat.Provider{},
		participants:      map[string]chat.Participant{},
		extensionToolsets: map[string][]*chat.Toolset{},
		builtinToolsets:   chat.BuiltinToolsets(),
		contextProviders:  map[string]chat.CompletionContextProvider{},
	}

	m.RegisterProvider(m.copilot)
	m.RegisterProvider(llm.NewOpenAICompatibleProvider())
	m.RegisterProvider(llm.NewLiteLLMCompatibleProvider())
	m.RegisterProvider(m.ollama)

	m.RegisterParticipant(chat.NewTestParticipant())

	m.reloadMCPParticipants()
	m.UpdateModelsFromConfig()

	return m
}

func (m *Manager) Config() *config.NBIConfig { return m.cfg }

func (m *Manager) CopilotSession() *llm.CopilotSession { return m.copilotSession }

// RegisterProvider adds an LLM provider unless its id is reserved or
// taken.
func (m *Manager) RegisterProvider(provider chat.Provider) {
	if reservedProviderIDs[provider.ID()] {
		slog.Error("LLM provider ID is reserved", "id", provider.ID())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[provider.ID()]; exists {
		slog.Error("LLM provider ID is already in use", "id", provider.ID())
		return
	}
	m.providers[provider.ID()] = provider
	m.providerOrder = append(m.providerOrder, provider.ID())
}

// RegisterParticipant adds a chat participant unless its id is
// reserved or taken.
func (m *Manager) RegisterParticipant(participant chat.Participant) {
	if reservedParticipantIDs[participant.ID()] {
		slog.Error("participant ID is reserved", "id", participant.ID())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.participants[participant.ID()]; exists {
		slog.Error("participant ID is already in use", "id", participant.ID())
		return
	}
	m.participants[participant.ID()] = participant
	m.participantOrder = append(m.participantOrder, participant.ID())
}

// RegisterCompletionContextProvider adds a completion context provider
// unless its id is taken.
func (m *Manager) RegisterCompletionContextProvider(provider chat.CompletionContextProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contextProviders[provider.ID()]; exists {
		slog.Error("completion context provider ID is already in use", "id", provider.ID())
		return
	}
	m.contextProviders[provider.ID()] = provider
	m.contextProviderOrder = append(m.contextProviderOrder, provider.ID())
}

// CompletionContext gathers context items from the registered
// providers the requesting participant allows.
func (m *Manager) CompletionContext(req *chat.ContextRequest) chat.CompletionContext {
	var cc chat.CompletionContext
	if req.Cancel != nil && req.Cancel.Requested() {
		return cc
	}

	var allowed []string
	if req.Participant != nil {
		allowed = req.Participant.AllowedContextProviders()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.contextProviderOrder {
		if req.Cancel != nil && req.Cancel.Requested() {
			return cc
		}
		if !providerAllowed(id, allowed) {
			continue
		}
		cc.Items = append(cc.Items, m.contextProviders[id].CompletionContext(req).Items...)
	}
	return cc
}

func providerAllowed(id string, allowed []string) bool {
	for _, entry := range allowed {
		if entry == "*" || entry == id {
			return true
		}
	}
	return false
}

// RegisterExtensionToolset adds a toolset contributed by an extension.
func (m *Manager) RegisterExtensionToolset(extensionID string, toolset *chat.Toolset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extensionToolsets[extensionID] = append(m.extensionToolsets[extensionID], toolset)
}

// UpdateModelsFromConfig resolves the active chat and inline
// completion models from the configuration, applies their stored
// properties and installs the matching default participant.
func (m *Manager) UpdateModelsFromConfig() {
	if m.cfg.UsingGitHubCopilotService() {
		m.copilotSession.LoginWithExistingCredentials(m.cfg.StoreGitHubAccessToken())
	}

	chatRef := m.cfg.ChatModel()
	inlineRef := m.cfg.InlineCompletionModel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.chatModel = nil
	if provider, ok := m.providers[chatRef.Provider]; ok {
		m.chatModel = chat.FindChatModel(provider, chatRef.Model)
	}
	if m.chatModel != nil {
		for _, prop := range chatRef.Properties {
			m.chatModel.SetProperty(prop.ID, prop.Value)
		}
	}

	m.inlineModel = nil
	if provider, ok := m.providers[inlineRef.Provider]; ok {
		m.inlineModel = chat.FindInlineCompletionModel(provider, inlineRef.Model)
	}
	if m.inlineModel != nil {
		for _, prop := range inlineRef.Properties {
			m.inlineModel.SetProperty(prop.ID, prop.Value)
		}
	}

	var defaultParticipant chat.Participant
	if chatRef.Provider == m.copilot.ID() {
		defaultParticipant = chat.NewCopilotParticipant()
	} else {
		defaultParticipant = chat.NewBuiltinParticipant()
	}
	if _, exists := m.participants[DefaultParticipantID]; !exists {
		m.participantOrder = append([]string{DefaultParticipantID}, m.participantOrder...)
	}
	m.participants[DefaultParticipantID] = defaultParticipant
}

// UpdateProviderModels refreshes a provider's discovered model list.
func (m *Manager) UpdateProviderModels(ctx context.Context, providerID string) {
	if providerID == m.ollama.ID() {
		m.ollama.UpdateChatModelList(ctx)
	}
}

// ReloadMCPServers re-reads the configuration and rebuilds the MCP
// servers and participants.
func (m *Manager) ReloadMCPServers() {
	m.cfg.Load()
	m.reloadMCPParticipants()
}

func (m *Manager) reloadMCPParticipants() {
	manager := mcp.NewManager(m.cfg.MCP())

	m.mu.Lock()
	if m.mcpManager != nil {
		var keptOrder []string
		for _, id := range m.participantOrder {
			if _, isMCP := m.participants[id].(*mcp.Participant); isMCP {
				delete(m.participants, id)
				continue
			}
			keptOrder = append(keptOrder, id)
		}
		m.participantOrder = keptOrder
	}
	m.mcpManager = manager
	m.mu.Unlock()

	for _, participant := range manager.Participants() {
		m.RegisterParticipant(participant)
	}
}

func (m *Manager) Provider(id string) chat.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[id]
}

func (m *Manager) Providers() []chat.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	providers := make([]chat.Provider, 0, len(m.providerOrder))
	for _, id := range m.providerOrder {
		providers = append(providers, m.providers[id])
	}
	return providers
}

func (m *Manager) Participant(id string) chat.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.participants[id]
}

func (m *Manager) Participants() []chat.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	participants := make([]chat.Participant, 0, len(m.participantOrder))
	for _, id := range m.participantOrder {
		participants = append(participants, m.participants[id])
	}
	return participants
}

// Route parses a prompt and resolves the participant addressed by its
// @mention, falling back to the default participant.
func (m *Manager) Route(prompt string) (chat.Participant, chat.ParsedPrompt) {
	parsed := chat.ParsePrompt(prompt)

	m.mu.RLock()
	defer m.mu.RUnlock()
	participant, ok := m.participants[parsed.ParticipantID]
	if !ok {
		participant = m.participants[DefaultParticipantID]
		parsed.ParticipantID = DefaultParticipantID
	}
	return participant, parsed
}

// HandleChatRequest dispatches a request to the participant resolved
// from the prompt. The request's Command and Prompt are rewritten to
// the parsed values.
func (m *Manager) HandleChatRequest(ctx context.Context, req *chat.Request, resp chat.Response) error {
	if m.ChatModel() == nil {
		resp.Stream(chat.Markdown{Content: "Chat model is not set!"})
		resp.Stream(chat.Button{Title: "Configure", CommandID: "notebook-intelligence:open-configuration-dialog"})
		resp.Finish()
		return nil
	}

	participant, parsed := m.Route(req.Prompt)
	req.Command = parsed.Command
	req.Prompt = parsed.Prompt
	req.Host = m

	if setter, ok := resp.(interface{ SetParticipant(id string) }); ok {
		setter.SetParticipant(parsed.ParticipantID)
	}

	return participant.HandleRequest(ctx, req, resp)
}

// chat.Host implementation.

func (m *Manager) ChatModel() chat.ChatModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chatModel
}

func (m *Manager) InlineCompletionModel() chat.InlineCompletionModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inlineModel
}

func (m *Manager) ServerRootDir() string {
	return m.cfg.ServerRootDir()
}

func (m *Manager) BuiltinToolsets() []*chat.Toolset {
	return append([]*chat.Toolset(nil), m.builtinToolsets...)
}

func (m *Manager) BuiltinToolset(id string) *chat.Toolset {
	for _, toolset := range m.builtinToolsets {
		if toolset.ID == id {
			return toolset
		}
	}
	return nil
}

func (m *Manager) ExtensionToolset(extensionID, toolsetID string) *chat.Toolset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, toolset := range m.extensionToolsets[extensionID] {
		if toolset.ID == toolsetID {
			return toolset
		}
	}
	return nil
}

func (m *Manager) MCPServerTools(server string, names []string) []chat.Tool {
	m.mu.RLock()
	mcpManager := m.mcpManager
	m.mu.RUnlock()

	if mcpManager == nil {
		return nil
	}
	mcpServer := mcpManager.Server(server)
	if mcpServer == nil {
		return nil
	}
	if len(names) == 0 {
		return mcpServer.Tools()
	}
	var tools []chat.Tool
	for _, name := range names {
		if tool := mcpServer.Tool(name); tool != nil {
			tools = append(tools, tool)
		}
	}
	return tools
}

// Capabilities assembles the payload of the capabilities endpoint.
func (m *Manager) Capabilities() map[string]any {
	m.UpdateModelsFromConfig()

	homeDir, _ := os.UserHomeDir()

	m.mu.RLock()
	mcpManager := m.mcpManager
	m.mu.RUnlock()

	var chatModels, inlineModels []map[string]any
	for _, provider := range m.Providers() {
		for _, model := range provider.ChatModels() {
			chatModels = append(chatModels, modelInfo(provider, model.ID(), model.Name(), model.ContextWindow(), model.Properties()))
		}
		for _, model := range provider.InlineCompletionModels() {
			inlineModels = append(inlineModels, modelInfo(provider, model.ID(), model.Name(), model.ContextWindow(), model.Properties()))
		}
	}

	var providers []map[string]any
	for _, provider := range m.Providers() {
		providers = append(providers, map[string]any{"id": provider.ID(), "name": provider.Name()})
	}

	var participants []map[string]any
	for _, participant := range m.Participants() {
		commands := []string{}
		for _, command := range participant.Commands() {
			commands = append(commands, command.Name)
		}
		participants = append(participants, map[string]any{
			"id":          participant.ID(),
			"name":        participant.Name(),
			"description": participant.Description(),
			"iconPath":    participant.IconPath(),
			"commands":    commands,
		})
	}

	builtinToolsets := []map[string]any{}
	for _, toolset := range m.BuiltinToolsets() {
		builtinToolsets = append(builtinToolsets, map[string]any{"id": toolset.ID, "name": toolset.Name})
	}

	mcpServers := []map[string]any{}
	if mcpManager != nil {
		for _, server := range mcpManager.Servers() {
			tools := []map[string]any{}
			for _, tool := range server.Tools() {
				tools = append(tools, map[string]any{"name": tool.Name(), "description": tool.Description()})
			}
			if len(tools) == 0 {
				continue
			}
			mcpServers = append(mcpServers, map[string]any{"id": server.Name(), "tools": tools})
		}
		sort.Slice(mcpServers, func(i, j int) bool {
			return mcpServers[i]["id"].(string) < mcpServers[j]["id"].(string)
		})
	}

	extensions := []map[string]any{}
	m.mu.RLock()
	for _, extensionID := range sortedToolsetKeys(m.extensionToolsets) {
		toolsets := []map[string]any{}
		for _, toolset := range m.extensionToolsets[extensionID] {
			tools := []map[string]any{}
			for _, tool := range toolset.Tools {
				tools = append(tools, map[string]any{"name": tool.Name(), "description": tool.Description()})
			}
			sort.Slice(tools, func(i, j int) bool {
				return tools[i]["name"].(string) < tools[j]["name"].(string)
			})
			toolsets = append(toolsets, map[string]any{
				"id":          toolset.ID,
				"name":        toolset.Name,
				"description": toolset.Description,
				"tools":       tools,
			})
		}
		sort.Slice(toolsets, func(i, j int) bool {
			return toolsets[i]["name"].(string) < toolsets[j]["name"].(string)
		})
		extensions = append(extensions, map[string]any{
			"id":       extensionID,
			"name":     extensionID,
			"toolsets": toolsets,
		})
	}
	m.mu.RUnlock()

	return map[string]any{
		"user_home_dir":                homeDir,
		"nbi_user_config_dir":          m.cfg.UserDir(),
		"using_github_copilot_service": m.cfg.UsingGitHubCopilotService(),
		"llm_providers":                providers,
		"chat_models":                  chatModels,
		"inline_completion_models":     inlineModels,
		"chat_model":                   m.cfg.ChatModel(),
		"inline_completion_model":      m.cfg.InlineCompletionModel(),
		"chat_participants":            participants,
		"store_github_access_token":    m.cfg.StoreGitHubAccessToken(),
		"tool_config": map[string]any{
			"builtinToolsets": builtinToolsets,
			"mcpServers":      mcpServers,
			"extensions":      extensions,
		},
		"default_chat_mode": m.cfg.DefaultChatMode(),
	}
}

func modelInfo(provider chat.Provider, id, name string, contextWindow int, properties []*chat.Property) map[string]any {
	props := []map[string]any{}
	for _, prop := range properties {
		props = append(props, map[string]any{
			"id":          prop.ID,
			"name":        prop.Name,
			"description": prop.Description,
			"value":       prop.Value,
			"optional":    prop.Optional,
		})
	}
	return map[string]any{
		"provider":       provider.ID(),
		"id":             id,
		"name":           name,
		"context_window": contextWindow,
		"properties":     props,
	}
}

func sortedToolsetKeys(m map[string][]*chat.Toolset) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MCPServers lists the configured MCP server names.
func (m *Manager) MCPServers() []string {
	m.mu.RLock()
	mcpManager := m.mcpManager
	m.mu.RUnlock()

	if mcpManager == nil {
		return nil
	}
	var names []string
	for _, server := range mcpManager.Servers() {
		names = append(names, server.Name())
	}
	return names
}

// Stop shuts down background workers.
func (m *Manager) Stop() {
	m.copilotSession.Stop()

	m.mu.RLock()
	mcpManager := m.mcpManager
	m.mu.RUnlock()
	if mcpManager != nil {
		for _, server := range mcpManager.Servers() {
			server.Disconnect()
		}
	}
}
