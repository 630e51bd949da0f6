package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nbi-ai/nbi/chat"
	"github.com/nbi-ai/nbi/service"
	"github.com/nbi-ai/nbi/shared/id"
)

const (
	WriteTimeout   = 10 * time.Second
	RequestTimeout = 5 * time.Minute
)

// Request types sent by the frontend.
const (
	requestChatRequest            = "chat-request"
	requestChatUserInput          = "chat-user-input"
	requestClearChatHistory       = "clear-chat-history"
	requestRunUICommandResponse   = "run-ui-command-response"
	requestGenerateCode           = "generate-code"
	requestCancelChatRequest      = "cancel-chat-request"
	requestInlineCompletion       = "inline-completion-request"
	requestCancelInlineCompletion = "cancel-inline-completion-request"
)

// Message types sent to the frontend.
const (
	messageStreamMessage = "stream-message"
	messageStreamEnd     = "stream-end"
	messageRunUICommand  = "run-ui-command"
)

type WSHandler struct {
	manager        *service.Manager
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewWSHandler(manager *service.Manager, allowedOrigins []string) *WSHandler {
	h := &WSHandler{manager: manager, allowedOrigins: allowedOrigins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade error", "error", err)
		return
	}
	defer conn.Close()

	session := &wsSession{
		conn:     conn,
		manager:  h.manager,
		history:  chat.NewHistory(),
		handlers: make(map[string]*messageHandlers),
	}
	session.readLoop()
}

// messageHandlers tracks the emitter and cancel token of one in-flight
// request so later frontend messages with the same id can reach them.
type messageHandlers struct {
	emitter *emitter
	cancel  *chat.CancelToken
}

// wsSession serves one websocket connection. Requests run in their own
// goroutines; writes are serialized through writeMu.
type wsSession struct {
	conn    *websocket.Conn
	manager *service.Manager
	history *chat.History

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]*messageHandlers
}

type wsRequest struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *wsSession) readLoop() {
	defer s.cancelAll()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws: read error", "error", err)
			}
			return
		}

		var msg wsRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Error("ws: decode error", "error", err)
			continue
		}

		s.dispatch(msg)
	}
}

func (s *wsSession) dispatch(msg wsRequest) {
	switch msg.Type {
	case requestChatRequest:
		var data chatRequestData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Error("ws: decode chat request error", "error", err)
			return
		}
		go s.handleChatRequest(msg.ID, data)

	case requestGenerateCode:
		var data generateCodeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Error("ws: decode generate code request error", "error", err)
			return
		}
		go s.handleGenerateCode(msg.ID, data)

	case requestInlineCompletion:
		var data inlineCompletionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Error("ws: decode inline completion request error", "error", err)
			return
		}
		go s.handleInlineCompletion(msg.ID, data)

	case requestChatUserInput:
		if handlers := s.handlersFor(msg.ID); handlers != nil {
			handlers.emitter.onUserInput(decodeDataMap(msg.Data))
		}

	case requestClearChatHistory:
		s.history.ClearAll()

	case requestRunUICommandResponse:
		if handlers := s.handlersFor(msg.ID); handlers != nil {
			handlers.emitter.onRunUICommandResponse(decodeDataMap(msg.Data))
		}

	case requestCancelChatRequest, requestCancelInlineCompletion:
		if handlers := s.handlersFor(msg.ID); handlers != nil {
			handlers.cancel.Cancel()
		}
	}
}

func decodeDataMap(raw json.RawMessage) map[string]any {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Error("ws: decode data error", "error", err)
		return map[string]any{}
	}
	return data
}

func (s *wsSession) register(messageID string, em *emitter, cancel *chat.CancelToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[messageID] = &messageHandlers{emitter: em, cancel: cancel}
}

func (s *wsSession) unregister(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, messageID)
}

func (s *wsSession) handlersFor(messageID string) *messageHandlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[messageID]
}

func (s *wsSession) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, handlers := range s.handlers {
		handlers.cancel.Cancel()
	}
}

func (s *wsSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return s.conn.WriteJSON(v)
}

type cellContents struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type additionalContextEntry struct {
	FilePath            string        `json:"filePath"`
	StartLine           int           `json:"startLine"`
	EndLine             int           `json:"endLine"`
	Content             string        `json:"content"`
	CurrentCellContents *cellContents `json:"currentCellContents"`
}

type chatRequestData struct {
	ChatID            string                   `json:"chatId"`
	Prompt            string                   `json:"prompt"`
	Language          string                   `json:"language"`
	Filename          string                   `json:"filename"`
	AdditionalContext []additionalContextEntry `json:"additionalContext"`
	ChatMode          string                   `json:"chatMode"`
	ToolSelections    chat.ToolSelection       `json:"toolSelections"`
}

type generateCodeData struct {
	ChatID       string `json:"chatId"`
	Prompt       string `json:"prompt"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
	ExistingCode string `json:"existingCode"`
	Language     string `json:"language"`
	Filename     string `json:"filename"`
}

type inlineCompletionData struct {
	ChatID   string `json:"chatId"`
	Prefix   string `json:"prefix"`
	Suffix   string `json:"suffix"`
	Language string `json:"language"`
	Filename string `json:"filename"`
}

// contextTokenRatio is the share of the model's context window that
// additional context attachments may consume.
const contextTokenRatio = 0.8

// approxTokenCount estimates tokens at four characters per token.
func approxTokenCount(s string) int {
	return (len(s) + 3) / 4
}

func (s *wsSession) handleChatRequest(messageID string, data chatRequestData) {
	mode := chat.ModeAsk
	if data.ChatMode == "agent" {
		mode = chat.ModeAgent
	}

	requestHistory := s.history.Messages(data.ChatID)

	tokenLimit := 100
	if model := s.manager.ChatModel(); model != nil {
		tokenLimit = model.ContextWindow()
	}
	tokenBudget := int(contextTokenRatio * float64(tokenLimit))

	for _, entry := range data.AdditionalContext {
		filePath := filepath.Join(s.manager.ServerRootDir(), entry.FilePath)
		filename := filepath.Base(filePath)

		cellContext := ""
		if entry.CurrentCellContents != nil {
			cellContext = fmt.Sprintf("This is a Jupyter notebook and currently selected cell input is: ```%s``` and currently selected cell output is: ```%s```. If user asks a question about 'this' cell then assume that user is referring to currently selected cell.",
				entry.CurrentCellContents.Input, entry.CurrentCellContents.Output)
		}

		content := entry.Content
		if approxTokenCount(content) > tokenBudget {
			content = content[:tokenBudget] + "..."
		}

		requestHistory = append(requestHistory, chat.UserMessage(fmt.Sprintf("Use this as additional context: ```%s```. It is from current file: '%s' at path '%s', lines: %d - %d. %s",
			content, filename, filePath, entry.StartLine, entry.EndLine, cellContext)))
		s.history.Add(data.ChatID, chat.UserMessage(fmt.Sprintf("This file was provided as additional context: '%s' at path '%s', lines: %d - %d. %s",
			filename, filePath, entry.StartLine, entry.EndLine, cellContext)))
	}

	s.history.Add(data.ChatID, chat.UserMessage(data.Prompt))
	requestHistory = append(requestHistory, chat.UserMessage(data.Prompt))

	em := newEmitter(data.ChatID, messageID, s.writeJSON, s.history)
	cancel := chat.NewCancelToken()
	s.register(messageID, em, cancel)
	defer s.unregister(messageID)

	ctx, ctxCancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer ctxCancel()

	req := &chat.Request{
		ChatID:        data.ChatID,
		MessageID:     messageID,
		Mode:          mode,
		Prompt:        data.Prompt,
		History:       requestHistory,
		ToolSelection: data.ToolSelections,
		Cancel:        cancel,
	}
	if err := s.manager.HandleChatRequest(ctx, req, em); err != nil {
		slog.Error("ws: chat request error", "error", err, "chat_id", data.ChatID)
	}
}

func (s *wsSession) handleGenerateCode(messageID string, data generateCodeData) {
	if data.Prefix != "" {
		s.history.Add(data.ChatID, chat.UserMessage(fmt.Sprintf("This code section comes before the code section you will generate, use as context. Leading content: ```%s```", data.Prefix)))
	}
	if data.Suffix != "" {
		s.history.Add(data.ChatID, chat.UserMessage(fmt.Sprintf("This code section comes after the code section you will generate, use as context. Trailing content: ```%s```", data.Suffix)))
	}
	if data.ExistingCode != "" {
		s.history.Add(data.ChatID, chat.UserMessage(fmt.Sprintf("You are asked to modify the existing code. Generate a replacement for this existing code : ```%s```", data.ExistingCode)))
	}
	s.history.Add(data.ChatID, chat.UserMessage("Generate code for: "+data.Prompt))

	em := newEmitter(data.ChatID, messageID, s.writeJSON, s.history)
	cancel := chat.NewCancelToken()
	s.register(messageID, em, cancel)
	defer s.unregister(messageID)

	existingCodeMessage := ""
	if data.ExistingCode != "" {
		existingCodeMessage = " Update the existing code section and return a modified version. Don't just return the update, recreate the existing code section with the update."
	}
	systemPrompt := fmt.Sprintf("You are an assistant that generates code for '%s' language. You generate code between existing leading and trailing code sections.%s Be concise and return only code as a response. Don't include leading content or trailing content in your response, they are provided only for context. You can reuse methods and symbols defined in leading and trailing content.",
		data.Language, existingCodeMessage)

	ctx, ctxCancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer ctxCancel()

	req := &chat.Request{
		ChatID:       data.ChatID,
		MessageID:    messageID,
		Mode:         chat.ModeAsk,
		Prompt:       data.Prompt,
		History:      s.history.Messages(data.ChatID),
		Cancel:       cancel,
		SystemPrompt: systemPrompt,
	}
	if err := s.manager.HandleChatRequest(ctx, req, em); err != nil {
		slog.Error("ws: generate code error", "error", err, "chat_id", data.ChatID)
	}
}

func (s *wsSession) handleInlineCompletion(messageID string, data inlineCompletionData) {
	// Inline completions never feed the chat history.
	em := newEmitter(data.ChatID, messageID, s.writeJSON, chat.NewHistory())
	cancel := chat.NewCancelToken()
	s.register(messageID, em, cancel)
	defer s.unregister(messageID)

	model := s.manager.InlineCompletionModel()
	if model == nil {
		em.Finish()
		return
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer ctxCancel()

	participant, _ := s.manager.Route(data.Prefix)
	cc := s.manager.CompletionContext(&chat.ContextRequest{
		Type:        chat.ContextRequestInlineCompletion,
		Prefix:      data.Prefix,
		Suffix:      data.Suffix,
		Language:    data.Language,
		Filename:    data.Filename,
		Participant: participant,
		Cancel:      cancel,
	})
	if cancel.Requested() {
		em.Finish()
		return
	}

	completions, err := model.InlineCompletions(ctx, data.Prefix, data.Suffix, data.Language, data.Filename, cc, cancel)
	if err != nil {
		slog.Error("ws: inline completion error", "error", err, "model", model.ID())
	}
	if cancel.Requested() {
		em.Finish()
		return
	}

	em.Stream(chat.RawChunk{Chunk: map[string]any{"completions": completions}})
	em.Finish()
}

// emitter translates participant stream events into the frontend wire
// format and writes them to the websocket.
type emitter struct {
	chatID    string
	messageID string
	write     func(v any) error
	history   *chat.History

	mu               sync.Mutex
	participant      string
	streamedContents []string
	uiWaiters        map[string]chan map[string]any
	inputWaiters     map[string]chan map[string]any
}

func newEmitter(chatID, messageID string, write func(v any) error, history *chat.History) *emitter {
	return &emitter{
		chatID:       chatID,
		messageID:    messageID,
		write:        write,
		history:      history,
		uiWaiters:    make(map[string]chan map[string]any),
		inputWaiters: make(map[string]chan map[string]any),
	}
}

func (e *emitter) ChatID() string    { return e.chatID }
func (e *emitter) MessageID() string { return e.messageID }

func (e *emitter) SetParticipant(id string) {
	e.mu.Lock()
	e.participant = id
	e.mu.Unlock()
}

func (e *emitter) participantID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.participant
}

func deltaChunk(nbiContent map[string]any) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"delta": map[string]any{
					"nbiContent": nbiContent,
					"content":    "",
					"role":       "assistant",
				},
			},
		},
	}
}

func orEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func (e *emitter) Stream(event chat.Event) {
	var data map[string]any

	switch ev := event.(type) {
	case chat.Markdown:
		e.history.Add(e.chatID, chat.AssistantMessage(ev.Content))
		data = deltaChunk(map[string]any{
			"type":    string(chat.EventMarkdown),
			"content": ev.Content,
			"detail":  ev.Detail,
		})

	case chat.MarkdownPart:
		e.appendStreamed(ev.Content)
		data = deltaChunk(map[string]any{
			"type":    string(chat.EventMarkdownPart),
			"content": ev.Content,
		})

	case chat.Image:
		data = deltaChunk(map[string]any{
			"type":    string(chat.EventImage),
			"content": ev.Content,
		})

	case chat.HTMLFrame:
		data = deltaChunk(map[string]any{
			"type": string(chat.EventHTMLFrame),
			"content": map[string]any{
				"source": ev.Source,
				"height": ev.Height,
			},
		})

	case chat.Anchor:
		data = deltaChunk(map[string]any{
			"type": string(chat.EventAnchor),
			"content": map[string]any{
				"uri":   ev.URI,
				"title": ev.Title,
			},
		})

	case chat.Button:
		data = deltaChunk(map[string]any{
			"type": string(chat.EventButton),
			"content": map[string]any{
				"title":     ev.Title,
				"commandId": ev.CommandID,
				"args":      orEmpty(ev.Args),
			},
		})

	case chat.Progress:
		data = deltaChunk(map[string]any{
			"type":    string(chat.EventProgress),
			"content": ev.Title,
		})

	case chat.Confirmation:
		confirmLabel := ev.ConfirmLabel
		if confirmLabel == "" {
			confirmLabel = "Approve"
		}
		cancelLabel := ev.CancelLabel
		if cancelLabel == "" {
			cancelLabel = "Cancel"
		}
		data = deltaChunk(map[string]any{
			"type": string(chat.EventConfirmation),
			"content": map[string]any{
				"title":        ev.Title,
				"message":      ev.Message,
				"confirmArgs":  orEmpty(ev.ConfirmArgs),
				"cancelArgs":   orEmpty(ev.CancelArgs),
				"confirmLabel": confirmLabel,
				"cancelLabel":  cancelLabel,
			},
		})

	case chat.RawChunk:
		data = ev.Chunk
		if delta := rawChunkContent(ev.Chunk); delta != "" {
			e.appendStreamed(delta)
		}

	default:
		slog.Error("ws: unknown stream event", "type", event.Type())
		return
	}

	err := e.write(map[string]any{
		"id":          e.messageID,
		"participant": e.participantID(),
		"type":        messageStreamMessage,
		"data":        data,
		"created":     time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Error("ws: stream write error", "error", err)
	}
}

func rawChunkContent(chunk map[string]any) string {
	choices, _ := chunk["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)
	content, _ := delta["content"].(string)
	return content
}

func (e *emitter) appendStreamed(part string) {
	e.mu.Lock()
	e.streamedContents = append(e.streamedContents, part)
	e.mu.Unlock()
}

func (e *emitter) Finish() {
	e.mu.Lock()
	content := strings.Join(e.streamedContents, "")
	e.streamedContents = nil
	e.mu.Unlock()

	e.history.Add(e.chatID, chat.AssistantMessage(content))

	err := e.write(map[string]any{
		"id":          e.messageID,
		"participant": e.participantID(),
		"type":        messageStreamEnd,
		"data":        map[string]any{},
	})
	if err != nil {
		slog.Error("ws: stream end write error", "error", err)
	}
}

func (e *emitter) RunUICommand(ctx context.Context, command string, args map[string]any) (map[string]any, error) {
	callbackID := id.New(id.PrefixCallback)
	ch := make(chan map[string]any, 1)

	e.mu.Lock()
	e.uiWaiters[callbackID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.uiWaiters, callbackID)
		e.mu.Unlock()
	}()

	err := e.write(map[string]any{
		"id":          e.messageID,
		"participant": e.participantID(),
		"type":        messageRunUICommand,
		"data": map[string]any{
			"callback_id": callbackID,
			"commandId":   command,
			"args":        orEmpty(args),
		},
	})
	if err != nil {
		return nil, err
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *emitter) WaitUserInput(ctx context.Context, callbackID string) (map[string]any, error) {
	ch := make(chan map[string]any, 1)

	e.mu.Lock()
	e.inputWaiters[callbackID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inputWaiters, callbackID)
		e.mu.Unlock()
	}()

	select {
	case input := <-ch:
		return input, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *emitter) onUserInput(data map[string]any) {
	callbackID, _ := data["callback_id"].(string)
	input, _ := data["data"].(map[string]any)

	e.mu.Lock()
	ch := e.inputWaiters[callbackID]
	e.mu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- input:
	default:
	}
}

func (e *emitter) onRunUICommandResponse(data map[string]any) {
	callbackID, _ := data["callback_id"].(string)
	result, _ := data["result"].(map[string]any)

	e.mu.Lock()
	ch := e.uiWaiters[callbackID]
	e.mu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- result:
	default:
	}
}
