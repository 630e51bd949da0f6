package llm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nbi-ai/nbi/chat"
)

const (
	copilotClientID      = "Iv1.b507a08c87ecfe98"
	copilotEditorVersion = "NotebookIntelligence/2.0.0"
	copilotUserAgent     = "NotebookIntelligence/2.0.0"

	copilotDefaultAPIEndpoint   = "https://api.githubcopilot.com"
	copilotDefaultProxyEndpoint = "https://copilot-proxy.githubusercontent.com"

	copilotTokenRefreshInterval = 1500 * time.Second
	copilotAccessTokenPoll      = 5 * time.Second
	copilotTokenLoopSleep       = 3 * time.Second
	copilotTokenFetchInterval   = 15 * time.Second
)

// GitHub Copilot login lifecycle.
type CopilotLoginStatus string

const (
	CopilotNotLoggedIn      CopilotLoginStatus = "NOT_LOGGED_IN"
	CopilotActivatingDevice CopilotLoginStatus = "ACTIVATING_DEVICE"
	CopilotLoggingIn        CopilotLoginStatus = "LOGGING_IN"
	CopilotLoggedIn         CopilotLoginStatus = "LOGGED_IN"
)

// DeviceVerification is shown to the user during the GitHub device
// login flow.
type DeviceVerification struct {
	VerificationURI string `json:"verification_uri"`
	UserCode        string `json:"user_code"`
}

// LoginStatusInfo is the response payload of the login status endpoint.
type LoginStatusInfo struct {
	Status          CopilotLoginStatus `json:"status"`
	VerificationURI string             `json:"verification_uri,omitempty"`
	UserCode        string             `json:"user_code,omitempty"`
}

// CopilotSession holds the GitHub Copilot authentication state: the
// device-flow login, the GitHub access token and the short-lived
// Copilot API token with its background refresh loop.
type CopilotSession struct {
	httpClient *http.Client
	machineID  string

	webBaseURL  string
	restBaseURL string

	mu              sync.Mutex
	status          CopilotLoginStatus
	verificationURI string
	userCode        string
	deviceCode      string
	accessToken     string
	providedToken   string
	rememberToken   bool
	token           string
	tokenExpiresAt  time.Time
	lastTokenFetch  time.Time
	apiEndpoint     string
	proxyEndpoint   string
	refreshInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}

	pollRunning    bool
	refreshRunning bool
}

func NewCopilotSession() *CopilotSession {
	webBase := "https://github.com"
	restBase := "https://api.github.com"
	if sub := os.Getenv("NBI_GHE_SUBDOMAIN"); sub != "" {
		webBase = fmt.Sprintf("https://%s.ghe.com", sub)
		restBase = fmt.Sprintf("https://api.%s.ghe.com", sub)
	}

	machineID := make([]byte, 33)
	if _, err := rand.Read(machineID); err != nil {
		panic(err)
	}

	return &CopilotSession{
		httpClient:      &http.Client{Timeout: 120 * time.Second},
		machineID:       fmt.Sprintf("%x", machineID)[:65],
		webBaseURL:      webBase,
		restBaseURL:     restBase,
		status:          CopilotNotLoggedIn,
		apiEndpoint:     copilotDefaultAPIEndpoint,
		proxyEndpoint:   copilotDefaultProxyEndpoint,
		refreshInterval: copilotTokenRefreshInterval,
		stopCh:          make(chan struct{}),
	}
}

// LoginStatus reports the current login state. During device
// activation it includes the verification URI and user code to show.
func (s *CopilotSession) LoginStatus() LoginStatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := LoginStatusInfo{Status: s.status}
	if s.status == CopilotActivatingDevice {
		info.VerificationURI = s.verificationURI
		info.UserCode = s.userCode
	}
	return info
}

// Login starts the GitHub device login flow and returns the
// verification info the user needs to complete it. Token polling and
// refresh continue in the background.
func (s *CopilotSession) Login() (*DeviceVerification, error) {
	s.mu.Lock()
	provided := s.providedToken
	s.mu.Unlock()

	if provided == "" {
		verification, err := s.fetchDeviceCode()
		if err != nil {
			return nil, err
		}
		s.startTokenLoops()
		return verification, nil
	}

	s.startTokenLoops()
	return nil, nil
}

// LoginWithExistingCredentials attempts a login without user
// interaction, using the access token from the environment or the
// stored one when storeAccessToken is set. When storeAccessToken is
// false any stored token is deleted.
func (s *CopilotSession) LoginWithExistingCredentials(storeAccessToken bool) {
	s.mu.Lock()
	if s.status != CopilotNotLoggedIn {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	provided := accessTokenFromEnv()
	remember := false
	if provided == "" && storeAccessToken {
		provided = readStoredAccessToken()
		remember = true
	} else if provided == "" {
		deleteStoredAccessToken()
	}

	if provided == "" {
		return
	}

	s.mu.Lock()
	s.providedToken = provided
	s.rememberToken = remember
	s.mu.Unlock()

	if _, err := s.Login(); err != nil {
		slog.Error("failed to login with existing GitHub credentials", "error", err)
	}
}

// Logout clears all authentication state.
func (s *CopilotSession) Logout() LoginStatusInfo {
	s.mu.Lock()
	s.verificationURI = ""
	s.userCode = ""
	s.deviceCode = ""
	s.accessToken = ""
	s.providedToken = ""
	s.token = ""
	s.status = CopilotNotLoggedIn
	s.mu.Unlock()

	return LoginStatusInfo{Status: CopilotNotLoggedIn}
}

// Stop terminates the background token goroutines.
func (s *CopilotSession) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// StoreAccessToken persists the current GitHub access token to the
// user data file.
func (s *CopilotSession) StoreAccessToken() error {
	s.mu.Lock()
	accessToken := s.accessToken
	s.mu.Unlock()

	if accessToken == "" {
		return errors.New("no GitHub access token to store")
	}
	return writeStoredAccessToken(accessToken)
}

// DeleteStoredAccessToken removes the persisted GitHub access token.
func (s *CopilotSession) DeleteStoredAccessToken() {
	deleteStoredAccessToken()
}

func (s *CopilotSession) editorHeaders(req *http.Request) {
	req.Header.Set("accept", "application/json")
	req.Header.Set("editor-version", copilotEditorVersion)
	req.Header.Set("editor-plugin-version", copilotEditorVersion)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("user-agent", copilotUserAgent)
	req.Header.Set("accept-encoding", "gzip,deflate,br")
}

func (s *CopilotSession) fetchDeviceCode() (*DeviceVerification, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id": copilotClientID,
		"scope":     "read:user",
	})
	req, err := http.NewRequest(http.MethodPost, s.webBaseURL+"/login/device/code", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	s.editorHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get device verification info: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		VerificationURI string `json:"verification_uri"`
		UserCode        string `json:"user_code"`
		DeviceCode      string `json:"device_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode device verification info: %w", err)
	}

	s.mu.Lock()
	s.verificationURI = payload.VerificationURI
	s.userCode = payload.UserCode
	s.deviceCode = payload.DeviceCode
	s.status = CopilotActivatingDevice
	s.mu.Unlock()

	return &DeviceVerification{
		VerificationURI: payload.VerificationURI,
		UserCode:        payload.UserCode,
	}, nil
}

func (s *CopilotSession) startTokenLoops() {
	s.mu.Lock()
	startPoll := !s.pollRunning
	if startPoll {
		s.pollRunning = true
	}
	startRefresh := !s.refreshRunning
	if startRefresh {
		s.refreshRunning = true
	}
	s.mu.Unlock()

	if startPoll {
		go s.pollAccessToken()
	}
	if startRefresh {
		go s.refreshTokenLoop()
	}
}

// pollAccessToken waits for the user to complete device activation and
// exchanges the device code for a GitHub access token.
func (s *CopilotSession) pollAccessToken() {
	defer func() {
		s.mu.Lock()
		s.pollRunning = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	provided := s.providedToken
	s.mu.Unlock()

	if provided != "" {
		slog.Info("using existing GitHub access token")
		s.mu.Lock()
		s.accessToken = provided
		s.mu.Unlock()
		s.fetchToken()
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		done := s.accessToken != "" || s.deviceCode == "" || s.status == CopilotNotLoggedIn
		deviceCode := s.deviceCode
		remember := s.rememberToken
		s.mu.Unlock()
		if done {
			return
		}

		body, _ := json.Marshal(map[string]string{
			"client_id":   copilotClientID,
			"device_code": deviceCode,
			"grant_type":  "urn:ietf:params:oauth:grant-type:device_code",
		})
		req, err := http.NewRequest(http.MethodPost, s.webBaseURL+"/login/oauth/access_token", bytes.NewReader(body))
		if err == nil {
			s.editorHeaders(req)
			resp, err := s.httpClient.Do(req)
			if err != nil {
				slog.Error("failed to get access token from GitHub", "error", err)
			} else {
				var payload struct {
					AccessToken string `json:"access_token"`
				}
				decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
				resp.Body.Close()
				if decodeErr == nil && payload.AccessToken != "" {
					s.mu.Lock()
					s.accessToken = payload.AccessToken
					s.mu.Unlock()
					s.fetchToken()
					if remember {
						if err := s.StoreAccessToken(); err != nil {
							slog.Error("failed to store GitHub access token", "error", err)
						}
					}
					return
				}
			}
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(copilotAccessTokenPoll):
		}
	}
}

// fetchToken exchanges the GitHub access token for a short-lived
// Copilot API token and records the endpoints the token is bound to.
func (s *CopilotSession) fetchToken() {
	s.mu.Lock()
	accessToken := s.accessToken
	if env := accessTokenFromEnv(); env != "" {
		accessToken = env
	}
	if accessToken == "" {
		s.mu.Unlock()
		return
	}
	s.status = CopilotLoggingIn
	s.mu.Unlock()

	req, err := http.NewRequest(http.MethodGet, s.restBaseURL+"/copilot_internal/v2/token", nil)
	if err != nil {
		return
	}
	req.Header.Set("authorization", "token "+accessToken)
	req.Header.Set("editor-version", copilotEditorVersion)
	req.Header.Set("editor-plugin-version", copilotEditorVersion)
	req.Header.Set("user-agent", copilotUserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("failed to get token from GitHub Copilot", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.Logout()
		return
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("failed to get token from GitHub Copilot", "status", resp.StatusCode, "body", string(body))
		return
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
		RefreshIn int64  `json:"refresh_in"`
		Endpoints struct {
			API   string `json:"api"`
			Proxy string `json:"proxy"`
		} `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Error("failed to decode GitHub Copilot token response", "error", err)
		return
	}

	s.mu.Lock()
	s.token = payload.Token
	if payload.ExpiresAt > 0 {
		s.tokenExpiresAt = time.Unix(payload.ExpiresAt, 0)
	} else {
		s.tokenExpiresAt = time.Now().Add(s.refreshInterval)
	}
	if payload.RefreshIn > 0 {
		s.refreshInterval = time.Duration(payload.RefreshIn) * time.Second
	}
	if payload.Endpoints.API != "" {
		s.apiEndpoint = payload.Endpoints.API
	}
	if payload.Endpoints.Proxy != "" {
		s.proxyEndpoint = payload.Endpoints.Proxy
	}
	s.verificationURI = ""
	s.userCode = ""
	s.status = CopilotLoggedIn
	s.mu.Unlock()
}

// refreshTokenLoop keeps the Copilot API token fresh while logged in,
// refetching it shortly before expiration.
func (s *CopilotSession) refreshTokenLoop() {
	defer func() {
		s.mu.Lock()
		s.refreshRunning = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(copilotTokenLoopSleep):
		}

		s.mu.Lock()
		if s.status == CopilotNotLoggedIn {
			s.mu.Unlock()
			return
		}
		hasAccess := s.accessToken != "" || accessTokenFromEnv() != ""
		needsRefresh := s.token == "" || time.Until(s.tokenExpiresAt) <= 10*time.Second
		throttled := time.Since(s.lastTokenFetch) <= copilotTokenFetchInterval
		s.mu.Unlock()

		if hasAccess && needsRefresh && !throttled {
			slog.Info("refreshing GitHub Copilot token")
			s.fetchToken()
			s.mu.Lock()
			s.lastTokenFetch = time.Now()
			s.mu.Unlock()
		}
	}
}

func (s *CopilotSession) apiToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *CopilotSession) endpoints() (api, proxy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiEndpoint, s.proxyEndpoint
}

// copilotTransport injects the Copilot chat headers, refreshing the
// per-request ids every call.
type copilotTransport struct {
	session *CopilotSession
}

func (t *copilotTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("authorization", "Bearer "+t.session.apiToken())
	cloned.Header.Set("editor-version", copilotEditorVersion)
	cloned.Header.Set("editor-plugin-version", copilotEditorVersion)
	cloned.Header.Set("user-agent", copilotUserAgent)
	cloned.Header.Set("content-type", "application/json")
	cloned.Header.Set("openai-intent", "conversation-panel")
	cloned.Header.Set("openai-organization", "github-copilot")
	cloned.Header.Set("copilot-integration-id", "vscode-chat")
	cloned.Header.Set("x-request-id", uuid.NewString())
	cloned.Header.Set("vscode-sessionid", uuid.NewString())
	cloned.Header.Set("vscode-machineid", t.session.machineID)
	return http.DefaultTransport.RoundTrip(cloned)
}

// Access token at-rest protection. The password only obfuscates the
// stored token, it is not a real secret.

func accessTokenPassword() string {
	if pw := os.Getenv("NBI_GH_ACCESS_TOKEN_PASSWORD"); pw != "" {
		return pw
	}
	return "nbi-access-token-password"
}

func encryptWithPassword(password string, plaintext []byte) ([]byte, error) {
	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithPassword(password string, ciphertext []byte) ([]byte, error) {
	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func accessTokenFromEnv() string {
	encoded := os.Getenv("NBI_GH_ACCESS_TOKEN_ENCRYPTED")
	if encoded == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		slog.Error("failed to decode GitHub access token from environment", "error", err)
		return ""
	}
	token, err := decryptWithPassword(accessTokenPassword(), raw)
	if err != nil {
		slog.Error("failed to decrypt GitHub access token from environment", "error", err)
		return ""
	}
	return string(token)
}

func userDataFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".jupyter", "nbi", "user-data.json")
}

func readUserData() map[string]any {
	path := userDataFilePath()
	if path == "" {
		return map[string]any{}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{}
	}
	return data
}

func writeUserData(data map[string]any) error {
	path := userDataFilePath()
	if path == "" {
		return errors.New("cannot resolve user home directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func readStoredAccessToken() string {
	encoded, ok := readUserData()["github_access_token"].(string)
	if !ok || encoded == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		slog.Error("failed to read stored GitHub access token", "error", err)
		return ""
	}
	token, err := decryptWithPassword(accessTokenPassword(), raw)
	if err != nil {
		slog.Error("failed to decrypt stored GitHub access token", "error", err)
		return ""
	}
	return string(token)
}

func writeStoredAccessToken(token string) error {
	encrypted, err := encryptWithPassword(accessTokenPassword(), []byte(token))
	if err != nil {
		return err
	}
	data := readUserData()
	data["github_access_token"] = base64.StdEncoding.EncodeToString(encrypted)
	return writeUserData(data)
}

func deleteStoredAccessToken() {
	data := readUserData()
	if _, ok := data["github_access_token"]; !ok {
		return
	}
	delete(data, "github_access_token")
	if err := writeUserData(data); err != nil {
		slog.Error("failed to delete stored GitHub access token", "error", err)
	}
}

// CopilotProvider serves the GitHub Copilot chat and inline completion
// models through the Copilot API.
type CopilotProvider struct {
	chat.PropertySet
	session      *CopilotSession
	chatModels   []chat.ChatModel
	inlineModels []chat.InlineCompletionModel
}

func NewCopilotProvider(session *CopilotSession) *CopilotProvider {
	p := &CopilotProvider{session: session}

	catalog := []struct {
		id   string
		name string
		ctx  int
	}{
		{"gpt-5-mini", "GPT-5 mini", 128000},
		{"gpt-4.1", "GPT-4.1", 128000},
		{"gpt-4o", "GPT-4o", 128000},
		{"o3-mini", "o3-mini", 200000},
		{"gpt-5", "GPT-5", 128000},
		{"claude-sonnet-4", "Claude Sonnet 4", 80000},
		{"claude-3.7-sonnet", "Claude 3.7 Sonnet", 200000},
		{"claude-3.5-sonnet", "Claude 3.5 Sonnet", 90000},
		{"gemini-2.5-pro", "Gemini 2.5 Pro", 128000},
		{"gemini-2.0-flash-001", "Gemini 2.0 Flash", 1000000},
	}
	for _, m := range catalog {
		p.chatModels = append(p.chatModels, &copilotChatModel{
			provider: p,
			modelID:  m.id,
			name:     m.name,
			ctxWin:   m.ctx,
		})
	}

	inline := []struct {
		id   string
		name string
	}{
		{"gpt-41-copilot", "GPT-4.1 Copilot"},
		{"gpt-4o-copilot", "GPT-4o Copilot"},
		{"copilot-codex", "Copilot Codex"},
	}
	for _, m := range inline {
		p.inlineModels = append(p.inlineModels, &copilotInlineCompletionModel{
			provider: p,
			modelID:  m.id,
			name:     m.name,
		})
	}

	return p
}

func (p *CopilotProvider) ID() string   { return "github-copilot" }
func (p *CopilotProvider) Name() string { return "GitHub Copilot" }

func (p *CopilotProvider) Session() *CopilotSession { return p.session }

func (p *CopilotProvider) ChatModels() []chat.ChatModel {
	return append([]chat.ChatModel(nil), p.chatModels...)
}

func (p *CopilotProvider) InlineCompletionModels() []chat.InlineCompletionModel {
	return append([]chat.InlineCompletionModel(nil), p.inlineModels...)
}

type copilotChatModel struct {
	chat.PropertySet
	provider *CopilotProvider
	modelID  string
	name     string
	ctxWin   int
}

func (m *copilotChatModel) Provider() chat.Provider { return m.provider }
func (m *copilotChatModel) ID() string              { return m.modelID }
func (m *copilotChatModel) Name() string            { return m.name }
func (m *copilotChatModel) ContextWindow() int      { return m.ctxWin }

func (m *copilotChatModel) Completions(ctx context.Context, messages []chat.Message, tools []chat.ToolSchema, resp chat.Response, cancel *chat.CancelToken, opts chat.CompletionOptions) (*chat.CompletionResult, error) {
	apiEndpoint, _ := m.provider.session.endpoints()
	client := NewClient(apiEndpoint, "", WithTransport(&copilotTransport{session: m.provider.session}))

	req := openai.ChatCompletionRequest{
		Model:    m.modelID,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
		TopP:     1,
		N:        1,
	}
	if m.modelID != "gpt-5" && m.modelID != "gpt-5-mini" {
		req.Stop = []string{"<END>"}
	}
	if len(tools) > 0 {
		req.ToolChoice = toOpenAIToolChoice(opts.ToolChoice)
	}

	// The Copilot API serves streamed completions only. Aggregate
	// callers get the stream collected into a single result.
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", err)
	}

	if resp != nil {
		if err := streamChunks(stream, resp, cancel); err != nil {
			return nil, fmt.Errorf("read completion stream: %w", err)
		}
		return nil, nil
	}

	return aggregateStream(stream, cancel)
}

// aggregateStream collects a delta stream into a single completion
// result, stitching tool call argument fragments together by index.
func aggregateStream(stream *openai.ChatCompletionStream, cancel *chat.CancelToken) (*chat.CompletionResult, error) {
	defer stream.Close()

	var content strings.Builder
	var calls []chat.ToolCall
	argBuffers := map[int]*strings.Builder{}

	for {
		if cancel != nil && cancel.Requested() {
			break
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		content.WriteString(delta.Content)
		for _, call := range delta.ToolCalls {
			if call.Index == nil {
				continue
			}
			index := *call.Index
			if index >= len(calls) {
				calls = append(calls, chat.ToolCall{
					ID:   call.ID,
					Type: string(call.Type),
					Function: chat.ToolCallFunction{
						Name: call.Function.Name,
					},
				})
				argBuffers[index] = &strings.Builder{}
			}
			argBuffers[index].WriteString(call.Function.Arguments)
		}
	}

	for i := range calls {
		args := argBuffers[i].String()
		if args == "" {
			args = "{}"
		}
		calls[i].Function.Arguments = args
	}

	return &chat.CompletionResult{
		Content:   content.String(),
		ToolCalls: calls,
	}, nil
}

type copilotInlineCompletionModel struct {
	chat.PropertySet
	provider *CopilotProvider
	modelID  string
	name     string
}

func (m *copilotInlineCompletionModel) Provider() chat.Provider { return m.provider }
func (m *copilotInlineCompletionModel) ID() string              { return m.modelID }
func (m *copilotInlineCompletionModel) Name() string            { return m.name }
func (m *copilotInlineCompletionModel) ContextWindow() int      { return 4096 }

func (m *copilotInlineCompletionModel) InlineCompletions(ctx context.Context, prefix, suffix, language, filename string, cc chat.CompletionContext, cancel *chat.CancelToken) (string, error) {
	if cancel != nil && cancel.Requested() {
		return "", nil
	}

	session := m.provider.session
	_, proxyEndpoint := session.endpoints()

	prompt := "# Path: " + filename
	for _, item := range cc.Items {
		filePath := item.FilePath
		if filePath == "" {
			filePath = "undefined"
		}
		snippet := fmt.Sprintf("Compare this snippet from %s:\n%s\n", filePath, item.Content)
		prompt += "\n# " + strings.ReplaceAll(snippet, "\n", "\n# ")
	}
	prompt += "\n" + prefix

	body, err := json.Marshal(map[string]any{
		"prompt":      prompt,
		"suffix":      suffix,
		"min_tokens":  500,
		"max_tokens":  2000,
		"temperature": 0,
		"top_p":       1,
		"n":           1,
		"stop":        []string{"<END>", "```"},
		"nwo":         "NotebookIntelligence",
		"stream":      true,
		"extra": map[string]any{
			"language":            language,
			"next_indent":         0,
			"trim_by_indentation": true,
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/engines/%s/completions", proxyEndpoint, m.modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("authorization", "Bearer "+session.apiToken())
	req.Header.Set("content-type", "application/json")

	resp, err := session.httpClient.Do(req)
	if err != nil {
		slog.Error("failed to get inline completions", "error", err)
		return "", nil
	}
	defer resp.Body.Close()

	var result strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if cancel != nil && cancel.Requested() {
			return "", nil
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var chunk struct {
			Choices []struct {
				Text string `json:"text"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(line[6:]), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			result.WriteString(chunk.Choices[0].Text)
		}
	}

	return result.String(), nil
}
