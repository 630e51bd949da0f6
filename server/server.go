// Package server exposes the chat service over HTTP: the REST
// endpoints for capabilities, configuration and GitHub login, and the
// websocket chat channel.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nbi-ai/nbi/service"
)

const ReadTimeout = 30 * time.Second

type Options struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type Server struct {
	opts    Options
	manager *service.Manager
	router  *chi.Mux
	server  *http.Server
}

func New(manager *service.Manager, opts Options) *Server {
	s := &Server{opts: opts, manager: manager}

	router := chi.NewRouter()
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(CORS(opts.AllowedOrigins))

	wsHandler := NewWSHandler(manager, opts.AllowedOrigins)

	router.Route("/notebook-intelligence", func(r chi.Router) {
		r.Get("/capabilities", s.getCapabilities)
		r.Post("/config", s.postConfig)
		r.Post("/update-provider-models", s.postUpdateProviderModels)
		r.Post("/reload-mcp-servers", s.postReloadMCPServers)
		r.Get("/mcp-config-file", s.getMCPConfigFile)
		r.Post("/mcp-config-file", s.postMCPConfigFile)
		r.Get("/gh-login-status", s.getGitHubLoginStatus)
		r.Post("/gh-login", s.postGitHubLogin)
		r.Get("/gh-logout", s.getGitHubLogout)
		r.Get("/copilot", wsHandler.ServeHTTP)
	})

	s.router = router
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: 0,
	}
	slog.Info("server listening", "addr", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response error", "error", err)
	}
}

func (s *Server) getCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Capabilities())
}

var validConfigKeys = map[string]bool{
	"default_chat_mode":         true,
	"chat_model":                true,
	"inline_completion_model":   true,
	"store_github_access_token": true,
}

func (s *Server) postConfig(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	cfg := s.manager.Config()
	for key, value := range data {
		if !validConfigKeys[key] {
			continue
		}
		if err := cfg.Set(key, value); err != nil {
			slog.Error("set config error", "key", key, "error", err)
		}
		if key == "store_github_access_token" {
			if store, _ := value.(bool); store {
				if err := s.manager.CopilotSession().StoreAccessToken(); err != nil {
					slog.Error("store GitHub access token error", "error", err)
				}
			} else {
				s.manager.CopilotSession().DeleteStoredAccessToken()
			}
		}
	}

	if err := cfg.Save(); err != nil {
		slog.Error("save config error", "error", err)
	}
	s.manager.UpdateModelsFromConfig()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) postUpdateProviderModels(w http.ResponseWriter, r *http.Request) {
	var data struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	s.manager.UpdateProviderModels(r.Context(), data.Provider)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) postReloadMCPServers(w http.ResponseWriter, r *http.Request) {
	s.manager.ReloadMCPServers()

	servers := []map[string]any{}
	for _, name := range s.manager.MCPServers() {
		servers = append(servers, map[string]any{"id": name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mcpServers": servers})
}

func (s *Server) getMCPConfigFile(w http.ResponseWriter, r *http.Request) {
	merged := s.manager.Config().MergedMCPRaw()
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) postMCPConfigFile(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	if err := s.manager.Config().SetUserMCPRaw(raw); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": err.Error()})
		return
	}
	s.manager.ReloadMCPServers()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) getGitHubLoginStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.CopilotSession().LoginStatus())
}

func (s *Server) postGitHubLogin(w http.ResponseWriter, r *http.Request) {
	verification, err := s.manager.CopilotSession().Login()
	if err != nil || verification == nil {
		slog.Error("GitHub login error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Failed to get device verification info from GitHub Copilot",
		})
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

func (s *Server) getGitHubLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.CopilotSession().Logout())
}
