// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/offline"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/sources"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 3000

	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// healthProbeTimeout bounds backend checks made by /health.
	healthProbeTimeout = 5 * time.Second
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// LocalEngine is the local model runtime as managed over HTTP.
type LocalEngine interface {
	IsModelLoaded() bool
	LoadedModel() string
	LoadModel(ctx context.Context, name string) error
	UnloadModel(ctx context.Context) error
	AvailableModels(ctx context.Context) ([]model.ModelInfo, error)
}

// RemoteModels is the remote backend as managed over HTTP.
type RemoteModels interface {
	CheckReachable(ctx context.Context) error
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}

// Deps are the server's collaborators. Engine, Remote, Sources and Metrics
// may be nil; their endpoints then answer 503 (or are not mounted).
type Deps struct {
	Chat    *chat.Orchestrator
	Store   *session.Store
	Engine  LocalEngine
	Remote  RemoteModels
	Sources *sources.Registry
	Guard   *offline.Guard
	Config  config.Provider
	Log     *logger.Logger
	Metrics *metrics.Metrics
	Version string
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front end of the chat backend.
type Server struct {
	deps    Deps
	log     *logger.Logger
	mux     *http.ServeMux
	limiter *RateLimiter
	handler http.Handler

	server *http.Server
}

// New builds the routes and middleware chain from the current config.
func New(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.NewHolder(nil).Provider()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	cfg := deps.Config()
	s := &Server{
		deps:    deps,
		log:     logger.OrNop(deps.Log).Component("server"),
		mux:     http.NewServeMux(),
		limiter: NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
	s.setupRoutes()

	s.handler = Chain(
		RecoveryMiddleware(s.log),
		RequestIDMiddleware(),
		LoggingMiddleware(s.log, deps.Metrics),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig(cfg.Server.AllowedOrigins)),
		RateLimitMiddleware(s.limiter, s.log),
		AuthMiddleware(AuthConfig{BearerToken: cfg.Server.APIToken, ExemptPaths: []string{"/health"}}, s.log),
	)(s.mux)
	return s
}

// setupRoutes registers all endpoints.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/chat/cancel", s.handleChatCancel)

	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.mux.HandleFunc("POST /api/conversations", s.handleNewConversation)
	s.mux.HandleFunc("DELETE /api/conversations", s.handleDeleteAllConversations)
	s.mux.HandleFunc("GET /api/conversations/current", s.handleCurrentConversation)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleLoadConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)

	s.mux.HandleFunc("GET /api/models/local", s.handleLocalModels)
	s.mux.HandleFunc("GET /api/models/remote", s.handleRemoteModels)
	s.mux.HandleFunc("POST /api/models/load", s.handleLoadModel)
	s.mux.HandleFunc("POST /api/models/unload", s.handleUnloadModel)

	s.mux.HandleFunc("GET /api/sources", s.handleListSources)
	s.mux.HandleFunc("POST /api/sources", s.handleAddSource)
	s.mux.HandleFunc("DELETE /api/sources/{id}", s.handleRemoveSource)
	s.mux.HandleFunc("POST /api/sources/{id}/pull", s.handlePullSource)
	s.mux.HandleFunc("GET /api/sources/{id}/files", s.handleListSourceFiles)

	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	cfg := s.deps.Config()
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: chat streams can outlive any fixed bound.
		IdleTimeout: 120 * time.Second,
	}

	s.log.Info("SERVER_START").Str("addr", addr).Str("version", s.deps.Version).Msg("Listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return nil
}

// Shutdown cancels any in-flight generation and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	if s.deps.Chat != nil && s.deps.Chat.Cancel() {
		s.log.Info("SERVER_SHUTDOWN").Msg("In-flight generation cancelled")
	}
	if s.server == nil {
		return nil
	}
	s.log.Info("SERVER_SHUTDOWN").Msg("Starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HEALTH AND CONFIG
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
	Ready   bool   `json:"ready"`
	Model   string `json:"model,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Offline bool   `json:"offline"`
	Busy    bool   `json:"busy"`
}

// handleHealth reports whether the configured backend can take a chat.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Config().View()
	health := HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Offline: s.deps.Guard.Enabled(),
		Busy:    s.deps.Chat != nil && s.deps.Chat.Busy(),
	}

	if view.UseLocalLLM {
		health.Backend = string(model.BackendLocal)
		switch {
		case s.deps.Engine == nil:
			health.Detail = "local engine not configured"
		case !s.deps.Engine.IsModelLoaded():
			health.Detail = chat.MsgNoModelLoaded
		default:
			health.Ready = true
			health.Model = s.deps.Engine.LoadedModel()
		}
	} else {
		health.Backend = string(model.BackendRemote)
		health.Model = view.LMStudioModel
		if s.deps.Remote == nil {
			health.Detail = "remote backend not configured"
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()
			if err := s.deps.Remote.CheckReachable(ctx); err != nil {
				health.Detail = err.Error()
			} else {
				health.Ready = true
			}
		}
	}

	status := http.StatusOK
	if !health.Ready {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleConfig returns the read-only configuration view.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  s.deps.Config().View(),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-stream error.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeError writes {success:false, message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
