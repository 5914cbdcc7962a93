// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/sources"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// ============================================================================
// CONVERSATIONS
// ============================================================================

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"conversations": s.deps.Store.AllConversations(),
		"currentId":     s.deps.Store.CurrentID(),
	})
}

// handleNewConversation cancels any in-flight generation and starts fresh.
func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	var id string
	if !s.interrupt(w, r, "new_conversation", func() {
		id = s.deps.Store.StartNewConversation()
	}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
	})
}

func (s *Server) handleCurrentConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"id":       s.deps.Store.CurrentID(),
		"messages": nonNilMessages(s.deps.Store.CurrentHistory()),
	})
}

// handleLoadConversation loads a conversation and makes it current.
func (s *Server) handleLoadConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat != nil && s.deps.Chat.Busy() {
		writeError(w, http.StatusConflict, chat.MsgBusy)
		return
	}

	id := r.PathValue("id")
	messages, err := s.deps.Store.LoadConversation(id)
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, storage.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"id":       id,
		"messages": nonNilMessages(messages),
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted := false
	remove := func() { deleted = s.deps.Store.DeleteConversation(id) }
	if id == s.deps.Store.CurrentID() {
		if !s.interrupt(w, r, "delete_current", remove) {
			return
		}
	} else {
		remove()
	}
	if !deleted {
		writeError(w, http.StatusNotFound, storage.ErrConversationNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"currentId": s.deps.Store.CurrentID(),
	})
}

func (s *Server) handleDeleteAllConversations(w http.ResponseWriter, r *http.Request) {
	deleted := false
	if !s.interrupt(w, r, "delete_all", func() {
		deleted = s.deps.Store.DeleteAllConversations()
	}) {
		return
	}
	if !deleted {
		writeError(w, http.StatusInternalServerError, "could not delete all conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"currentId": s.deps.Store.CurrentID(),
	})
}

// interrupt cancels the in-flight generation, waits for it to end and runs
// fn before another one can start. It writes an error and returns false
// when the request ends first.
func (s *Server) interrupt(w http.ResponseWriter, r *http.Request, reason string, fn func()) bool {
	if s.deps.Chat == nil {
		fn()
		return true
	}
	cancelled, err := s.deps.Chat.Interrupt(r.Context(), fn)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "generation did not stop in time")
		return false
	}
	if cancelled {
		s.log.Info("CHAT_CANCELLED").Str("reason", reason).Msg("In-flight generation cancelled")
	}
	return true
}

func nonNilMessages(messages []model.Message) []model.Message {
	if messages == nil {
		return []model.Message{}
	}
	return messages
}

// ============================================================================
// MODELS
// ============================================================================

// LoadModelBody is the body of POST /api/models/load.
type LoadModelBody struct {
	Model string `json:"model"`
}

func (s *Server) handleLocalModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "local engine not configured")
		return
	}
	models, err := s.deps.Engine.AvailableModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"models":  nonNilModels(models),
		"loaded":  s.deps.Engine.LoadedModel(),
	})
}

func (s *Server) handleRemoteModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remote == nil {
		writeError(w, http.StatusServiceUnavailable, "remote backend not configured")
		return
	}
	models, err := s.deps.Remote.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"models":  nonNilModels(models),
		"model":   s.deps.Config().View().LMStudioModel,
	})
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "local engine not configured")
		return
	}
	var body LoadModelBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(body.Model)
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing model")
		return
	}
	if s.deps.Chat != nil && s.deps.Chat.Busy() {
		writeError(w, http.StatusConflict, chat.MsgBusy)
		return
	}

	if err := s.deps.Engine.LoadModel(r.Context(), name); err != nil {
		s.log.Warn("MODEL_LOAD_FAILED").Err(err).Str("model", name).Msg("Model load failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"loaded":  s.deps.Engine.LoadedModel(),
	})
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "local engine not configured")
		return
	}
	if !s.interrupt(w, r, "unload_model", func() {}) {
		return
	}
	if err := s.deps.Engine.UnloadModel(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func nonNilModels(models []model.ModelInfo) []model.ModelInfo {
	if models == nil {
		return []model.ModelInfo{}
	}
	return models
}

// ============================================================================
// FILE SOURCES
// ============================================================================

// AddSourceBody is the body of POST /api/sources.
type AddSourceBody struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"sources": s.deps.Sources.List(),
	})
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	var body AddSourceBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		src sources.Source
		err error
	)
	switch sources.Kind(body.Type) {
	case sources.KindFolder:
		if strings.TrimSpace(body.Path) == "" {
			writeError(w, http.StatusBadRequest, "missing path")
			return
		}
		src, err = s.deps.Sources.AddFolder(body.Path, body.Name)
	case sources.KindGit:
		if strings.TrimSpace(body.URL) == "" {
			writeError(w, http.StatusBadRequest, "missing url")
			return
		}
		src, err = s.deps.Sources.AddGit(r.Context(), body.URL, body.Name, body.Branch)
	default:
		writeError(w, http.StatusBadRequest, `type must be "folder" or "git"`)
		return
	}
	if err != nil {
		writeError(w, sourceErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"source":  src,
	})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	if err := s.deps.Sources.Remove(r.PathValue("id")); err != nil {
		writeError(w, sourceErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handlePullSource(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	src, err := s.deps.Sources.Pull(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, sourceErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"source":  src,
	})
}

func (s *Server) handleListSourceFiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireSources(w) {
		return
	}
	entries, err := s.deps.Sources.ListFiles(r.PathValue("id"), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, sourceErrorStatus(err), err.Error())
		return
	}
	if entries == nil {
		entries = []sources.FileEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"files":   entries,
	})
}

func (s *Server) requireSources(w http.ResponseWriter) bool {
	if s.deps.Sources == nil {
		writeError(w, http.StatusServiceUnavailable, "file sources not configured")
		return false
	}
	return true
}

// sourceErrorStatus maps registry errors to HTTP status codes.
func sourceErrorStatus(err error) int {
	switch {
	case errors.Is(err, sources.ErrSourceNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, sources.ErrPathEscape),
		errors.Is(err, sources.ErrNotDirectory),
		errors.Is(err, sources.ErrIsDirectory),
		errors.Is(err, sources.ErrFileTooLarge),
		errors.Is(err, sources.ErrInvalidRepoURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
