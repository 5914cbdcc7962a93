// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/chat"
)

// ============================================================================
// WIRE FORMAT
// ============================================================================

// Terminal markers sent as the data of the final "done" event.
const (
	MarkerEnd     = "END"
	MarkerAborted = "ABORTED"
)

// ChatRequestBody is the body of POST /api/chat.
type ChatRequestBody struct {
	Message         string `json:"message"`
	WebSearchMode   string `json:"webSearchMode"`
	ContentURL      string `json:"contentUrl,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

// ============================================================================
// SSE SINK
// ============================================================================

// sseSink writes the reply as text/event-stream frames. Every write is
// flushed so fragments reach the client as they arrive.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	failed  bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	flusher, _ := w.(http.Flusher)
	return &sseSink{w: w, flusher: flusher}
}

// Begin commits the stream headers.
func (s *sseSink) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flushLocked()
}

// Chunk sends one fragment as a JSON string so newlines survive framing.
func (s *sseSink) Chunk(text string) {
	data, err := json.Marshal(text)
	if err != nil {
		return
	}
	s.write("", string(data))
}

// event writes a named event.
func (s *sseSink) event(name, data string) {
	s.write(name, data)
}

func (s *sseSink) write(event, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.failed {
		return
	}

	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	if _, err := s.w.Write([]byte(b.String())); err != nil {
		// Client went away; the request context cancellation ends the run.
		s.failed = true
		return
	}
	s.flushLocked()
}

func (s *sseSink) flushLocked() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleChat runs one chat turn and streams the reply.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not available")
		return
	}

	var body ChatRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sink := newSSESink(w)
	outcome, err := s.deps.Chat.Run(r.Context(), chat.Request{
		Message:         body.Message,
		WebSearchMode:   body.WebSearchMode,
		ContentURL:      body.ContentURL,
		NewConversation: body.NewConversation,
	}, sink)
	if err != nil {
		var reqErr *chat.RequestError
		if errors.As(err, &reqErr) {
			writeError(w, reqErr.Status, reqErr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch outcome.Kind {
	case chat.OK:
		sink.event("done", MarkerEnd)
	case chat.Aborted:
		sink.event("done", MarkerAborted)
	default:
		msg := "generation failed"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		data, _ := json.Marshal(ErrorResponse{Success: false, Message: msg})
		sink.event("error", string(data))
	}
}

// handleChatCancel aborts the in-flight generation, if any.
func (s *Server) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.deps.Chat != nil && s.deps.Chat.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"cancelled": cancelled,
	})
}
