// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/offline"
)

// =============================================================================
// HELPERS
// =============================================================================

func deltaFrame(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","model":"m","choices":[{"delta":{"content":%q},"finish_reason":""}]}`+"\n\n", content)
}

// sseServer writes frames one by one, flushing after each.
func sseServer(t *testing.T, frames []string, after func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *ChatRequest) {
	t.Helper()
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			flusher.Flush()
		}
		if after != nil {
			after(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func userMessages(text string) []model.Message {
	return []model.Message{
		model.NewMessage(model.RoleSystem, "sys"),
		model.NewMessage(model.RoleUser, text),
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStreamChat_DeltaOrder(t *testing.T) {
	srv, req := sseServer(t, []string{
		": keep-alive comment\n\n",
		deltaFrame("Hel"),
		"data: {broken\n\n",
		deltaFrame("lo"),
		deltaFrame(" world"),
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n",
		"data: [DONE]\n\n",
	}, nil)

	c := New(Config{BaseURL: srv.URL + "/v1/", Model: "qwen2.5-7b-instruct"})

	var deltas []string
	text, err := c.StreamChat(context.Background(), userMessages("hi"), model.GenerationOptions{
		Temperature: 0.3,
		MaxTokens:   256,
		OnToken:     func(d string) { deltas = append(deltas, d) },
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if strings.Join(deltas, "|") != "Hel|lo| world" {
		t.Errorf("deltas = %q", deltas)
	}

	if !req.Stream || req.Model != "qwen2.5-7b-instruct" || req.Temperature != 0.3 || req.MaxTokens != 256 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestStreamChat_MissingDone(t *testing.T) {
	srv, _ := sseServer(t, []string{deltaFrame("Hel"), deltaFrame("lo")}, nil)
	c := New(Config{BaseURL: srv.URL, Model: "m"})

	text, err := c.StreamChat(context.Background(), userMessages("hi"), model.GenerationOptions{})
	if !errors.Is(err, ErrIncompleteStream) {
		t.Fatalf("StreamChat() error = %v, want ErrIncompleteStream", err)
	}
	var se *StreamError
	if !errors.As(err, &se) || se.Partial != "Hello" {
		t.Errorf("partial = %+v", se)
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}
}

func TestStreamChat_FinishReasonThenEOF(t *testing.T) {
	srv, _ := sseServer(t, []string{
		deltaFrame("ok"),
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n",
	}, nil)
	c := New(Config{BaseURL: srv.URL, Model: "m"})

	text, err := c.StreamChat(context.Background(), userMessages("hi"), model.GenerationOptions{})
	if err != nil || text != "ok" {
		t.Errorf("StreamChat() = %q, %v", text, err)
	}
}

func TestStreamChat_Cancelled(t *testing.T) {
	srv, _ := sseServer(t, []string{deltaFrame("Hel")}, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := New(Config{BaseURL: srv.URL, Model: "m"})

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	text, err := c.StreamChat(ctx, userMessages("hi"), model.GenerationOptions{
		OnToken: func(string) {
			calls++
			cancel()
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("StreamChat() error = %v, want context.Canceled", err)
	}
	if calls != 1 || text != "Hel" {
		t.Errorf("calls = %d, text = %q", calls, text)
	}
}

func TestStreamChat_Stalled(t *testing.T) {
	srv, _ := sseServer(t, []string{deltaFrame("a")}, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	c := New(Config{BaseURL: srv.URL, Model: "m", RequestTimeout: 150 * time.Millisecond})

	_, err := c.StreamChat(context.Background(), userMessages("hi"), model.GenerationOptions{})
	if !errors.Is(err, ErrStreamStalled) {
		t.Fatalf("StreamChat() error = %v, want ErrStreamStalled", err)
	}
}

func TestStreamChat_MidStreamError(t *testing.T) {
	srv, _ := sseServer(t, []string{
		deltaFrame("par"),
		`data: {"error":{"message":"context length exceeded"}}` + "\n\n",
	}, nil)
	c := New(Config{BaseURL: srv.URL, Model: "m"})

	_, err := c.StreamChat(context.Background(), userMessages("hi"), model.GenerationOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "context length exceeded" {
		t.Fatalf("StreamChat() error = %v", err)
	}
}

func TestStreamChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"No models loaded"}`)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, Model: "m"})

	_, err := c.StreamChat(context.Background(), userMessages("hi"), model.GenerationOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("StreamChat() error = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "No models loaded" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestStreamChat_NoModel(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:1"})
	if _, err := c.StreamChat(context.Background(), nil, model.GenerationOptions{}); !errors.Is(err, ErrNoModel) {
		t.Errorf("StreamChat() error = %v, want ErrNoModel", err)
	}
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_MultiLineData(t *testing.T) {
	r := NewSSEReader(strings.NewReader("event: message\ndata: a\ndata: b\r\n\ndata: tail"))

	ev, data, err := r.ReadEvent()
	if err != nil || ev != "message" || string(data) != "a\nb" {
		t.Fatalf("first event = %q %q %v", ev, data, err)
	}
	_, data, err = r.ReadEvent()
	if err != nil || string(data) != "tail" {
		t.Fatalf("second event = %q %v", data, err)
	}
	if _, _, err := r.ReadEvent(); err != io.EOF {
		t.Errorf("third ReadEvent() = %v, want EOF", err)
	}
}

func TestSSEReader_LineTooLarge(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: " + strings.Repeat("x", MaxChunkSize+1) + "\n\n"))
	if _, _, err := r.ReadEvent(); !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("ReadEvent() = %v, want ErrChunkTooLarge", err)
	}
}

// =============================================================================
// PROBE AND MODEL LIST TESTS
// =============================================================================

func modelsServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"object":"list","data":[`+
			`{"id":"qwen2.5-7b-instruct","object":"model","created":0,"owned_by":"organization_owner"},`+
			`{"id":"llama-3.2-3b","object":"model","created":0,"owned_by":"organization_owner"}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckReachable(t *testing.T) {
	ok := New(Config{BaseURL: modelsServer(t, http.StatusOK).URL})
	if err := ok.CheckReachable(context.Background()); err != nil {
		t.Errorf("CheckReachable() = %v", err)
	}

	failing := New(Config{BaseURL: modelsServer(t, http.StatusInternalServerError).URL})
	if err := failing.CheckReachable(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("CheckReachable(500) = %v, want ErrUnreachable", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	down := New(Config{BaseURL: url, ProbeTimeout: time.Second})
	if err := down.CheckReachable(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("CheckReachable(closed) = %v, want ErrUnreachable", err)
	}
}

func TestListModels(t *testing.T) {
	c := New(Config{BaseURL: modelsServer(t, http.StatusOK).URL, Model: "llama-3.2-3b"})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("ListModels() = %+v", models)
	}
	if models[0].ID != "qwen2.5-7b-instruct" || models[0].Loaded || models[0].Backend != model.BackendRemote {
		t.Errorf("models[0] = %+v", models[0])
	}
	if !models[1].Loaded {
		t.Errorf("configured model not marked: %+v", models[1])
	}
}

func TestOfflineGuard(t *testing.T) {
	guard := offline.NewGuard(true)
	c := New(Config{BaseURL: "http://192.0.2.10:1234", Model: "m", Guard: guard})

	if err := c.CheckReachable(context.Background()); !errors.Is(err, offline.ErrNonLocalhost) {
		t.Errorf("CheckReachable() = %v, want ErrNonLocalhost", err)
	}
	if _, err := c.StreamChat(context.Background(), nil, model.GenerationOptions{}); !errors.Is(err, offline.ErrNonLocalhost) {
		t.Errorf("StreamChat() = %v, want ErrNonLocalhost", err)
	}
	if _, err := c.ListModels(context.Background()); !errors.Is(err, offline.ErrNonLocalhost) {
		t.Errorf("ListModels() = %v, want ErrNonLocalhost", err)
	}

	local := New(Config{BaseURL: modelsServer(t, http.StatusOK).URL, Guard: guard})
	if err := local.CheckReachable(context.Background()); err != nil {
		t.Errorf("localhost probe blocked offline: %v", err)
	}
}

func TestSetTarget(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:1234/v1", Model: "a"})
	if c.BaseURL() != "http://localhost:1234" {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}

	c.SetTarget("http://127.0.0.1:5555/", "b")
	if c.BaseURL() != "http://127.0.0.1:5555" || c.Model() != "b" {
		t.Errorf("after SetTarget: %q %q", c.BaseURL(), c.Model())
	}
}
