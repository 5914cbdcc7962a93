// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// FAKE OLLAMA SERVER
// =============================================================================

type fakeOllama struct {
	mu        sync.Mutex
	generates []GenerateRequest
	chats     []ChatRequest

	// chatLines are written one per flush for /api/chat.
	chatLines []string

	// block makes /api/chat stop after the first line until the client
	// goes away.
	block bool
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"name":"qwen2.5:7b","size":4700000000},{"name":"llama3.2:3b","size":2000000000}]}`)
	})
	mux.HandleFunc("GET /api/ps", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"name":"qwen2.5:7b","model":"qwen2.5:7b","size":4700000000}]}`)
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode generate: %v", err)
		}
		f.mu.Lock()
		f.generates = append(f.generates, req)
		f.mu.Unlock()
		if req.Model == "missing:latest" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"model 'missing:latest' not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"model":"`+req.Model+`","done":true}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat: %v", err)
		}
		f.mu.Lock()
		f.chats = append(f.chats, req)
		f.mu.Unlock()

		flusher := w.(http.Flusher)
		for i, line := range f.chatLines {
			_, _ = io.WriteString(w, line+"\n")
			flusher.Flush()
			if f.block && i == 0 {
				<-r.Context().Done()
				return
			}
		}
	})
	return mux
}

func newFake(t *testing.T, f *fakeOllama) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
}

func chatLine(content string, done bool) string {
	b, _ := json.Marshal(ChatResponse{Model: "qwen2.5:7b", Message: Message{Role: "assistant", Content: content}, Done: done})
	return string(b)
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestClient_CheckRunning(t *testing.T) {
	c := newFake(t, &fakeOllama{})
	if err := c.CheckRunning(context.Background()); err != nil {
		t.Fatalf("CheckRunning() = %v", err)
	}
}

func TestClient_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: time.Second})
	err := c.CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Fatalf("CheckRunning() = %v, want not running", err)
	}
	if IsTimeout(err) {
		t.Error("connection refused reported as timeout")
	}
}

func TestClient_ListModels(t *testing.T) {
	c := newFake(t, &fakeOllama{})

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0].Name != "qwen2.5:7b" || models[0].Size != 4700000000 {
		t.Errorf("ListModels() = %+v", models)
	}

	running, err := c.RunningModels(context.Background())
	if err != nil {
		t.Fatalf("RunningModels() error = %v", err)
	}
	if len(running) != 1 || running[0].Name != "qwen2.5:7b" {
		t.Errorf("RunningModels() = %+v", running)
	}
}

func TestClient_LoadAndUnload(t *testing.T) {
	f := &fakeOllama{}
	c := newFake(t, f)

	if err := c.LoadModel(context.Background(), "qwen2.5:7b"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if err := c.UnloadModel(context.Background(), "qwen2.5:7b"); err != nil {
		t.Fatalf("UnloadModel() error = %v", err)
	}

	if len(f.generates) != 2 {
		t.Fatalf("generate calls = %d, want 2", len(f.generates))
	}
	if f.generates[0].KeepAlive != "30m" || f.generates[0].Prompt != "" {
		t.Errorf("load request = %+v", f.generates[0])
	}
	if ka, ok := f.generates[1].KeepAlive.(float64); !ok || ka != 0 {
		t.Errorf("unload keep_alive = %#v, want 0", f.generates[1].KeepAlive)
	}
}

func TestClient_LoadMissingModel(t *testing.T) {
	c := newFake(t, &fakeOllama{})

	err := c.LoadModel(context.Background(), "missing:latest")
	if !IsModelNotFound(err) {
		t.Fatalf("LoadModel() = %v, want model not found", err)
	}
	if !strings.Contains(err.Error(), "missing:latest") {
		t.Errorf("error %q does not carry Ollama's message", err)
	}
}

func TestClient_ChatStream(t *testing.T) {
	f := &fakeOllama{chatLines: []string{
		chatLine("Hel", false),
		"",
		"{not json",
		chatLine("lo", false),
		chatLine("", true),
	}}
	c := newFake(t, f)

	var got []string
	err := c.ChatStream(context.Background(), "qwen2.5:7b",
		[]Message{{Role: "user", Content: "hi"}},
		&Options{Temperature: 0.5, NumPredict: 64},
		func(chunk StreamChunk) {
			if chunk.Content != "" {
				got = append(got, chunk.Content)
			}
		})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Errorf("chunks = %q", got)
	}

	req := f.chats[0]
	if !req.Stream || req.Model != "qwen2.5:7b" || req.Options.NumPredict != 64 {
		t.Errorf("chat request = %+v", req)
	}
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_LastLineWithoutNewline(t *testing.T) {
	r := NewStreamReader(strings.NewReader(chatLine("a", false) + "\n" + chatLine("b", false)))

	var n int
	if err := r.Process(context.Background(), func(StreamChunk) { n++ }); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n != 2 || r.Accumulated() != "ab" || r.TokenCount() != 2 {
		t.Errorf("n=%d acc=%q tokens=%d", n, r.Accumulated(), r.TokenCount())
	}
	if r.Model() != "qwen2.5:7b" {
		t.Errorf("Model() = %q", r.Model())
	}
}

func TestStreamReader_FinalStats(t *testing.T) {
	line := `{"model":"m","message":{"content":""},"done":true,"eval_count":50,"eval_duration":2000000000}`
	r := NewStreamReader(strings.NewReader(line + "\n"))

	var final StreamChunk
	if err := r.Process(context.Background(), func(c StreamChunk) { final = c }); err != nil {
		t.Fatal(err)
	}
	if !final.Done || final.CompletionTokens != 50 || final.TokensPerSecond() != 25 {
		t.Errorf("final = %+v, tok/s = %v", final, final.TokensPerSecond())
	}
}

func TestStreamReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStreamReader(strings.NewReader(chatLine("x", false))).Process(ctx, func(StreamChunk) {
		t.Error("callback after cancel")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() = %v, want context.Canceled", err)
	}
}

// =============================================================================
// ENGINE TESTS
// =============================================================================

func TestEngine_NoModelLoaded(t *testing.T) {
	e := NewEngine(newFake(t, &fakeOllama{}), nil)

	if e.IsModelLoaded() {
		t.Fatal("fresh engine reports a loaded model")
	}
	if _, err := e.Generate(context.Background(), nil, model.GenerationOptions{}); !errors.Is(err, ErrNoModelLoaded) {
		t.Errorf("Generate() = %v, want ErrNoModelLoaded", err)
	}
	if err := e.LoadModel(context.Background(), "  "); !errors.Is(err, ErrEmptyModelName) {
		t.Errorf("LoadModel(blank) = %v", err)
	}
}

func TestEngine_LoadGenerate(t *testing.T) {
	f := &fakeOllama{chatLines: []string{chatLine("Hel", false), chatLine("lo", false), chatLine(" world", false), chatLine("", true)}}
	e := NewEngine(newFake(t, f), nil)

	if err := e.LoadModel(context.Background(), "qwen2.5:7b"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	if !e.IsModelLoaded() || e.LoadedModel() != "qwen2.5:7b" {
		t.Fatalf("LoadedModel() = %q", e.LoadedModel())
	}

	var tokens []string
	text, err := e.Generate(context.Background(), []model.Message{
		model.NewMessage(model.RoleSystem, "be brief"),
		model.NewMessage(model.RoleUser, "hi"),
	}, model.GenerationOptions{Temperature: 0.7, MaxTokens: 128, OnToken: func(s string) { tokens = append(tokens, s) }})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
	if strings.Join(tokens, "|") != "Hel|lo| world" {
		t.Errorf("tokens = %q", tokens)
	}

	req := f.chats[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Options.Temperature != 0.7 {
		t.Errorf("chat request = %+v", req)
	}
}

func TestEngine_SwitchModelUnloadsPrevious(t *testing.T) {
	f := &fakeOllama{}
	e := NewEngine(newFake(t, f), nil)

	if err := e.LoadModel(context.Background(), "qwen2.5:7b"); err != nil {
		t.Fatal(err)
	}
	if err := e.LoadModel(context.Background(), "llama3.2:3b"); err != nil {
		t.Fatal(err)
	}

	if len(f.generates) != 3 {
		t.Fatalf("generate calls = %d, want load, load, unload", len(f.generates))
	}
	if f.generates[2].Model != "qwen2.5:7b" {
		t.Errorf("unloaded %q, want previous model", f.generates[2].Model)
	}

	if err := e.UnloadModel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.IsModelLoaded() {
		t.Error("model still loaded after UnloadModel")
	}
	if err := e.UnloadModel(context.Background()); err != nil {
		t.Errorf("second UnloadModel() = %v, want no-op", err)
	}
}

func TestEngine_FailedLoadKeepsState(t *testing.T) {
	e := NewEngine(newFake(t, &fakeOllama{}), nil)

	if err := e.LoadModel(context.Background(), "missing:latest"); err == nil {
		t.Fatal("LoadModel(missing) succeeded")
	}
	if e.IsModelLoaded() {
		t.Error("failed load marked a model as loaded")
	}
}

func TestEngine_GenerateCancelled(t *testing.T) {
	f := &fakeOllama{chatLines: []string{chatLine("partial", false), chatLine("never", false)}, block: true}
	e := NewEngine(newFake(t, f), nil)
	if err := e.LoadModel(context.Background(), "qwen2.5:7b"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	text, err := e.Generate(ctx, []model.Message{model.NewMessage(model.RoleUser, "go")}, model.GenerationOptions{
		OnToken: func(string) { cancel() },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if text != "partial" {
		t.Errorf("partial text = %q", text)
	}
}

func TestEngine_AvailableModels(t *testing.T) {
	e := NewEngine(newFake(t, &fakeOllama{}), nil)
	if err := e.LoadModel(context.Background(), "llama3.2:3b"); err != nil {
		t.Fatal(err)
	}

	models, err := e.AvailableModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].Loaded || !models[1].Loaded || models[1].Backend != model.BackendLocal {
		t.Errorf("AvailableModels() = %+v", models)
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		512:        "512 B",
		2048:       "2.0 KB",
		5242880:    "5.0 MB",
		4700000000: "4.4 GB",
	}
	for in, want := range tests {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}
