// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// isolate points the config directory at a temp dir for the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIGRUN_CHAT_HOME", dir)
	for _, key := range []string{
		"RIGRUN_CHAT_USE_LOCAL", "RIGRUN_CHAT_MODEL", "RIGRUN_CHAT_OLLAMA_URL",
		"RIGRUN_CHAT_LMSTUDIO_URL", "RIGRUN_CHAT_LMSTUDIO_MODEL", "RIGRUN_CHAT_PORT",
		"RIGRUN_CHAT_API_TOKEN", "RIGRUN_CHAT_OFFLINE", "RIGRUN_CHAT_DEBUG",
	} {
		t.Setenv(key, "")
	}
	return dir
}

// =============================================================================
// LIVE CONFIG
// =============================================================================

// TestHolder_ConcurrentAccess tests that Set and Get can be safely called
// concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestHolder_ConcurrentAccess(t *testing.T) {
	h := NewHolder(Default())
	provider := h.Provider()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.LMStudio.Model = "test-model"
			h.Set(c)
		}()

		go func() {
			defer wg.Done()
			if provider() == nil {
				t.Error("provider() returned nil")
			}
		}()
	}

	wg.Wait()
}

func TestHolder_SetOverwrites(t *testing.T) {
	c := Default()
	c.LMStudio.Model = "first"
	h := NewHolder(c)
	provider := h.Provider()
	if got := provider().LMStudio.Model; got != "first" {
		t.Errorf("provider().LMStudio.Model = %q, want first", got)
	}

	c2 := Default()
	c2.LMStudio.Model = "second"
	h.Set(c2)
	if got := provider().View().LMStudioModel; got != "second" {
		t.Errorf("View().LMStudioModel = %q, want second", got)
	}
}

func TestHolder_NilUsesDefaults(t *testing.T) {
	isolate(t)
	h := NewHolder(nil)
	if h.Get() == nil {
		t.Fatal("Get() returned nil")
	}
	if h.Get().History.Dir == "" {
		t.Error("defaults were not derived")
	}
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.History.MaxHistoryMessages != 20 {
		t.Errorf("MaxHistoryMessages = %d, want 20", cfg.History.MaxHistoryMessages)
	}
	if cfg.History.MaxConversations != 10 {
		t.Errorf("MaxConversations = %d, want 10", cfg.History.MaxConversations)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("MaxResults = %d, want 5", cfg.Search.MaxResults)
	}
	if cfg.LMStudio.ProbeTimeoutSecs != 5 || cfg.LMStudio.RequestTimeoutSecs != 60 {
		t.Errorf("LM Studio timeouts = %d/%d, want 5/60", cfg.LMStudio.ProbeTimeoutSecs, cfg.LMStudio.RequestTimeoutSecs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Chat.DefaultSearchMode != "auto" {
		t.Errorf("DefaultSearchMode = %q, want auto", cfg.Chat.DefaultSearchMode)
	}
	if cfg.History.Dir != filepath.Join(dir, "chat_history") {
		t.Errorf("History.Dir = %q, want under %s", cfg.History.Dir, dir)
	}
	if cfg.Sources.RegistryPath != filepath.Join(dir, "sources.yaml") {
		t.Errorf("Sources.RegistryPath = %q", cfg.Sources.RegistryPath)
	}
}

func TestLoad_TOMLFileKeepsUnsetDefaults(t *testing.T) {
	dir := isolate(t)
	content := `
debug_mode = true

[chat]
use_local_llm = true
system_prompt = "Sei knapp."

[lmstudio]
url = "http://10.0.0.5:1234/"

[history]
max_history_messages = 8
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.DebugMode || !cfg.Chat.UseLocalLLM {
		t.Errorf("booleans not loaded: debug=%v local=%v", cfg.DebugMode, cfg.Chat.UseLocalLLM)
	}
	if cfg.Chat.SystemPrompt != "Sei knapp." {
		t.Errorf("SystemPrompt = %q", cfg.Chat.SystemPrompt)
	}
	if cfg.LMStudio.URL != "http://10.0.0.5:1234" {
		t.Errorf("LMStudio.URL = %q, want trailing slash trimmed", cfg.LMStudio.URL)
	}
	if cfg.History.MaxHistoryMessages != 8 {
		t.Errorf("MaxHistoryMessages = %d, want 8", cfg.History.MaxHistoryMessages)
	}
	if cfg.History.MaxConversations != 10 {
		t.Errorf("MaxConversations = %d, want default 10", cfg.History.MaxConversations)
	}

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	if err == nil && info.Mode().Perm() != 0600 && runtime.GOOS != "windows" {
		t.Errorf("config permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestLoad_JSONFallback(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"search":{"max_results":3}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Search.MaxResults != 3 {
		t.Errorf("MaxResults = %d, want 3", cfg.Search.MaxResults)
	}
}

func TestLoad_InvalidFileReturnsDefaultsAndError(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[chat\nbroken"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err == nil {
		t.Error("Load() should report the parse error")
	}
	if cfg == nil || cfg.History.MaxConversations != 10 {
		t.Errorf("Load() should still return defaults, got %+v", cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RIGRUN_CHAT_USE_LOCAL", "true")
	t.Setenv("RIGRUN_CHAT_LMSTUDIO_URL", "http://studio:1234")
	t.Setenv("RIGRUN_CHAT_PORT", "8088")
	t.Setenv("RIGRUN_CHAT_OFFLINE", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if !cfg.Chat.UseLocalLLM {
		t.Error("UseLocalLLM not overridden")
	}
	if cfg.LMStudio.URL != "http://studio:1234" {
		t.Errorf("LMStudio.URL = %q", cfg.LMStudio.URL)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("Port = %d, want 8088", cfg.Server.Port)
	}
	if !cfg.OfflineMode {
		t.Error("OfflineMode not overridden")
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad search mode", func(c *Config) { c.Chat.DefaultSearchMode = "sometimes" }, "chat.default_search_mode"},
		{"bad temperature", func(c *Config) { c.Chat.Temperature = 3 }, "chat.temperature"},
		{"bad lmstudio url", func(c *Config) { c.LMStudio.URL = "ftp://x" }, "lmstudio.url"},
		{"bad ollama url", func(c *Config) { c.Local.OllamaURL = "localhost" }, "local.ollama_url"},
		{"history too small", func(c *Config) { c.History.MaxHistoryMessages = 1 }, "history.max_history_messages"},
		{"bad backend", func(c *Config) { c.History.Backend = "redis" }, "history.backend"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %s", tt.wantErr)
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T, want ValidateErrors", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// SAVE, VIEW, STRING
// =============================================================================

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Chat.UseLocalLLM = true
	cfg.LMStudio.Model = "mistral-7b"
	cfg.Server.AllowedOrigins = []string{"http://ui.local"}

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "# rigrun-chat configuration file") {
		t.Errorf("missing header comment: %q", string(data[:40]))
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if !loaded.Chat.UseLocalLLM || loaded.LMStudio.Model != "mistral-7b" {
		t.Errorf("round trip lost values: %+v", loaded.Chat)
	}
	if len(loaded.Server.AllowedOrigins) != 1 || loaded.Server.AllowedOrigins[0] != "http://ui.local" {
		t.Errorf("AllowedOrigins = %v", loaded.Server.AllowedOrigins)
	}
}

func TestView(t *testing.T) {
	cfg := Default()
	cfg.Search.TimeoutMs = 1500
	v := cfg.View()

	if v.SearchTimeout != 1500*time.Millisecond {
		t.Errorf("SearchTimeout = %v, want 1.5s", v.SearchTimeout)
	}
	if v.MaxHistoryMessages != 20 || v.MaxConversations != 10 {
		t.Errorf("history limits = %d/%d", v.MaxHistoryMessages, v.MaxConversations)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal(View) error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["searchTimeoutMs"] != float64(1500) {
		t.Errorf("searchTimeoutMs = %v, want 1500", m["searchTimeoutMs"])
	}
	if m["lmStudioUrl"] != "http://localhost:1234" {
		t.Errorf("lmStudioUrl = %v", m["lmStudioUrl"])
	}
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Server.APIToken = "super-secret"

	s := cfg.String()
	if strings.Contains(s, "super-secret") {
		t.Error("String() leaked the API token")
	}
	if cfg.Server.APIToken != "super-secret" {
		t.Error("String() modified the original config")
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Server.AllowedOrigins[0] = "http://changed"
	if cfg.Server.AllowedOrigins[0] == "http://changed" {
		t.Error("Clone() shares AllowedOrigins with the original")
	}
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveTOML(Default(), path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 4)
	w, err := Watch(path, 50*time.Millisecond, func(c *Config) { changed <- c }, nil)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer w.Close()

	cfg := Default()
	cfg.LMStudio.Model = "reloaded-model"
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got.LMStudio.Model != "reloaded-model" {
			t.Errorf("reloaded model = %q", got.LMStudio.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveTOML(Default(), path); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Config, 1)
	w, err := Watch(path, 30*time.Millisecond, func(c *Config) { changed <- c }, nil)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Error("unexpected reload for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
