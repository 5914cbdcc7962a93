// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	// Chat behaviour
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Local (Ollama) inference engine
	Local LocalConfig `toml:"local" json:"local"`

	// Remote LM Studio endpoint
	LMStudio LMStudioConfig `toml:"lmstudio" json:"lmstudio"`

	// Web search and URL content
	Search SearchConfig `toml:"search" json:"search"`

	// Conversation history
	History HistoryConfig `toml:"history" json:"history"`

	// HTTP server
	Server ServerConfig `toml:"server" json:"server"`

	// File sources for #file: references
	Sources SourcesConfig `toml:"sources" json:"sources"`

	// DebugMode enables debug-level logging.
	DebugMode bool `toml:"debug_mode" json:"debug_mode"`

	// OfflineMode blocks web search, URL fetch and non-localhost remotes.
	OfflineMode bool `toml:"offline_mode" json:"offline_mode"`

	// AllowPrivateNetworks disables the SSRF guard on URL content fetch.
	AllowPrivateNetworks bool `toml:"allow_private_networks" json:"allow_private_networks"`
}

// ChatConfig contains generation and backend selection settings.
type ChatConfig struct {
	// UseLocalLLM selects the local engine instead of LM Studio.
	UseLocalLLM bool `toml:"use_local_llm" json:"use_local_llm"`

	// SystemPrompt is prepended to every model request.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`

	Temperature float64 `toml:"temperature" json:"temperature"`
	TopP        float64 `toml:"top_p" json:"top_p"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`

	// DefaultSearchMode is used when a request omits webSearchMode.
	DefaultSearchMode string `toml:"default_search_mode" json:"default_search_mode"`
}

// LocalConfig contains local Ollama engine configuration.
type LocalConfig struct {
	OllamaURL    string `toml:"ollama_url" json:"ollama_url"`
	DefaultModel string `toml:"default_model" json:"default_model"`

	// LoadOnStart loads DefaultModel when the server starts.
	LoadOnStart bool `toml:"load_on_start" json:"load_on_start"`
}

// LMStudioConfig contains remote chat-completions endpoint configuration.
type LMStudioConfig struct {
	URL                string `toml:"url" json:"url"`
	Model              string `toml:"model" json:"model"`
	ProbeTimeoutSecs   int    `toml:"probe_timeout_secs" json:"probe_timeout_secs"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// SearchConfig contains web search and URL extraction limits.
type SearchConfig struct {
	MaxResults         int `toml:"max_results" json:"max_results"`
	TimeoutMs          int `toml:"timeout_ms" json:"timeout_ms"`
	URLContentMaxChars int `toml:"url_content_max_chars" json:"url_content_max_chars"`
}

// HistoryConfig contains conversation store configuration.
type HistoryConfig struct {
	MaxHistoryMessages int    `toml:"max_history_messages" json:"max_history_messages"`
	MaxConversations   int    `toml:"max_conversations" json:"max_conversations"`
	Backend            string `toml:"backend" json:"backend"` // file or sqlite
	Dir                string `toml:"dir" json:"dir"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host           string   `toml:"host" json:"host"`
	Port           int      `toml:"port" json:"port"`
	APIToken       string   `toml:"api_token" json:"api_token"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// SourcesConfig contains the file source registry configuration.
type SourcesConfig struct {
	RegistryPath   string `toml:"registry_path" json:"registry_path"`
	CloneDir       string `toml:"clone_dir" json:"clone_dir"`
	MaxFileSize    int64  `toml:"max_file_size" json:"max_file_size"`
	GitTimeoutSecs int    `toml:"git_timeout_secs" json:"git_timeout_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultSystemPrompt is the prompt used when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Answer in the language the user writes in."

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			UseLocalLLM:       false,
			SystemPrompt:      DefaultSystemPrompt,
			Temperature:       0.7,
			TopP:              0.9,
			MaxTokens:         2048,
			DefaultSearchMode: "auto",
		},
		Local: LocalConfig{
			OllamaURL:    "http://localhost:11434",
			DefaultModel: "qwen2.5:7b",
		},
		LMStudio: LMStudioConfig{
			URL:                "http://localhost:1234",
			Model:              "local-model",
			ProbeTimeoutSecs:   5,
			RequestTimeoutSecs: 60,
		},
		Search: SearchConfig{
			MaxResults:         5,
			TimeoutMs:          15000,
			URLContentMaxChars: 8000,
		},
		History: HistoryConfig{
			MaxHistoryMessages: 20,
			MaxConversations:   10,
			Backend:            "file",
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Sources: SourcesConfig{
			MaxFileSize:    100 * 1024,
			GitTimeoutSecs: 120,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
// RIGRUN_CHAT_HOME overrides the default ~/.rigrun-chat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGRUN_CHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect the API token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg, err := LoadFromPath(jsonPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Defaults are usable even when a file failed to parse; the error is
	// returned for the caller to report.
	return cfg, loadErr
}

// LoadTOML decodes a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file with full
// validation. Files ending in .json are decoded as JSON, anything else as
// TOML. Values absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with a header comment.
// SECURITY: Written atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigrun-chat configuration file\n")
	b.WriteString("# Generated by rigrun-chat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// DEFAULT FILLING
// =============================================================================

// SetDefaults fills zero values with built-in defaults and derives the
// storage paths from the config directory.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = d.Chat.SystemPrompt
	}
	if c.Chat.Temperature == 0 {
		c.Chat.Temperature = d.Chat.Temperature
	}
	if c.Chat.TopP == 0 {
		c.Chat.TopP = d.Chat.TopP
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = d.Chat.MaxTokens
	}
	if c.Chat.DefaultSearchMode == "" {
		c.Chat.DefaultSearchMode = d.Chat.DefaultSearchMode
	}

	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = d.Local.OllamaURL
	}
	if c.Local.DefaultModel == "" {
		c.Local.DefaultModel = d.Local.DefaultModel
	}

	if c.LMStudio.URL == "" {
		c.LMStudio.URL = d.LMStudio.URL
	}
	c.LMStudio.URL = strings.TrimRight(c.LMStudio.URL, "/")
	if c.LMStudio.Model == "" {
		c.LMStudio.Model = d.LMStudio.Model
	}
	if c.LMStudio.ProbeTimeoutSecs == 0 {
		c.LMStudio.ProbeTimeoutSecs = d.LMStudio.ProbeTimeoutSecs
	}
	if c.LMStudio.RequestTimeoutSecs == 0 {
		c.LMStudio.RequestTimeoutSecs = d.LMStudio.RequestTimeoutSecs
	}

	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = d.Search.MaxResults
	}
	if c.Search.TimeoutMs == 0 {
		c.Search.TimeoutMs = d.Search.TimeoutMs
	}
	if c.Search.URLContentMaxChars == 0 {
		c.Search.URLContentMaxChars = d.Search.URLContentMaxChars
	}

	if c.History.MaxHistoryMessages == 0 {
		c.History.MaxHistoryMessages = d.History.MaxHistoryMessages
	}
	if c.History.MaxConversations == 0 {
		c.History.MaxConversations = d.History.MaxConversations
	}
	if c.History.Backend == "" {
		c.History.Backend = d.History.Backend
	}

	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = d.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = d.Server.RateLimitBurst
	}

	if c.Sources.MaxFileSize == 0 {
		c.Sources.MaxFileSize = d.Sources.MaxFileSize
	}
	if c.Sources.GitTimeoutSecs == 0 {
		c.Sources.GitTimeoutSecs = d.Sources.GitTimeoutSecs
	}

	if dir, err := ConfigDir(); err == nil {
		if c.History.Dir == "" {
			c.History.Dir = filepath.Join(dir, "chat_history")
		}
		if c.Sources.RegistryPath == "" {
			c.Sources.RegistryPath = filepath.Join(dir, "sources.yaml")
		}
		if c.Sources.CloneDir == "" {
			c.Sources.CloneDir = filepath.Join(dir, "repos")
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Chat
	// ==========================================================================

	switch strings.ToLower(c.Chat.DefaultSearchMode) {
	case "auto", "always", "never":
	default:
		errs = append(errs, ValidationError{
			Field:   "chat.default_search_mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: always, never, auto", c.Chat.DefaultSearchMode),
		})
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.temperature",
			Message: fmt.Sprintf("must be between 0 and 2, got %g", c.Chat.Temperature),
		})
	}
	if c.Chat.TopP < 0 || c.Chat.TopP > 1 {
		errs = append(errs, ValidationError{
			Field:   "chat.top_p",
			Message: fmt.Sprintf("must be between 0 and 1, got %g", c.Chat.TopP),
		})
	}
	if c.Chat.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "chat.max_tokens", Message: "must not be negative"})
	}

	// ==========================================================================
	// Endpoints
	// ==========================================================================

	if err := validateHTTPURL(c.Local.OllamaURL); err != nil {
		errs = append(errs, ValidationError{Field: "local.ollama_url", Message: err.Error()})
	}
	if err := validateHTTPURL(c.LMStudio.URL); err != nil {
		errs = append(errs, ValidationError{Field: "lmstudio.url", Message: err.Error()})
	}
	if c.LMStudio.ProbeTimeoutSecs < 0 || c.LMStudio.RequestTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "lmstudio", Message: "timeouts must not be negative"})
	}

	// ==========================================================================
	// Search and history limits
	// ==========================================================================

	if c.Search.MaxResults < 1 || c.Search.MaxResults > 25 {
		errs = append(errs, ValidationError{
			Field:   "search.max_results",
			Message: fmt.Sprintf("must be between 1 and 25, got %d", c.Search.MaxResults),
		})
	}
	if c.Search.TimeoutMs < 0 {
		errs = append(errs, ValidationError{Field: "search.timeout_ms", Message: "must not be negative"})
	}
	if c.History.MaxHistoryMessages < 2 {
		errs = append(errs, ValidationError{
			Field:   "history.max_history_messages",
			Message: fmt.Sprintf("must be at least 2, got %d", c.History.MaxHistoryMessages),
		})
	}
	if c.History.MaxConversations < 1 {
		errs = append(errs, ValidationError{
			Field:   "history.max_conversations",
			Message: fmt.Sprintf("must be at least 1, got %d", c.History.MaxConversations),
		})
	}
	switch c.History.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field:   "history.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite", c.History.Backend),
		})
	}

	// ==========================================================================
	// Server
	// ==========================================================================

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGRUN_CHAT_USE_LOCAL: overrides chat.use_local_llm
//   - RIGRUN_CHAT_MODEL: overrides local.default_model
//   - RIGRUN_CHAT_OLLAMA_URL: overrides local.ollama_url
//   - RIGRUN_CHAT_LMSTUDIO_URL: overrides lmstudio.url
//   - RIGRUN_CHAT_LMSTUDIO_MODEL: overrides lmstudio.model
//   - RIGRUN_CHAT_PORT: overrides server.port
//   - RIGRUN_CHAT_API_TOKEN: overrides server.api_token
//   - RIGRUN_CHAT_OFFLINE: overrides offline_mode
//   - RIGRUN_CHAT_DEBUG: overrides debug_mode
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_CHAT_USE_LOCAL"); v != "" {
		c.Chat.UseLocalLLM = parseBool(v)
	}
	if v := os.Getenv("RIGRUN_CHAT_MODEL"); v != "" {
		c.Local.DefaultModel = v
	}
	if v := os.Getenv("RIGRUN_CHAT_OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LMSTUDIO_URL"); v != "" {
		c.LMStudio.URL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LMSTUDIO_MODEL"); v != "" {
		c.LMStudio.Model = v
	}
	if v := os.Getenv("RIGRUN_CHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("RIGRUN_CHAT_API_TOKEN"); v != "" {
		c.Server.APIToken = v
	}
	if v := os.Getenv("RIGRUN_CHAT_OFFLINE"); v != "" {
		c.OfflineMode = parseBool(v)
	}
	if v := os.Getenv("RIGRUN_CHAT_DEBUG"); v != "" {
		c.DebugMode = parseBool(v)
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// =============================================================================
// VIEWS
// =============================================================================

// View is the read-only subset of the configuration the chat orchestrator
// consults on every request.
type View struct {
	UseLocalLLM        bool          `json:"useLocalLlm"`
	LMStudioURL        string        `json:"lmStudioUrl"`
	LMStudioModel      string        `json:"lmStudioModel"`
	SystemPrompt       string        `json:"systemPrompt"`
	Temperature        float64       `json:"temperature"`
	TopP               float64       `json:"topP"`
	MaxTokens          int           `json:"maxTokens"`
	DefaultSearchMode  string        `json:"defaultSearchMode"`
	MaxSearchResults   int           `json:"maxSearchResults"`
	SearchTimeout      time.Duration `json:"searchTimeoutMs"`
	MaxHistoryMessages int           `json:"maxHistoryMessages"`
	MaxConversations   int           `json:"maxConversations"`
	DebugMode          bool          `json:"debugMode"`
	OfflineMode        bool          `json:"offlineMode"`
}

// View returns the orchestrator view of c.
func (c *Config) View() View {
	return View{
		UseLocalLLM:        c.Chat.UseLocalLLM,
		LMStudioURL:        c.LMStudio.URL,
		LMStudioModel:      c.LMStudio.Model,
		SystemPrompt:       c.Chat.SystemPrompt,
		Temperature:        c.Chat.Temperature,
		TopP:               c.Chat.TopP,
		MaxTokens:          c.Chat.MaxTokens,
		DefaultSearchMode:  c.Chat.DefaultSearchMode,
		MaxSearchResults:   c.Search.MaxResults,
		SearchTimeout:      time.Duration(c.Search.TimeoutMs) * time.Millisecond,
		MaxHistoryMessages: c.History.MaxHistoryMessages,
		MaxConversations:   c.History.MaxConversations,
		DebugMode:          c.DebugMode,
		OfflineMode:        c.OfflineMode,
	}
}

// MarshalJSON reports the search timeout in milliseconds.
func (v View) MarshalJSON() ([]byte, error) {
	type alias View
	return json.Marshal(struct {
		alias
		SearchTimeout int64 `json:"searchTimeoutMs"`
	}{alias: alias(v), SearchTimeout: v.SearchTimeout.Milliseconds()})
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns a JSON representation for debugging.
// SECURITY: The API token is redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.APIToken != "" {
		safe.Server.APIToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// LIVE CONFIG (THREAD-SAFE)
// =============================================================================

// Holder owns the configuration of one running application. Set swaps in a
// reloaded config; readers holding its Provider see it on their next call.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder returns a Holder seeded with cfg. A nil cfg is replaced by the
// defaults.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.Set(cfg)
	return h
}

// Get returns the current configuration. Thread-safe.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set replaces the current configuration. Thread-safe.
func (h *Holder) Set(cfg *Config) {
	if cfg == nil {
		cfg = Default()
		cfg.SetDefaults()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// Provider returns a Provider reading from h.
func (h *Holder) Provider() Provider {
	return h.Get
}

// Provider returns the configuration a component should use right now.
// Components hold a Provider rather than a *Config so a hot reload reaches
// them on their next call.
type Provider func() *Config

// Static returns a Provider that always yields cfg.
func Static(cfg *Config) Provider {
	return func() *Config { return cfg }
}
