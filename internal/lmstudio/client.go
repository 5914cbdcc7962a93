// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lmstudio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/offline"
)

// Configuration constants for the LM Studio API.
const (
	// DefaultURL is LM Studio's local server address.
	DefaultURL = "http://localhost:1234"

	// DefaultProbeTimeout bounds the reachability probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultRequestTimeout bounds the wait for response headers and the
	// gap between two stream frames.
	DefaultRequestTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024

	// placeholderAPIKey satisfies the OpenAI SDK; LM Studio ignores it.
	placeholderAPIKey = "lm-studio"
)

var (
	// ErrUnreachable indicates the reachability probe failed.
	ErrUnreachable = errors.New("LM Studio is unreachable")

	// ErrNoModel indicates no remote model name is configured.
	ErrNoModel = errors.New("no LM Studio model configured")
)

// APIError is a non-200 answer from the chat completions endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("LM Studio returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("LM Studio returned HTTP %d: %s", e.Status, e.Message)
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds client settings.
type Config struct {
	BaseURL        string
	Model          string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration

	// Guard refuses non-localhost targets in offline mode. Nil means online.
	Guard *offline.Guard

	Logger *logger.Logger
}

// Client talks to an LM Studio server through its OpenAI compatible API.
//
// The Client is safe for concurrent use. SetTarget may be called while
// requests are in flight; they keep the target they started with.
type Client struct {
	guard          *offline.Guard
	log            *logger.Logger
	probeTimeout   time.Duration
	requestTimeout time.Duration

	httpClient   *http.Client
	streamClient *http.Client

	mu      sync.RWMutex
	baseURL string
	model   string
}

// New creates a client, filling zero values with defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second

	return &Client{
		guard:          cfg.Guard,
		log:            logger.OrNop(cfg.Logger).Component("lmstudio"),
		probeTimeout:   cfg.ProbeTimeout,
		requestTimeout: cfg.RequestTimeout,
		httpClient:     &http.Client{Timeout: cfg.ProbeTimeout},
		// Streaming has no overall timeout; headers and idle gaps are bounded.
		streamClient: &http.Client{Transport: transport},
		baseURL:      normalizeBaseURL(cfg.BaseURL),
		model:        cfg.Model,
	}
}

// SetTarget switches the server URL and model, e.g. after a config reload.
func (c *Client) SetTarget(baseURL, modelName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseURL != "" {
		c.baseURL = normalizeBaseURL(baseURL)
	}
	c.model = modelName
}

// BaseURL returns the server URL without the /v1 suffix.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Model returns the configured model name.
func (c *Client) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// normalizeBaseURL strips trailing slashes and a trailing /v1 so both
// "http://host:1234" and "http://host:1234/v1/" work.
func normalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	return strings.TrimSuffix(u, "/v1")
}

// =============================================================================
// REACHABILITY
// =============================================================================

// CheckReachable probes GET /v1/models with the short probe timeout. Any
// 2xx answer counts as reachable.
func (c *Client) CheckReachable(ctx context.Context) error {
	base := c.BaseURL()
	if err := c.guard.CheckBackendURL(base); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("PROBE_FAILED").Str("url", base).Err(err).Msg("LM Studio probe failed")
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// =============================================================================
// MODEL LISTING
// =============================================================================

// ListModels returns the models the server offers. The configured model is
// marked as loaded.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	base := c.BaseURL()
	if err := c.guard.CheckBackendURL(base); err != nil {
		return nil, err
	}

	api := openai.NewClient(
		option.WithAPIKey(placeholderAPIKey),
		option.WithBaseURL(base+"/v1/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)

	page, err := api.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list LM Studio models: %w", err)
	}

	current := c.Model()
	out := make([]model.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, model.ModelInfo{
			ID:      m.ID,
			Backend: model.BackendRemote,
			Loaded:  m.ID == current,
		})
	}
	return out, nil
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	r.Close()
}
