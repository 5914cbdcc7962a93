// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

var (
	// ErrNoModelLoaded is returned by Generate before a model was loaded.
	ErrNoModelLoaded = errors.New("no model loaded")

	// ErrEmptyModelName is returned by LoadModel for a blank name.
	ErrEmptyModelName = errors.New("model name is empty")
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the local inference engine. It tracks which model was loaded
// through it; a model counts as loaded only after LoadModel succeeded.
type Engine struct {
	client *Client
	log    *logger.Logger

	mu     sync.RWMutex
	loaded string
}

// NewEngine wraps a client.
func NewEngine(client *Client, log *logger.Logger) *Engine {
	if client == nil {
		client = NewClient()
	}
	return &Engine{client: client, log: logger.OrNop(log).Component("ollama")}
}

// Client returns the underlying API client.
func (e *Engine) Client() *Client {
	return e.client
}

// IsModelLoaded reports whether a model is ready for Generate.
func (e *Engine) IsModelLoaded() bool {
	return e.LoadedModel() != ""
}

// LoadedModel returns the loaded model name, or "".
func (e *Engine) LoadedModel() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// LoadModel loads name, replacing any previously loaded model.
func (e *Engine) LoadModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyModelName
	}

	start := time.Now()
	e.log.Info("MODEL_LOADING").Str("model", name).Msg("Loading model")
	if err := e.client.LoadModel(ctx, name); err != nil {
		e.log.Warn("MODEL_LOAD_FAILED").Str("model", name).Err(err).Msg("Model load failed")
		return fmt.Errorf("load model %s: %w", name, err)
	}

	e.mu.Lock()
	previous := e.loaded
	e.loaded = name
	e.mu.Unlock()

	if previous != "" && previous != name {
		if err := e.client.UnloadModel(ctx, previous); err != nil {
			e.log.Warn("MODEL_UNLOAD_FAILED").Str("model", previous).Err(err).Msg("Previous model not released")
		}
	}

	e.log.Info("MODEL_LOADED").Str("model", name).Dur("took", time.Since(start)).Msg("Model loaded")
	return nil
}

// UnloadModel releases the loaded model. It is a no-op when nothing is
// loaded.
func (e *Engine) UnloadModel(ctx context.Context) error {
	e.mu.Lock()
	name := e.loaded
	e.loaded = ""
	e.mu.Unlock()

	if name == "" {
		return nil
	}
	if err := e.client.UnloadModel(ctx, name); err != nil {
		return fmt.Errorf("unload model %s: %w", name, err)
	}
	e.log.Info("MODEL_UNLOADED").Str("model", name).Msg("Model unloaded")
	return nil
}

// Generate streams a completion for messages with the loaded model. Every
// content chunk is passed to opts.OnToken in order. It returns the full
// text; on cancellation it returns the partial text and the context's
// error.
func (e *Engine) Generate(ctx context.Context, messages []model.Message, opts model.GenerationOptions) (string, error) {
	name := e.LoadedModel()
	if name == "" {
		return "", ErrNoModelLoaded
	}

	var (
		text  strings.Builder
		final StreamChunk
	)
	err := e.client.ChatStream(ctx, name, FromModelMessages(messages), &Options{
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		NumPredict:  opts.MaxTokens,
	}, func(chunk StreamChunk) {
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			if opts.OnToken != nil {
				opts.OnToken(chunk.Content)
			}
		}
		if chunk.Done {
			final = chunk
		}
	})
	if err != nil {
		return text.String(), err
	}

	e.log.Debug("GENERATION_STATS").
		Str("model", name).
		Int("completion_tokens", final.CompletionTokens).
		Float64("tokens_per_sec", final.TokensPerSecond()).
		Msg("Generation finished")
	return text.String(), nil
}

// AvailableModels lists installed models, marking the loaded one.
func (e *Engine) AvailableModels(ctx context.Context) ([]model.ModelInfo, error) {
	installed, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	loaded := e.LoadedModel()
	out := make([]model.ModelInfo, len(installed))
	for i, m := range installed {
		out[i] = model.ModelInfo{
			ID:      m.Name,
			Backend: model.BackendLocal,
			Size:    m.Size,
			Loaded:  m.Name == loaded,
		}
	}
	return out, nil
}
