// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// Backend names a place a model can run.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// ModelInfo describes one model offered by a backend. It is the element type
// of the model listing endpoints.
type ModelInfo struct {
	// ID is the identifier used in API calls (e.g. "qwen2.5:7b").
	ID string `json:"id"`

	// Backend is where the model runs.
	Backend Backend `json:"backend"`

	// Size is the on-disk size in bytes, 0 when the backend does not report it.
	Size int64 `json:"size,omitempty"`

	// Loaded is true when the model is the one currently serving chats.
	Loaded bool `json:"loaded"`
}

// SearchResult is one web search hit used as prompt context.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}
