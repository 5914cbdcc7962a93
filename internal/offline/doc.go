// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline implements offline mode for rigrun-chat.
//
// When offline mode is on, web search and URL content fetch are refused and
// the remote LM Studio backend must run on this machine. The local Ollama
// engine is unaffected.
//
// # Key Types
//
//   - Guard: shared switch with per-feature checks
//
// # Usage
//
//	guard := offline.NewGuard(cfg.OfflineMode)
//	if err := guard.CheckSearch(); err != nil {
//	    // skip the search stage
//	}
package offline
