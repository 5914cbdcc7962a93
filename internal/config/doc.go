// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-chat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation and hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ChatConfig, LocalConfig, LMStudioConfig: backend and generation settings
//   - HistoryConfig: conversation store limits and backend
//   - View: the read-only subset consulted per chat request
//   - Holder: the live configuration of one running application
//   - Watcher: fsnotify based reload on file change
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_CHAT_*)
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	live := config.NewHolder(cfg)
//	orchestrator := chat.New(chat.Deps{Config: live.Provider(), ...})
//
//	w, _ := config.Watch(path, 250*time.Millisecond, live.Set, nil)
//	defer w.Close()
package config
