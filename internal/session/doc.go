// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the conversation store: exactly one current
// conversation held in memory, bounded in length and mirrored to a
// storage backend after every change.
//
// # Key Types
//
//   - Store: current conversation, lifecycle operations and model formatting
//   - Config: per-conversation message cap and retained conversation count
//
// # Usage
//
//	backend, _ := storage.NewFileStore(dir)
//	store := session.New(backend, session.Config{MaxMessages: 20, MaxConversations: 10},
//	    session.WithLogger(log))
//	store.Initialize()
//
//	store.AddMessage(model.RoleUser, "Hello")
//	msgs := store.FormattedHistoryForLLM(systemPrompt, true)
package session
