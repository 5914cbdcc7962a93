// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the conversation
// store, the chat orchestrator and the HTTP layer.
//
// # Key Types
//
//   - Message: one immutable turn with role, content and epoch-ms timestamp
//   - Conversation: the persisted record {id, lastUpdated, messages}
//   - ConversationMeta: a derived index entry with the generated title
//   - GenerationOptions: sampling settings and the token callback
//   - ModelInfo: a model offered by the local or remote backend
//   - SearchResult: one web search hit (title, url, description)
//
// # Usage
//
//	msg := model.NewMessage(model.RoleUser, "Hello!")
//	history = model.TrimMessages(append(history, msg), 20)
//	title := model.TitleFor(history)
package model
