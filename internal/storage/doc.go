// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable conversation records for rigrun-chat.
//
// Each conversation is one record {id, lastUpdated, messages} keyed by its
// id. Two backends implement the Store interface: FileStore writes one JSON
// file per conversation, SQLiteStore one row per conversation.
//
// # Key Types
//
//   - Store: the record interface used by the session package
//   - FileStore: <id>.json files written atomically
//   - SQLiteStore: modernc.org/sqlite backed rows
//   - ConversationError: sentinel errors comparable with errors.Is
//
// # Usage
//
//	store, err := storage.NewFileStore(dir)
//	if err != nil {
//	    return err
//	}
//	err = store.Save(&model.Conversation{ID: id, LastUpdated: now, Messages: msgs})
//	metas, err := store.List() // newest first
//	deleted, err := store.Prune(10)
package storage
