// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger provides structured logging for rigrun-chat on top of
// zerolog.
//
// Entries carry an upper-case event name in the "event" field so that log
// processing can key on CHAT_START, STREAM_ERROR, SEARCH_SKIPPED and so on
// without parsing message text.
//
// # Key Types
//
//   - Logger: wrapper with Component/With child loggers and level helpers
//   - Config: level, console output, destination, caller info
//
// # Usage
//
//	log := logger.New(logger.Config{Level: "debug", Pretty: true})
//	chatLog := log.Component("chat")
//	chatLog.Info("CHAT_START").Str("backend", "local").Msg("generation started")
package logger
