// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command line.
//
// # Commands
//
//   - serve: run the HTTP server (the default when no command is given)
//   - chat: interactive terminal client for a running server
//   - conversations list|show|delete|clear: work on the stored history
//   - config show|path|init
//   - version
//
// serve wires every component: the history store, the Ollama engine, the
// LM Studio client, the augmentation pipeline with its web tools and file
// sources, the chat orchestrator and the HTTP server. A change to the config
// file is picked up without a restart, except for the listen address.
//
// # Key Types
//
//   - ChatClient: posts a turn to /api/chat and reads the event stream
//   - StreamEnd: how a stream finished (done, aborted or failed)
//
// # Usage
//
//	func main() {
//		cli.Execute(version, commit, date)
//	}
package cli
