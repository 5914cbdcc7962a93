// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package augment enriches a user message before it is sent to a model.
//
// The stages run in a fixed order and each one is optional:
//
//  1. #file:<sourceId>/<path> references are inlined as fenced code blocks
//  2. a "local:" or "lokal:" prefix is stripped and turns web search off
//  3. the text of a content URL is appended under a heading
//  4. web search results are prepended when the search mode says so
//
// A failing stage is logged, counted and skipped. The request always goes on.
//
// # Key Types
//
//   - Pipeline: runs the stages against injected collaborators
//   - FileResolver, URLFetcher, Searcher: the collaborator interfaces
//   - FileRef: one parsed #file: token
//
// # Usage
//
//	p := &augment.Pipeline{Files: registry, Fetcher: fetcher, Searcher: ddg, Guard: guard}
//	res := p.Run(ctx, augment.Request{Message: msg, Mode: router.SearchAuto, MaxResults: 5})
//	send(res.Message)
package augment
