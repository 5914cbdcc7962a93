// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the network collaborators used to augment prompts:
// web search and URL content fetch.
//
// # Key Types
//
//   - DuckDuckGo: keyless web search over the DuckDuckGo HTML endpoint
//   - WebFetcher: SSRF-guarded page fetch with main-content extraction
//
// # Security
//
// WebFetcher refuses private, loopback, link-local and cloud metadata
// addresses. The check runs on the URL, on every redirect and again on the
// resolved IPs at dial time. AllowPrivate switches the guard off for users
// who want to read pages on their own network.
//
// # Usage
//
//	ddg := tools.NewDuckDuckGo(15 * time.Second)
//	hits, err := ddg.Search(ctx, "go 1.24 release notes", 5)
//
//	fetcher := tools.NewWebFetcher(8000, false)
//	text, err := fetcher.Fetch(ctx, "https://go.dev/doc/")
package tools
