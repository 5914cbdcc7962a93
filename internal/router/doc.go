// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router decides whether a chat request is routed through web
// search before it reaches a model.
//
// In auto mode a keyword heuristic looks for five positive triggers
// (time-sensitive terms, fact questions, technical terms, named entities and
// explicit web requests) and two negative gates (philosophical questions and
// small talk). Search runs when a trigger fires and no gate does.
//
// # Key Types
//
//   - SearchMode: always, never or auto
//   - SearchSignals: the individual triggers for one message
//   - SearchDecision: the resolved decision with a reason for logging
//
// # Usage
//
//	mode := router.ParseSearchMode(req.WebSearchMode, router.SearchAuto)
//	d := router.DecideSearch(mode, message, localOnly)
//	if d.Search {
//	    results, err := searcher.Search(ctx, message, 5, timeout)
//	}
package router
