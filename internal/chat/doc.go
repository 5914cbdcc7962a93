// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the per-request chat control flow.
//
// A turn checks its preconditions in a fixed order (message present,
// in-flight generation handled, backend ready), runs the augmentation
// pipeline, dispatches the augmented message to exactly one backend and
// streams the reply to a Sink. The result is a tagged Outcome instead of an
// error: OK, Aborted or Failed.
//
// # Key Types
//
//   - Orchestrator: single-flight turn runner with Cancel
//   - InferenceEngine, RemoteBackend: the two backends
//   - Sink: receiver of streamed fragments
//   - RequestError: precondition failure reported before streaming
//   - Outcome: how a started turn ended
//
// # Usage
//
//	orch := chat.New(chat.Deps{
//	    Engine:  engine,
//	    Remote:  remote,
//	    Store:   store,
//	    Augment: pipeline,
//	    Config:  live.Provider(),
//	})
//	out, err := orch.Run(ctx, chat.Request{Message: "hi"}, sink)
//	var reqErr *chat.RequestError
//	if errors.As(err, &reqErr) {
//	    // nothing was streamed; report reqErr.Status
//	}
//
// # Guarantees
//
// Interrupt aborts the running turn and waits for it before running its
// callback, so a cancelled turn never writes into the conversation that
// callback starts.
//
// Fragments reach the Sink in backend order. Once a turn is aborted no
// further fragment is delivered, and the assistant reply is persisted only
// for OK.
package chat
