// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lmstudio provides the remote chat backend: an LM Studio server
// reached through its OpenAI compatible API.
//
// Chat completions are streamed over Server-Sent Events and parsed by a small
// SSE reader so that partial text, malformed frames and a missing [DONE]
// sentinel can each be handled explicitly. Model listing goes through the
// openai-go SDK.
//
// # Key Types
//
//   - Client: reachability probe, model listing and streaming chat
//   - SSEReader: Server-Sent Events frame reader
//   - StreamError: stream failure carrying the partial text
//   - APIError: non-200 answer from the server
//
// # Usage
//
//	client := lmstudio.New(lmstudio.Config{BaseURL: url, Model: "qwen2.5-7b-instruct", Guard: guard})
//	if err := client.CheckReachable(ctx); err != nil {
//	    return err
//	}
//	text, err := client.StreamChat(ctx, history, model.GenerationOptions{
//	    Temperature: 0.7,
//	    OnToken:     func(delta string) { fmt.Print(delta) },
//	})
//
// # Timeouts
//
// The probe is bounded by ProbeTimeout (5s). A stream has no overall
// deadline; the wait for response headers and the gap between two frames
// are each bounded by RequestTimeout (60s).
package lmstudio
