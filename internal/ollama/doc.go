// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the local inference engine backed by an Ollama
// server.
//
// Loading and unloading go through Ollama's keep-alive mechanism: a
// prompt-less /api/generate with keep_alive set loads the model, keep_alive 0
// releases it. Chat completions stream as NDJSON from /api/chat.
//
// # Key Types
//
//   - Engine: load state plus Generate(messages, options) for the orchestrator
//   - Client: HTTP client for the Ollama API
//   - StreamReader: NDJSON stream reader that skips malformed lines
//   - ClientError: typed error; match with errors.Is(err, ErrNotRunning) etc.
//
// # Usage
//
//	engine := ollama.NewEngine(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url}), log)
//	if err := engine.LoadModel(ctx, "qwen2.5:7b"); err != nil {
//	    return err
//	}
//	text, err := engine.Generate(ctx, history, model.GenerationOptions{
//	    Temperature: 0.7,
//	    OnToken:     func(tok string) { fmt.Print(tok) },
//	})
//
// A cancelled ctx ends Generate with the partial text and ctx.Err().
package ollama
