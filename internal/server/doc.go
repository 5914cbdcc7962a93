// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat backend over HTTP.
//
// POST /api/chat answers with text/event-stream. Every fragment of the reply
// is one frame whose data is a JSON string:
//
//	data: "Hel"
//
//	data: "lo"
//
//	event: done
//	data: END
//
// A cancelled generation ends with "event: done" and "data: ABORTED". A
// backend failure after streaming began ends with "event: error" carrying
// {success:false, message}. Precondition failures never open the stream;
// they are plain JSON errors with a 400, 409 or 500 status.
//
// # Endpoints
//
//   - POST /api/chat, POST /api/chat/cancel
//   - GET|POST|DELETE /api/conversations, GET /api/conversations/current
//   - GET|DELETE /api/conversations/{id}
//   - GET /api/models/local, GET /api/models/remote
//   - POST /api/models/load, POST /api/models/unload
//   - GET|POST /api/sources, DELETE /api/sources/{id}
//   - POST /api/sources/{id}/pull, GET /api/sources/{id}/files?path=
//   - GET /api/config, GET /health, GET /metrics
//
// # Middleware
//
// Requests pass through recovery, request id, request logging, security
// headers, CORS, per-IP rate limiting and an optional bearer token check,
// in that order. /health is exempt from the token check.
//
// # Key Types
//
//   - Server: routes, middleware chain and lifecycle
//   - Deps: the chat orchestrator, stores and backends it serves
//   - RateLimiter: per-IP token buckets
//
// # Usage
//
//	srv := server.New(server.Deps{
//		Chat:   orchestrator,
//		Store:  history,
//		Engine: engine,
//		Config: live.Provider(),
//		Log:    log,
//	})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
