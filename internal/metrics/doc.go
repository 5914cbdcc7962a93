// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus metrics for the chat service.
//
// # Key Types
//
//   - Metrics: counters, histograms and gauges on a private registry
//
// # Usage
//
//	m := metrics.New()
//	mux.Handle("GET /metrics", m.Handler())
//	m.RecordChat("remote", "ok", time.Since(start))
package metrics
