// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TwiceDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}

func TestRecordChat(t *testing.T) {
	m := New()
	m.RecordChat("local", "ok", 2*time.Second)
	m.RecordChat("local", "ok", time.Second)
	m.RecordChat("remote", "aborted", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChatRequestsTotal.WithLabelValues("local", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatRequestsTotal.WithLabelValues("remote", "aborted")))
}

func TestInFlightGauge(t *testing.T) {
	m := New()
	m.GenerationStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationsInFlight))
	m.GenerationFinished()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GenerationsInFlight))
}

func TestRecordHelpers(t *testing.T) {
	m := New()
	m.RecordChunk("remote")
	m.RecordSearchDecision("auto", true)
	m.RecordAugmentFailure("url")
	m.RecordSave(nil)
	m.RecordSave(errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatChunksTotal.WithLabelValues("remote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchDecisionsTotal.WithLabelValues("auto", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AugmentFailuresTotal.WithLabelValues("url")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversationsPersists.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversationsPersists.WithLabelValues("error")))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordChat("local", "ok", time.Second)
		m.RecordChunk("local")
		m.GenerationStarted()
		m.GenerationFinished()
		m.RecordSearchDecision("never", false)
		m.RecordAugmentFailure("file")
		m.RecordSave(nil)
		m.RecordHTTP("/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordHTTP("GET /health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "rigrun_chat_http_requests_total"))
	assert.True(t, strings.Contains(string(body), "rigrun_chat_uptime_seconds"))
}
