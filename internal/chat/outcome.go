// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"net/http"

	"github.com/jeranaias/rigrun-chat/internal/augment"
)

// =============================================================================
// REQUEST ERRORS
// =============================================================================

// Client-visible precondition failures.
const (
	MsgMissingMessage     = "missing message"
	MsgNoModelLoaded      = "no model loaded"
	MsgBackendUnreachable = "backend unreachable"
	MsgBusy               = "a generation is already in progress"
)

// RequestError is a precondition failure. It is reported before any output
// is streamed, as a JSON error with Status.
type RequestError struct {
	Status  int
	Message string
	Cause   error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Is matches RequestErrors with the same message.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	return ok && t.Message == e.Message
}

// Sentinel errors for errors.Is checks.
var (
	ErrMissingMessage     = &RequestError{Status: http.StatusBadRequest, Message: MsgMissingMessage}
	ErrNoModelLoaded      = &RequestError{Status: http.StatusBadRequest, Message: MsgNoModelLoaded}
	ErrBackendUnreachable = &RequestError{Status: http.StatusInternalServerError, Message: MsgBackendUnreachable}
	ErrBusy               = &RequestError{Status: http.StatusConflict, Message: MsgBusy}
)

// =============================================================================
// OUTCOME
// =============================================================================

// Kind is the terminal state of a generation.
type Kind int

const (
	// OK means the backend finished and the reply was persisted.
	OK Kind = iota
	// Aborted means the generation was cancelled. Abort is a normal ending.
	Aborted
	// Failed means the backend reported an error after streaming began.
	Failed
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a generation that passed its preconditions.
type Outcome struct {
	Kind Kind

	// Text is the assistant text. For Aborted and Failed it is whatever
	// was streamed before the end and was not persisted.
	Text string

	// Err is the failure reason when Kind is Failed.
	Err error

	// Backend is "local" or "remote".
	Backend string

	// ConversationID is the conversation the turn was recorded in.
	ConversationID string

	// Augment reports what the augmentation pipeline did.
	Augment augment.Result
}
