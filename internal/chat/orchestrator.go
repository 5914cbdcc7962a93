// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/augment"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/router"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// InferenceEngine is the local model runtime.
type InferenceEngine interface {
	IsModelLoaded() bool

	// Generate streams a completion, calling opts.OnToken per fragment. A
	// cancelled ctx must end it with an error matching context.Canceled.
	Generate(ctx context.Context, messages []model.Message, opts model.GenerationOptions) (string, error)
}

// RemoteBackend is an OpenAI compatible chat completions server.
type RemoteBackend interface {
	CheckReachable(ctx context.Context) error

	// StreamChat returns an error unless the stream completed.
	StreamChat(ctx context.Context, messages []model.Message, opts model.GenerationOptions) (string, error)
}

// History is the conversation store as seen by the orchestrator.
type History interface {
	StartNewConversation() string
	CurrentID() string
	AddMessage(role model.Role, content string) model.Message
	FormattedHistoryForLLM(systemPrompt string, excludeLastUser bool) []model.Message
}

// Augmenter rewrites the user message before dispatch.
type Augmenter interface {
	Run(ctx context.Context, req augment.Request) augment.Result
}

// Sink receives the streamed reply. Begin is called once, after every
// precondition passed and before the first Chunk. Chunk is never called
// after Run returns.
type Sink interface {
	Begin()
	Chunk(text string)
}

// Request is one chat turn.
type Request struct {
	Message         string
	WebSearchMode   string
	ContentURL      string
	NewConversation bool
}

// Deps are the orchestrator's collaborators. Engine and Remote may be nil;
// the matching mode then fails its precondition.
type Deps struct {
	Engine  InferenceEngine
	Remote  RemoteBackend
	Store   History
	Augment Augmenter
	Config  config.Provider
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator runs chat turns. At most one generation is in flight; a new
// request either fails with ErrBusy or, with NewConversation set, cancels
// the running one first.
type Orchestrator struct {
	deps Deps
	log  *logger.Logger

	// startMu makes cancel-then-start atomic.
	startMu sync.Mutex
	active  atomic.Pointer[run]
}

// New creates an orchestrator. Store and Config are required.
func New(deps Deps) *Orchestrator {
	if deps.Augment == nil {
		deps.Augment = &augment.Pipeline{Log: deps.Log, Metrics: deps.Metrics}
	}
	return &Orchestrator{deps: deps, log: logger.OrNop(deps.Log).Component("chat")}
}

// Busy reports whether a generation is in flight.
func (o *Orchestrator) Busy() bool {
	return o.active.Load() != nil
}

// Interrupt aborts the in-flight generation, waits for it to return and
// then calls fn while no new generation can start. It reports whether a
// generation was cancelled. When ctx ends first, fn is not called.
func (o *Orchestrator) Interrupt(ctx context.Context, fn func()) (bool, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	cancelled := false
	if cur := o.active.Load(); cur != nil {
		cancelled = true
		o.log.Info("CHAT_CANCEL").Msg("Generation cancelled")
		if err := o.stopLocked(ctx, cur); err != nil {
			return cancelled, err
		}
	}
	if fn != nil {
		fn()
	}
	return cancelled, nil
}

// Cancel aborts the in-flight generation without waiting for it. It returns
// false when there is none.
func (o *Orchestrator) Cancel() bool {
	r := o.active.Load()
	if r == nil {
		return false
	}
	r.abort()
	o.log.Info("CHAT_CANCEL").Msg("Generation cancelled")
	return true
}

// Run validates req, augments the message, dispatches it to exactly one
// backend and streams the reply into sink.
//
// A precondition failure returns a *RequestError and sink is untouched.
// Otherwise the returned Outcome says how the stream ended.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (Outcome, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Outcome{}, o.reject(ErrMissingMessage, nil)
	}

	r, err := o.acquire(ctx, req.NewConversation)
	if err != nil {
		return Outcome{}, o.reject(err, nil)
	}
	defer o.release(r)

	view := o.deps.Config().View()
	backend := string(model.BackendRemote)
	if view.UseLocalLLM {
		backend = string(model.BackendLocal)
	}

	if err := o.checkBackend(ctx, view); err != nil {
		return Outcome{}, err
	}

	if req.NewConversation {
		o.deps.Store.StartNewConversation()
	}
	conversation := o.deps.Store.CurrentID()

	sink.Begin()
	start := time.Now()
	o.deps.Metrics.GenerationStarted()
	defer o.deps.Metrics.GenerationFinished()

	aug := o.deps.Augment.Run(r.ctx, augment.Request{
		Message:       req.Message,
		Mode:          router.ParseSearchMode(req.WebSearchMode, router.ParseSearchMode(view.DefaultSearchMode, router.SearchAuto)),
		ContentURL:    strings.TrimSpace(req.ContentURL),
		MaxResults:    view.MaxSearchResults,
		SearchTimeout: view.SearchTimeout,
	})

	o.log.Info("CHAT_START").
		Str("backend", backend).
		Str("conversation", conversation).
		Bool("search", aug.Search.Search).
		Str("search_reason", aug.Search.Reason).
		Int("files", aug.FilesInlined).
		Bool("local_override", aug.LocalOverride).
		Msg("Generation started")

	out := o.dispatch(r, view, aug.Message, sink, backend)
	out.Backend = backend
	out.ConversationID = conversation
	out.Augment = aug

	o.deps.Metrics.RecordChat(backend, out.Kind.String(), time.Since(start))
	switch out.Kind {
	case OK:
		o.log.Info("CHAT_DONE").Str("backend", backend).Int("chars", len(out.Text)).Dur("took", time.Since(start)).Msg("Generation finished")
	case Aborted:
		o.log.Info("CHAT_ABORTED").Str("backend", backend).Int("partial_chars", len(out.Text)).Msg("Generation aborted")
	case Failed:
		o.log.Warn("CHAT_FAILED").Str("backend", backend).Err(out.Err).Msg("Generation failed")
	}
	return out, nil
}

// checkBackend applies the backend preconditions for the configured mode.
func (o *Orchestrator) checkBackend(ctx context.Context, view config.View) error {
	if view.UseLocalLLM {
		if o.deps.Engine == nil || !o.deps.Engine.IsModelLoaded() {
			return o.reject(ErrNoModelLoaded, nil)
		}
		return nil
	}

	if o.deps.Remote == nil {
		return o.reject(ErrBackendUnreachable, errors.New("no remote backend configured"))
	}
	if err := o.deps.Remote.CheckReachable(ctx); err != nil {
		return o.reject(ErrBackendUnreachable, err)
	}
	return nil
}

// dispatch persists the user turn, runs the backend and persists the reply
// on success.
func (o *Orchestrator) dispatch(r *run, view config.View, message string, sink Sink, backend string) Outcome {
	store := o.deps.Store

	// An abort during augmentation must not leak the turn into whatever
	// conversation is current by now.
	if r.ctx.Err() != nil {
		r.abort()
		return Outcome{Kind: Aborted}
	}
	store.AddMessage(model.RoleUser, message)
	history := store.FormattedHistoryForLLM(view.SystemPrompt, true)
	history = append(history, model.Message{Role: model.RoleUser, Content: message, Timestamp: model.NowMillis()})

	opts := model.GenerationOptions{
		Temperature: view.Temperature,
		TopP:        view.TopP,
		MaxTokens:   view.MaxTokens,
		OnToken: func(fragment string) {
			if r.forward(fragment, sink) {
				o.deps.Metrics.RecordChunk(backend)
			}
		},
	}

	var generate func(context.Context, []model.Message, model.GenerationOptions) (string, error)
	if view.UseLocalLLM {
		generate = o.deps.Engine.Generate
	} else {
		generate = o.deps.Remote.StreamChat
	}

	// The backend runs on its own goroutine so an abort ends the request
	// even when the backend keeps computing.
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.log.Error("CHAT_PANIC").Interface("panic", p).Msg("Backend panicked")
				done <- result{err: fmt.Errorf("backend panic: %v", p)}
			}
		}()
		text, err := generate(r.ctx, history, opts)
		done <- result{text, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-r.ctx.Done():
		r.abort()
		return Outcome{Kind: Aborted, Text: r.text()}
	}

	// Nothing is forwarded from here on.
	aborted := r.finish()
	switch {
	case aborted || errors.Is(res.err, context.Canceled) || r.ctx.Err() != nil:
		return Outcome{Kind: Aborted, Text: r.text()}
	case res.err != nil:
		return Outcome{Kind: Failed, Text: r.text(), Err: res.err}
	}

	text := r.text()
	store.AddMessage(model.RoleAssistant, text)
	return Outcome{Kind: OK, Text: text}
}

// reject logs a precondition failure and returns it.
func (o *Orchestrator) reject(base *RequestError, cause error) error {
	err := base
	if cause != nil {
		err = &RequestError{Status: base.Status, Message: base.Message, Cause: cause}
	}
	o.log.Info("PRECONDITION_FAILED").Str("reason", base.Message).Err(cause).Msg("Chat request rejected")
	return err
}

// =============================================================================
// SINGLE FLIGHT
// =============================================================================

// acquire claims the generation slot. With cancelRunning set a running
// generation is aborted and awaited; otherwise it yields ErrBusy.
func (o *Orchestrator) acquire(parent context.Context, cancelRunning bool) (*run, *RequestError) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if cur := o.active.Load(); cur != nil {
		if !cancelRunning {
			return nil, ErrBusy
		}
		o.log.Info("CHAT_PREEMPTED").Msg("Running generation cancelled for new conversation")
		if err := o.stopLocked(parent, cur); err != nil {
			return nil, &RequestError{Status: ErrBusy.Status, Message: ErrBusy.Message, Cause: err}
		}
	}

	r := newRun(parent)
	o.active.Store(r)
	return r, nil
}

// stopLocked aborts cur and waits for its Run to return. startMu must be held.
func (o *Orchestrator) stopLocked(ctx context.Context, cur *run) error {
	cur.abort()
	select {
	case <-cur.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release(r *run) {
	r.cancel()
	o.active.CompareAndSwap(r, nil)
	close(r.done)
}

// run is one in-flight generation. mu orders chunk forwarding against
// abort so that no chunk is delivered once the run is aborted or finished.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	aborted bool
	buf     strings.Builder
}

func newRun(parent context.Context) *run {
	ctx, cancel := context.WithCancel(parent)
	return &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// forward accumulates and delivers one fragment unless the run is closed.
func (r *run) forward(fragment string, sink Sink) bool {
	if fragment == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.buf.WriteString(fragment)
	sink.Chunk(fragment)
	return true
}

// abort stops forwarding and cancels the backend call.
func (r *run) abort() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.aborted = true
	}
	r.mu.Unlock()
	r.cancel()
}

// finish stops forwarding and reports whether the run was aborted first.
func (r *run) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.aborted
}

func (r *run) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}
