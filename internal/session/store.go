// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/logger"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// Config holds the conversation limits.
type Config struct {
	// MaxMessages caps the messages kept per conversation (default: 20).
	MaxMessages int

	// MaxConversations caps the persisted conversations kept by cleanup
	// (default: 10).
	MaxConversations int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxMessages:      20,
		MaxConversations: 10,
	}
}

// Store owns the one current conversation and mirrors it to a storage
// backend after every mutation. All methods are safe for concurrent use;
// each call observes and leaves a complete state.
//
// Persistence is best-effort: backend failures are logged and never
// surface as a failed mutation.
type Store struct {
	mu sync.Mutex

	backend storage.Store
	log     *logger.Logger
	metrics *metrics.Metrics

	maxMessages      int
	maxConversations int

	currentID string
	history   []model.Message

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l).Component("history") }
}

// WithMetrics records conversation writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a conversation store over backend. Call Initialize before use.
func New(backend storage.Store, cfg Config, opts ...Option) *Store {
	d := DefaultConfig()
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = d.MaxMessages
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = d.MaxConversations
	}

	s := &Store{
		backend:          backend,
		log:              logger.Nop(),
		maxMessages:      cfg.MaxMessages,
		maxConversations: cfg.MaxConversations,
		history:          []model.Message{},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Initialize applies the retention policy and starts a fresh conversation.
// Storage failures are logged; the store still works in memory.
func (s *Store) Initialize() {
	s.CleanupOldConversations()
	id := s.StartNewConversation()
	s.log.Info("HISTORY_READY").Str("conversation_id", id).
		Int("max_messages", s.maxMessages).
		Int("max_conversations", s.maxConversations).
		Msg("conversation store initialized")
}

// StartNewConversation resets the in-memory history under a fresh id. Nothing
// is persisted until the first message is added.
func (s *Store) StartNewConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startNewLocked()
}

func (s *Store) startNewLocked() string {
	s.currentID = model.NewConversationID()
	s.history = []model.Message{}
	return s.currentID
}

// CurrentID returns the id of the current conversation.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// CurrentHistory returns a copy of the current conversation's messages.
func (s *Store) CurrentHistory() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.history))
	copy(out, s.history)
	return out
}

// =============================================================================
// MUTATION
// =============================================================================

// AddMessage appends a timestamped message, trims the history to the cap
// and persists the conversation. The created message is returned.
func (s *Store) AddMessage(role model.Role, content string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UnixMilli(),
	}
	s.history = model.TrimMessages(append(s.history, msg), s.maxMessages)
	s.saveLocked()
	return msg
}

// SaveCurrentHistory writes {id, lastUpdated: now, messages} for the current
// conversation, replacing any earlier record with the same id.
func (s *Store) SaveCurrentHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.currentID == "" {
		s.startNewLocked()
	}
	conv := &model.Conversation{
		ID:          s.currentID,
		LastUpdated: s.now().UnixMilli(),
		Messages:    s.history,
	}
	err := s.backend.Save(conv)
	s.metrics.RecordSave(err)
	if err != nil {
		s.log.Error("HISTORY_SAVE_FAILED").Err(err).Str("conversation_id", s.currentID).Msg("could not persist conversation")
	}
	return err
}

// LoadConversation makes the stored conversation current and returns its
// messages. When the record cannot be read the current conversation is left
// unchanged, an empty slice is returned, and the error says why
// (storage.ErrConversationNotFound for an unknown id).
func (s *Store) LoadConversation(id string) ([]model.Message, error) {
	conv, err := s.backend.Load(id)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			s.log.Warn("HISTORY_NOT_FOUND").Str("conversation_id", id).Msg("conversation does not exist")
		} else {
			s.log.Error("HISTORY_LOAD_FAILED").Err(err).Str("conversation_id", id).Msg("could not load conversation")
		}
		return []model.Message{}, err
	}

	messages := model.TrimMessages(conv.Messages, s.maxMessages)

	s.mu.Lock()
	s.currentID = conv.ID
	s.history = messages
	s.mu.Unlock()

	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out, nil
}

// =============================================================================
// INDEX AND DELETION
// =============================================================================

// AllConversations lists persisted conversations, most recently modified
// first. Storage failures yield an empty list.
func (s *Store) AllConversations() []model.ConversationMeta {
	metas, err := s.backend.List()
	if err != nil {
		s.log.Error("HISTORY_LIST_FAILED").Err(err).Msg("could not list conversations")
		return []model.ConversationMeta{}
	}
	return metas
}

// DeleteConversation removes a persisted conversation and reports whether it
// existed. Deleting the current conversation starts a new one.
func (s *Store) DeleteConversation(id string) bool {
	if err := s.backend.Delete(id); err != nil {
		if !errors.Is(err, storage.ErrConversationNotFound) {
			s.log.Error("HISTORY_DELETE_FAILED").Err(err).Str("conversation_id", id).Msg("could not delete conversation")
		}
		return false
	}

	s.mu.Lock()
	if s.currentID == id {
		s.startNewLocked()
	}
	s.mu.Unlock()

	s.log.Info("HISTORY_DELETED").Str("conversation_id", id).Msg("conversation deleted")
	return true
}

// DeleteAllConversations removes every persisted conversation and starts a
// new one. It reports whether the backend was cleared completely.
func (s *Store) DeleteAllConversations() bool {
	err := s.backend.Clear()
	if err != nil {
		s.log.Error("HISTORY_CLEAR_FAILED").Err(err).Msg("could not delete all conversations")
	}
	s.StartNewConversation()
	return err == nil
}

// CleanupOldConversations deletes persisted conversations beyond the
// MaxConversations most recently modified and returns how many it removed.
func (s *Store) CleanupOldConversations() int {
	deleted, err := s.backend.Prune(s.maxConversations)
	if err != nil {
		s.log.Error("HISTORY_CLEANUP_FAILED").Err(err).Msg("retention cleanup incomplete")
	}
	if len(deleted) > 0 {
		s.log.Info("HISTORY_CLEANUP").Int("deleted", len(deleted)).Int("kept", s.maxConversations).Msg("old conversations removed")
	}
	return len(deleted)
}

// =============================================================================
// MODEL INPUT
// =============================================================================

// FormattedHistoryForLLM builds the message list sent to a model.
//
// A non-empty systemPrompt becomes the only system entry, at index 0, and
// stored system messages are left out. With an empty systemPrompt the first
// stored system message is kept in place and any others are left out.
// excludeLastUser drops the most recent user message so the caller can send
// an augmented version of it instead. Order is otherwise preserved.
func (s *Store) FormattedHistoryForLLM(systemPrompt string, excludeLastUser bool) []model.Message {
	s.mu.Lock()
	history := make([]model.Message, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	skip := -1
	if excludeLastUser {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == model.RoleUser {
				skip = i
				break
			}
		}
	}

	out := make([]model.Message, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, model.Message{
			Role:      model.RoleSystem,
			Content:   systemPrompt,
			Timestamp: s.now().UnixMilli(),
		})
	}
	seenSystem := systemPrompt != ""

	for i, msg := range history {
		if i == skip {
			continue
		}
		if msg.Role == model.RoleSystem {
			if seenSystem {
				continue
			}
			seenSystem = true
		}
		out = append(out, msg)
	}
	return out
}
