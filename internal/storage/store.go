// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists one record per conversation, keyed by conversation id.
// Implementations are safe for concurrent use.
type Store interface {
	// Save writes the record, overwriting any prior record with the same id.
	Save(conv *model.Conversation) error

	// Load reads a record. Returns ErrConversationNotFound when absent.
	Load(id string) (*model.Conversation, error)

	// List returns an index entry for every readable record, most recently
	// modified first. Unreadable records are skipped.
	List() ([]model.ConversationMeta, error)

	// Delete removes a record. Returns ErrConversationNotFound when absent.
	Delete(id string) error

	// Clear removes every record.
	Clear() error

	// Prune deletes every record beyond the keep most recently modified
	// ones and returns the deleted ids.
	Prune(keep int) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Open returns the store for a backend name ("file" or "sqlite") rooted at
// dir. The SQLite database lives at dir/history.db.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return NewSQLiteStore(filepath.Join(dir, "history.db"))
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// entry pairs an index entry with the modification time used for ordering.
type entry struct {
	meta    model.ConversationMeta
	modTime time.Time
}

// sortEntries orders newest first; equal times fall back to id, newest
// id first, so the order is stable across calls.
func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].modTime.After(entries[j].modTime)
		}
		return entries[i].meta.ID > entries[j].meta.ID
	})
}

func metasOf(entries []entry) []model.ConversationMeta {
	metas := make([]model.ConversationMeta, len(entries))
	for i, e := range entries {
		metas[i] = e.meta
	}
	return metas
}

// =============================================================================
// ID VALIDATION
// =============================================================================

var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID checks that id is safe to use as a record key.
// SECURITY: Rejects separators and dots so an id can never name a path
// outside the history directory.
func ValidateID(id string) error {
	if !validIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is returned for ids that are not safe record keys.
var ErrInvalidID = &ConversationError{Message: "invalid conversation id"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
