// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each conversation as <id>.json in one directory. The file
// modification time orders the index.
type FileStore struct {
	// BaseDir is the directory holding the records.
	// Default: ~/.rigrun-chat/chat_history/
	BaseDir string

	mu sync.Mutex
}

// NewFileStore creates a store rooted at baseDir, creating the directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Save writes the conversation record atomically.
func (s *FileStore) Save(conv *model.Conversation) error {
	if err := ValidateID(conv.ID); err != nil {
		return err
	}

	messages := conv.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	data, err := json.MarshalIndent(model.Conversation{
		ID:          conv.ID,
		LastUpdated: conv.LastUpdated,
		Messages:    messages,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFileWithDir(s.filePath(conv.ID), data, 0600, 0700); err != nil {
		return fmt.Errorf("write conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Load retrieves a conversation by ID.
func (s *FileStore) Load(id string) (*model.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("read conversation %s: %w", id, err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

// List returns all saved conversations (most recently modified first).
func (s *FileStore) List() ([]model.ConversationMeta, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	return metasOf(entries), nil
}

func (s *FileStore) entries() ([]entry, error) {
	dirEntries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []entry{}, nil
		}
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	out := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ".json")

		info, err := de.Info()
		if err != nil {
			continue
		}
		conv, err := s.Load(id)
		if err != nil {
			continue // Skip corrupted files
		}
		out = append(out, entry{meta: conv.Meta(), modTime: info.ModTime()})
	}

	sortEntries(out)
	return out, nil
}

// Delete removes a conversation by ID.
func (s *FileStore) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

// Clear removes all saved conversations.
func (s *FileStore) Clear() error {
	dirEntries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read history directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.BaseDir, de.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Prune deletes records beyond the keep most recently modified.
func (s *FileStore) Prune(keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}

	var deleted []string
	var errs []error
	for _, e := range entries[keep:] {
		if err := s.Delete(e.meta.ID); err != nil && !errors.Is(err, ErrConversationNotFound) {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, e.meta.ID)
	}
	return deleted, errors.Join(errs...)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// filePath returns the file path for a conversation ID.
func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
