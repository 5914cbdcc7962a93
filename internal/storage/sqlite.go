// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id            TEXT PRIMARY KEY,
    last_updated  INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    message_count INTEGER NOT NULL DEFAULT 0,
    title         TEXT NOT NULL DEFAULT '',
    messages      TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps each conversation as one row. The updated_at column is
// the write time in epoch milliseconds and plays the role of the file
// modification time.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the store is used by a single process.
	db.SetMaxOpenConns(1)

	// PERFORMANCE: WAL lets index reads proceed while a save is in progress.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Save inserts or replaces the conversation row.
func (s *SQLiteStore) Save(conv *model.Conversation) error {
	if err := ValidateID(conv.ID); err != nil {
		return err
	}

	messages := conv.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO conversations
			(id, last_updated, updated_at, message_count, title, messages)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID,
		conv.LastUpdated,
		s.now().UnixMilli(),
		len(messages),
		model.TitleFor(messages),
		string(msgJSON),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// Load reads one conversation row.
func (s *SQLiteStore) Load(id string) (*model.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`SELECT id, last_updated, messages FROM conversations WHERE id = ?`, id)

	var conv model.Conversation
	var msgJSON string
	err := row.Scan(&conv.ID, &conv.LastUpdated, &msgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(msgJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

// List returns index entries ordered by write time, newest first.
func (s *SQLiteStore) List() ([]model.ConversationMeta, error) {
	entries, err := s.entries()
	if err != nil {
		return nil, err
	}
	return metasOf(entries), nil
}

func (s *SQLiteStore) entries() ([]entry, error) {
	rows, err := s.db.Query(`
		SELECT id, last_updated, updated_at, message_count, title
		FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []entry
	for rows.Next() {
		var e entry
		var updatedAt int64
		if err := rows.Scan(&e.meta.ID, &e.meta.LastUpdated, &updatedAt, &e.meta.MessageCount, &e.meta.Title); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		e.modTime = time.UnixMilli(updatedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortEntries(out)
	return out, nil
}

// Delete removes one conversation row.
func (s *SQLiteStore) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	result, err := s.db.Exec("DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Clear removes every row.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM conversations"); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	return nil
}

// Prune deletes rows beyond the keep most recently written.
func (s *SQLiteStore) Prune(keep int) ([]string, error) {
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
	for _, e := range entries[keep:] {
		if err := s.Delete(e.meta.ID); err != nil && !errors.Is(err, ErrConversationNotFound) {
			return deleted, err
		}
		deleted = append(deleted, e.meta.ID)
	}
	return deleted, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
