// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

const (
	// DefaultTitle is used when a conversation has no user message yet.
	DefaultTitle = "New Conversation"

	// TitleMaxRunes is the length of the title prefix taken from the first
	// user message before the ellipsis is appended.
	TitleMaxRunes = 30

	// IDPrefix starts every generated conversation id.
	IDPrefix = "conversation_"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the persisted record of one chat session.
type Conversation struct {
	ID          string    `json:"id"`
	LastUpdated int64     `json:"lastUpdated"` // epoch milliseconds
	Messages    []Message `json:"messages"`
}

// Title derives the display title from the first user message.
func (c *Conversation) Title() string {
	return TitleFor(c.Messages)
}

// Meta returns the index entry for the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.Title(),
		LastUpdated:  c.LastUpdated,
		MessageCount: len(c.Messages),
	}
}

// ConversationMeta is one entry in the conversation index. It is computed on
// demand and never stored.
type ConversationMeta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	LastUpdated  int64  `json:"lastUpdated"`
	MessageCount int    `json:"messageCount"`
}

// TitleFor returns the first user message cut to TitleMaxRunes characters
// with "..." appended when it was longer, or DefaultTitle.
func TitleFor(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		if util.RuneLen(msg.Content) > TitleMaxRunes {
			return util.TruncateRunesNoEllipsis(msg.Content, TitleMaxRunes) + "..."
		}
		return msg.Content
	}
	return DefaultTitle
}

// =============================================================================
// HISTORY TRIMMING
// =============================================================================

// TrimMessages bounds a history to max entries. The first system message,
// if any, survives at index 0 and takes one slot; every other system message
// is dropped and the remaining slots hold the most recent non-system turns.
// Without a system message the most recent max entries are kept.
//
// The input slice is not modified.
func TrimMessages(messages []Message, max int) []Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}

	sysIdx := -1
	for i, msg := range messages {
		if msg.Role == RoleSystem {
			sysIdx = i
			break
		}
	}

	if sysIdx < 0 {
		out := make([]Message, max)
		copy(out, messages[len(messages)-max:])
		return out
	}

	rest := make([]Message, 0, len(messages)-1)
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			rest = append(rest, msg)
		}
	}
	keep := max - 1
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}

	out := make([]Message, 0, len(rest)+1)
	out = append(out, messages[sysIdx])
	return append(out, rest...)
}

// =============================================================================
// ID GENERATION
// =============================================================================

// NewConversationID returns an id of the form conversation_<epoch-ms>_<hex>.
func NewConversationID() string {
	return newConversationIDAt(time.Now())
}

func newConversationIDAt(t time.Time) string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the
		// nanosecond clock so ids stay unique within a process.
		return IDPrefix + strconv.FormatInt(t.UnixMilli(), 10) + "_" + strconv.FormatInt(t.UnixNano()%1e9, 36)
	}
	return IDPrefix + strconv.FormatInt(t.UnixMilli(), 10) + "_" + hex.EncodeToString(b)
}
