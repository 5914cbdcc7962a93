// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package augment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// localPrefix matches the literal-local override at the start of a message.
var localPrefix = regexp.MustCompile(`(?i)^\s*(?:lokal|local):\s*`)

// ApplyLocalOverride strips a leading "lokal:" or "local:" (any case) and
// reports whether it was present. A message with the prefix must not
// trigger web search.
func ApplyLocalOverride(message string) (string, bool) {
	loc := localPrefix.FindStringIndex(message)
	if loc == nil {
		return message, false
	}
	return message[loc[1]:], true
}

// AppendURLContent appends fetched page text under a heading naming its
// source. Empty content leaves the message unchanged.
func AppendURLContent(message, url, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return message
	}
	return fmt.Sprintf("%s\n\n### Content from %s\n\n%s", message, url, content)
}

// maxSnippetRunes bounds each search description in the context block.
const maxSnippetRunes = 300

// PrependSearchResults puts a labelled block of search hits in front of the
// question. No results leaves the message unchanged.
func PrependSearchResults(message string, results []model.SearchResult) string {
	if len(results) == 0 {
		return message
	}

	var sb strings.Builder
	sb.WriteString("### Web search results\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, util.SingleLine(r.Title))
		fmt.Fprintf(&sb, "URL: %s\n", r.URL)
		if r.Description != "" {
			// UNICODE: Rune-aware truncation preserves multi-byte characters
			sb.WriteString(util.TruncateRunes(util.SingleLine(r.Description), maxSnippetRunes))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Use the search results above where they are relevant. Cite the URL when you rely on one.\n\n")
	sb.WriteString("### Question\n\n")
	sb.WriteString(message)
	return sb.String()
}
