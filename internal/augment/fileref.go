// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package augment

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

// =============================================================================
// FILE REFERENCES
// =============================================================================

// FileResolver reads a file from a registered source.
type FileResolver interface {
	ReadFile(ctx context.Context, sourceID, path string) (string, error)
}

// fileRefPattern matches #file:<sourceId>/<path>.
var fileRefPattern = regexp.MustCompile(`#file:([A-Za-z0-9_.-]+)/(\S+)`)

// Punctuation that ends a sentence rather than a path.
const trailingPunct = ".,;:!?)"

var (
	multiSpacePattern = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunct  = regexp.MustCompile(`[ \t]+([.,;:!?])`)
)

// NoResolverNote is appended when a message has file references but no
// resolver is configured.
const NoResolverNote = "[Note: file references could not be resolved because no file source is available.]"

// FileRef is one #file: token found in a message.
type FileRef struct {
	// Raw is the token as written, without trailing punctuation.
	Raw string

	SourceID string
	Path     string

	// Start and End are byte offsets of Raw in the message.
	Start int
	End   int
}

// Display returns "sourceId/path".
func (r FileRef) Display() string {
	return r.SourceID + "/" + r.Path
}

// ParseFileRefs finds all #file: tokens in message in order of appearance.
func ParseFileRefs(message string) []FileRef {
	matches := fileRefPattern.FindAllStringSubmatchIndex(message, -1)
	refs := make([]FileRef, 0, len(matches))
	for _, m := range matches {
		p := strings.TrimRight(message[m[4]:m[5]], trailingPunct)
		if p == "" {
			continue
		}
		end := m[4] + len(p)
		refs = append(refs, FileRef{
			Raw:      message[m[0]:end],
			SourceID: message[m[2]:m[3]],
			Path:     p,
			Start:    m[0],
			End:      end,
		})
	}
	return refs
}

// FileExpansion is the result of ExpandFileRefs.
type FileExpansion struct {
	// Message is the augmented message.
	Message string

	// Refs are the references found, in order.
	Refs []FileRef

	// Inlined counts the files whose content was included.
	Inlined int

	// Errors maps a failed reference (Display form) to its error.
	Errors map[string]error
}

// ExpandFileRefs inlines every referenced file as a fenced block labelled
// with the file's extension, strips the tokens from the visible text and
// appends a summary footer. A nil resolver leaves the text as written and
// appends NoResolverNote.
func ExpandFileRefs(ctx context.Context, message string, resolver FileResolver) FileExpansion {
	refs := ParseFileRefs(message)
	result := FileExpansion{Message: message, Refs: refs}
	if len(refs) == 0 {
		return result
	}

	if resolver == nil {
		result.Message = strings.TrimRight(message, " \t\n") + "\n\n" + NoResolverNote
		return result
	}

	var blocks strings.Builder
	for _, ref := range refs {
		content, err := resolver.ReadFile(ctx, ref.SourceID, ref.Path)
		blocks.WriteString("\n\nFile: ")
		blocks.WriteString(ref.Display())
		blocks.WriteString("\n")
		if err != nil {
			if result.Errors == nil {
				result.Errors = make(map[string]error)
			}
			result.Errors[ref.Display()] = err
			fmt.Fprintf(&blocks, "[Could not read file: %v]", err)
			continue
		}
		result.Inlined++
		blocks.WriteString(FencedBlock(LanguageFor(ref.Path), content))
	}

	var sb strings.Builder
	sb.WriteString(stripRefs(message, refs))
	sb.WriteString(blocks.String())
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "%d of %d referenced file(s) included as context.", result.Inlined, len(refs))
	result.Message = sb.String()
	return result
}

// stripRefs removes the tokens and tidies the spacing they leave behind.
func stripRefs(message string, refs []FileRef) string {
	var sb strings.Builder
	last := 0
	for _, ref := range refs {
		sb.WriteString(message[last:ref.Start])
		last = ref.End
	}
	sb.WriteString(message[last:])

	text := multiSpacePattern.ReplaceAllString(sb.String(), " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// =============================================================================
// FENCED BLOCKS
// =============================================================================

// LanguageFor returns the fence label for a file: its lowercase extension,
// or the name of the lexer chroma matches for extension-less names such as
// "Makefile", or "text".
func LanguageFor(filePath string) string {
	if ext := strings.TrimPrefix(path.Ext(filePath), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if lexer := lexers.Match(path.Base(filePath)); lexer != nil {
		cfg := lexer.Config()
		if len(cfg.Aliases) > 0 {
			return cfg.Aliases[0]
		}
		return strings.ToLower(cfg.Name)
	}
	return "text"
}

// FencedBlock wraps content in a markdown code fence. The fence is made
// longer than any backtick run inside the content so it cannot be closed
// early.
func FencedBlock(lang, content string) string {
	fence := strings.Repeat("`", max(3, longestBacktickRun(content)+1))

	var sb strings.Builder
	sb.WriteString(fence)
	sb.WriteString(lang)
	sb.WriteString("\n")
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(fence)
	return sb.String()
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return longest
}
