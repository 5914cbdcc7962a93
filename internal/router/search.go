// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ============================================================================
// SEARCH MODE
// ============================================================================

// SearchMode selects when web search augments a chat request.
type SearchMode string

const (
	SearchAlways SearchMode = "always"
	SearchNever  SearchMode = "never"
	SearchAuto   SearchMode = "auto"
)

// ParseSearchMode maps a request value onto a mode. Empty or unknown values
// yield fallback.
func ParseSearchMode(s string, fallback SearchMode) SearchMode {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case SearchAlways:
		return SearchAlways
	case SearchNever:
		return SearchNever
	case SearchAuto:
		return SearchAuto
	default:
		return fallback
	}
}

// String returns the mode name.
func (m SearchMode) String() string {
	return string(m)
}

// ============================================================================
// TERM LISTS
// ============================================================================

// Terms are matched as substrings of the normalized message, so German
// compounds such as "laufzeitfehler" hit "fehler". A trailing space pins the
// end of a word, so "now " does not match "nowhere". German and English are
// both covered.

var currentInfoTerms = []string{
	"heute", "aktuell", "neueste", "neuesten", "jetzt", "gerade ", "derzeit",
	"wetter", "news", "nachrichten", "morgen ", "gestern", "diese woche",
	"dieses jahr", "live", "stand ",
	"today", "current", "latest", "recent", "now ", "weather", "tomorrow",
	"yesterday", "this week", "this year", "breaking", "score", "stock",
	"kurs ", "börse",
}

var factCheckTerms = []string{
	"wer ist", "wer war", "was ist", "was sind", "wann", "wo ist", "wo liegt",
	"wie viel", "wie viele", "wie hoch", "wie alt", "preis", "kostet", "kosten",
	"vergleich", "unterschied", "stimmt es",
	"who is", "who was", "what is", "what are", "when ", "where is",
	"how much", "how many", "how old", "price", "cost", "compare", "versus",
	"vs ", "difference between", "is it true",
}

var technicalTerms = []string{
	"error", "fehler", "exception", "stack trace", "stacktrace", "bug",
	"documentation", "dokumentation", "docs ", "api ", "sdk", "library",
	"bibliothek", "framework", "package", "paket", "install", "installieren",
	"tutorial", "anleitung", "changelog", "release notes", "github", "npm ",
	"pip ", "docker", "kubernetes", "deprecated", "veraltet",
}

var webInfoTerms = []string{
	"link", "url ", "website", "webseite", "internet", "google", "suche ",
	"such ", "suchen", "search", "look up", "nachschlagen", "online",
	"quelle", "quellen", "source", "sources", "wikipedia",
}

var philosophicalTerms = []string{
	"was wäre wenn", "was waere wenn", "what if", "sinn des lebens",
	"meaning of life", "glaubst du", "do you think", "philosoph",
	"bewusstsein", "consciousness", "moral", "ethik", "ethics",
	"hypothetisch", "hypothetical", "stell dir vor", "imagine", "träumst du",
	"do you dream", "existenz", "existence", "free will", "freier wille",
}

var smallTalkTerms = []string{
	"hallo", "hello", "hi ", "hey ", "moin", "servus", "grüß dich",
	"wie geht es", "wie gehts", "how are you", "guten morgen", "guten tag",
	"guten abend", "good morning", "good evening", "danke", "thank you",
	"thanks", "tschüss", "tschuess", "bye", "auf wiedersehen",
	"wer bist du", "who are you", "was kannst du", "what can you do",
}

var (
	yearPattern    = regexp.MustCompile(`\b\d{4}\b`)
	versionPattern = regexp.MustCompile(`version \d`)
	// Applied to the original text: two consecutive capitalized words.
	properNounPattern = regexp.MustCompile(`[A-Z][a-z]+ [A-Z][a-z]+`)
)

// ============================================================================
// ANALYSIS
// ============================================================================

// SearchSignals holds the individual triggers and gates of the auto-search
// heuristic for one message.
type SearchSignals struct {
	// Positive triggers
	CurrentInfo bool
	FactCheck   bool
	Technical   bool
	Entity      bool
	WebInfo     bool

	// Negative gates
	Philosophical bool
	SmallTalk     bool
}

// Positive reports whether any positive trigger fired.
func (s SearchSignals) Positive() bool {
	return s.CurrentInfo || s.FactCheck || s.Technical || s.Entity || s.WebInfo
}

// ShouldSearch applies the decision rule: any trigger, and neither gate.
func (s SearchSignals) ShouldSearch() bool {
	return s.Positive() && !s.Philosophical && !s.SmallTalk
}

// Reason names the first deciding signal, for logs.
func (s SearchSignals) Reason() string {
	switch {
	case s.Philosophical:
		return "philosophical"
	case s.SmallTalk:
		return "smalltalk"
	case s.CurrentInfo:
		return "current_info"
	case s.FactCheck:
		return "fact_check"
	case s.Technical:
		return "technical"
	case s.Entity:
		return "entity"
	case s.WebInfo:
		return "web_info"
	default:
		return "no_trigger"
	}
}

// AnalyzeSearch computes every signal for message.
func AnalyzeSearch(message string) SearchSignals {
	original := norm.NFC.String(message)
	text := normalize(original)

	return SearchSignals{
		CurrentInfo:   containsAny(text, currentInfoTerms),
		FactCheck:     containsAny(text, factCheckTerms),
		Technical:     containsAny(text, technicalTerms),
		Entity:        yearPattern.MatchString(text) || versionPattern.MatchString(text) || properNounPattern.MatchString(original),
		WebInfo:       containsAny(text, webInfoTerms),
		Philosophical: containsAny(text, philosophicalTerms),
		SmallTalk:     containsAny(text, smallTalkTerms),
	}
}

// ShouldSearch is the auto-mode heuristic: true when the message looks like
// it needs fresh or external information and is neither philosophical nor
// small talk.
func ShouldSearch(message string) bool {
	return AnalyzeSearch(message).ShouldSearch()
}

// normalize lowercases text, replaces everything but letters and digits with
// spaces, collapses runs of spaces and pads both ends with one space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	if !lastSpace {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// ============================================================================
// DECISION
// ============================================================================

// SearchDecision is the outcome of the search stage for one request.
type SearchDecision struct {
	Search bool
	Mode   SearchMode
	Reason string
}

// DecideSearch resolves the mode for one request. forceOff wins over every
// mode; it is set when the message carried the local-only prefix.
func DecideSearch(mode SearchMode, message string, forceOff bool) SearchDecision {
	if forceOff {
		return SearchDecision{Search: false, Mode: mode, Reason: "local_override"}
	}
	switch mode {
	case SearchAlways:
		return SearchDecision{Search: true, Mode: mode, Reason: "mode_always"}
	case SearchNever:
		return SearchDecision{Search: false, Mode: mode, Reason: "mode_never"}
	default:
		signals := AnalyzeSearch(message)
		return SearchDecision{Search: signals.ShouldSearch(), Mode: SearchAuto, Reason: signals.Reason()}
	}
}
