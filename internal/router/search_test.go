// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "testing"

// ============================================================================
// SHOULD SEARCH
// ============================================================================

func TestShouldSearch(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		// Positive triggers
		{"What is the weather today?", true},
		{"Wie ist das Wetter in Berlin?", true},
		{"Was kostet ein iPhone?", true},
		{"Who is the CEO of Siemens?", true},
		{"How do I fix this TypeError exception in React?", true},
		{"Gibt es eine Dokumentation für diese Bibliothek?", true},
		{"Changes in Go version 1.22", true},
		{"Was passierte 1989 in Deutschland?", true},
		{"Tell me about Angela Merkel", true},
		{"Kannst du das bitte online nachschlagen?", true},

		// Negative gates
		{"Hallo, wie geht es dir?", false},
		{"Was wäre wenn Computer fühlen könnten?", false},
		{"Hi, what is new today?", false},
		{"What is the meaning of life?", false},
		{"Danke für die schnelle Antwort", false},

		// No trigger
		{"Schreib mir ein Gedicht über Katzen", false},
		{"Translate this sentence into French please", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := ShouldSearch(tt.message); got != tt.want {
				t.Errorf("ShouldSearch(%q) = %v, want %v (signals %+v)", tt.message, got, tt.want, AnalyzeSearch(tt.message))
			}
		})
	}
}

func TestAnalyzeSearch_Signals(t *testing.T) {
	s := AnalyzeSearch("What is the weather today?")
	if !s.CurrentInfo || !s.FactCheck {
		t.Errorf("signals = %+v, want CurrentInfo and FactCheck", s)
	}
	if s.Philosophical || s.SmallTalk {
		t.Errorf("unexpected gate: %+v", s)
	}

	s = AnalyzeSearch("Was wäre wenn Computer fühlen könnten?")
	if !s.Philosophical {
		t.Errorf("Philosophical = false for 'was wäre wenn'")
	}
	if s.Reason() != "philosophical" {
		t.Errorf("Reason() = %q, want philosophical", s.Reason())
	}
}

func TestAnalyzeSearch_SubstringMatching(t *testing.T) {
	// Terms match inside words, which covers German compounds.
	s := AnalyzeSearch("mein programm hat laufzeitfehler")
	if !s.Technical {
		t.Errorf("Technical = false for laufzeitfehler: %+v", s)
	}
	if s.Entity {
		t.Errorf("Entity fired on lowercase text: %+v", s)
	}
	if !AnalyzeSearch("die aktuellen Zahlen").CurrentInfo {
		t.Error("aktuell not matched inside aktuellen")
	}
	if !AnalyzeSearch("wo finde ich die wetterdaten").CurrentInfo {
		t.Error("wetter not matched inside wetterdaten")
	}

	// A trailing space in a term still pins the end of the word.
	s = AnalyzeSearch("nowhere history")
	if s.CurrentInfo || s.SmallTalk {
		t.Errorf("word-end term matched mid-word: %+v", s)
	}
}

func TestAnalyzeSearch_UnicodeNormalization(t *testing.T) {
	// Decomposed ä (a + combining diaeresis) must match the composed term.
	decomposed := "Was wa\u0308re wenn Maschinen tra\u0308umen?"
	if !AnalyzeSearch(decomposed).Philosophical {
		t.Error("decomposed umlaut not normalized")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", " "},
		{"Hallo, Welt!", " hallo welt "},
		{"  a\t\tb\n", " a b "},
		{"Größe: 10€", " größe 10 "},
		{"what's up?", " what s up "},
	}
	for _, tt := range tests {
		if got := normalize(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ============================================================================
// MODES AND DECISIONS
// ============================================================================

func TestParseSearchMode(t *testing.T) {
	tests := []struct {
		in   string
		want SearchMode
	}{
		{"always", SearchAlways},
		{"NEVER", SearchNever},
		{" auto ", SearchAuto},
		{"", SearchAuto},
		{"sometimes", SearchAuto},
	}
	for _, tt := range tests {
		if got := ParseSearchMode(tt.in, SearchAuto); got != tt.want {
			t.Errorf("ParseSearchMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := ParseSearchMode("", SearchNever); got != SearchNever {
		t.Errorf("fallback not used: %q", got)
	}
}

func TestDecideSearch(t *testing.T) {
	tests := []struct {
		name     string
		mode     SearchMode
		message  string
		forceOff bool
		want     bool
		reason   string
	}{
		{"always", SearchAlways, "Schreib ein Gedicht", false, true, "mode_always"},
		{"never", SearchNever, "What is the weather today?", false, false, "mode_never"},
		{"auto yes", SearchAuto, "What is the weather today?", false, true, "current_info"},
		{"auto no", SearchAuto, "Hallo, wie geht es dir?", false, false, "smalltalk"},
		{"local override beats always", SearchAlways, "weather today", true, false, "local_override"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideSearch(tt.mode, tt.message, tt.forceOff)
			if d.Search != tt.want || d.Reason != tt.reason {
				t.Errorf("DecideSearch() = %+v, want search=%v reason=%s", d, tt.want, tt.reason)
			}
		})
	}
}

func BenchmarkShouldSearch(b *testing.B) {
	msg := "What changed in the latest Kubernetes version 1.30 release notes?"
	for i := 0; i < b.N; i++ {
		ShouldSearch(msg)
	}
}
