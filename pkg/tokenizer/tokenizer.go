// Package tokenizer provides language-aware term extraction for the conflict
// detection layer. Negation markers and mutually-exclusive keyword pairs are
// carried per language pack so that detection is pluggable rather than tied
// to one language.
package tokenizer

import (
	"strings"
	"unicode"
)

// ExclusivePair is a pair of keywords that cannot truthfully describe the
// same fact, e.g. "completed" vs "in progress".
type ExclusivePair struct {
	A string
	B string
}

// LanguagePack carries the negation markers and exclusive keyword pairs for
// one language family.
type LanguagePack struct {
	Name           string
	NegationTokens []string
	ExclusivePairs []ExclusivePair
}

// English is the default English language pack.
var English = LanguagePack{
	Name:           "en",
	NegationTokens: []string{"not", "no", "never", "n't", "without", "stopped", "deprecated"},
	ExclusivePairs: []ExclusivePair{
		{A: "fixed", B: "broken"},
		{A: "fixed", B: "problem"},
		{A: "works", B: "doesn't work"},
		{A: "completed", B: "in progress"},
		{A: "enabled", B: "disabled"},
	},
}

// Russian mirrors the English pack for Russian-language content.
var Russian = LanguagePack{
	Name:           "ru",
	NegationTokens: []string{"не", "нет", "никогда", "без"},
	ExclusivePairs: []ExclusivePair{
		{A: "исправлено", B: "проблема"},
		{A: "работает", B: "не работает"},
		{A: "завершено", B: "в процессе"},
	},
}

// DefaultPacks are the packs consulted when the caller registers none.
func DefaultPacks() []LanguagePack {
	return []LanguagePack{English, Russian}
}

// Terms splits text into lowercased word tokens, dropping punctuation.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// TermSet returns the set of lowercased terms in text.
func TermSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Terms(text) {
		set[t] = true
	}
	return set
}

// HasNegation reports whether text contains any negation marker from the pack.
func (p LanguagePack) HasNegation(text string) bool {
	set := TermSet(text)
	lower := strings.ToLower(text)
	for _, tok := range p.NegationTokens {
		if strings.ContainsAny(tok, "'") || strings.Contains(tok, " ") {
			if strings.Contains(lower, tok) {
				return true
			}
			continue
		}
		if set[tok] {
			return true
		}
	}
	return false
}

// ExclusiveMatch returns the first exclusive pair where one side appears in a
// and the other in b (in either order), or false when none matches.
func (p LanguagePack) ExclusiveMatch(a, b string) (ExclusivePair, bool) {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	for _, pair := range p.ExclusivePairs {
		if (strings.Contains(la, pair.A) && strings.Contains(lb, pair.B)) ||
			(strings.Contains(la, pair.B) && strings.Contains(lb, pair.A)) {
			return pair, true
		}
	}
	return ExclusivePair{}, false
}

// Jaccard computes word-set similarity of two texts in [0,1].
func Jaccard(a, b string) float64 {
	sa, sb := TermSet(a), TermSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
