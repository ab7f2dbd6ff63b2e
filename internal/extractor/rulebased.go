package extractor

import (
	"context"
	"strings"
	"unicode"

	"github.com/recallgraph/recalld/internal/models"
)

// RuleBasedExtractor is a dependency-free fallback used when no Claude API
// key is configured. It treats capitalized multi-word runs as entity names
// and emits a generic MENTIONED_WITH relation between co-occurring entities.
type RuleBasedExtractor struct{}

// NewRuleBasedExtractor creates the fallback extractor.
func NewRuleBasedExtractor() *RuleBasedExtractor {
	return &RuleBasedExtractor{}
}

// Extract finds capitalized terms that are not sentence-initial words.
func (r *RuleBasedExtractor) Extract(_ context.Context, content string) (Extraction, error) {
	var out Extraction
	seen := make(map[string]bool)

	words := strings.Fields(content)
	var run []string
	sentenceStart := true
	flush := func() {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, " ")
		run = nil
		if len(name) < 2 || seen[name] {
			return
		}
		seen[name] = true
		out.Entities = append(out.Entities, name)
	}

	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		endsSentence := strings.ContainsAny(w, ".!?")
		if trimmed == "" {
			flush()
			sentenceStart = sentenceStart || endsSentence
			continue
		}
		first := []rune(trimmed)[0]
		if unicode.IsUpper(first) && !(sentenceStart && len(run) == 0) {
			run = append(run, trimmed)
		} else {
			flush()
		}
		sentenceStart = endsSentence
	}
	flush()

	// Pairwise co-occurrence gives the graph something to traverse even
	// without an LLM in the loop.
	for i := 0; i+1 < len(out.Entities); i++ {
		out.Relations = append(out.Relations, models.Relation{
			Src:  out.Entities[i],
			Type: "MENTIONED_WITH",
			Dst:  out.Entities[i+1],
		})
	}
	return out, nil
}
