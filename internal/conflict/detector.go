// Package conflict implements deterministic contradiction detection between
// a new memory and its near-duplicate candidates. Detection is advisory: the
// engine stores flagged records as conflicted rather than rejecting them.
package conflict

import (
	"log/slog"
	"strings"

	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/pkg/tokenizer"
)

// Finding is one detected conflict against an existing record.
type Finding struct {
	CandidateID string
	Reason      string
}

// Detector evaluates the textual conflict tests of §4.5 over candidates that
// already passed the vector similarity gate.
type Detector struct {
	packs    []tokenizer.LanguagePack
	tagPairs []tokenizer.ExclusivePair
	logger   *slog.Logger
}

// NewDetector creates a detector with the given language packs and
// mutually-exclusive tag pairs. Passing no packs installs the default
// English and Russian packs.
func NewDetector(packs []tokenizer.LanguagePack, tagPairs []tokenizer.ExclusivePair, logger *slog.Logger) *Detector {
	if len(packs) == 0 {
		packs = tokenizer.DefaultPacks()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{packs: packs, tagPairs: tagPairs, logger: logger}
}

// Check returns the conflicts between the new memory and each candidate.
// Two memories conflict when at least one textual test succeeds: negation
// asymmetry, diverging key:value assertion, a mutually-exclusive keyword
// pair, or a mutually-exclusive tag pair.
func (d *Detector) Check(newContent string, newTags []string, candidates []models.MemoryRecord) []Finding {
	var findings []Finding
	newKV := extractKeyValues(newContent)

	for i := range candidates {
		cand := &candidates[i]
		reason, ok := d.checkPair(newContent, newKV, cand.Content)
		if !ok {
			reason, ok = d.checkTags(newTags, cand.Tags)
		}
		if ok {
			findings = append(findings, Finding{CandidateID: cand.ID, Reason: reason})
			d.logger.Debug("conflict detected", "candidate", cand.ID, "reason", reason)
		}
	}
	return findings
}

func (d *Detector) checkTags(newTags, oldTags []string) (string, bool) {
	has := func(tags []string, want string) bool {
		for _, t := range tags {
			if strings.EqualFold(t, want) {
				return true
			}
		}
		return false
	}
	for _, pair := range d.tagPairs {
		if (has(newTags, pair.A) && has(oldTags, pair.B)) ||
			(has(newTags, pair.B) && has(oldTags, pair.A)) {
			return "mutually exclusive tags: " + pair.A + " / " + pair.B, true
		}
	}
	return "", false
}

func (d *Detector) checkPair(newContent string, newKV map[string]string, oldContent string) (string, bool) {
	for _, pack := range d.packs {
		newNeg := pack.HasNegation(newContent)
		oldNeg := pack.HasNegation(oldContent)
		if newNeg != oldNeg {
			return "negation asymmetry (" + pack.Name + ")", true
		}
		if pair, ok := pack.ExclusiveMatch(newContent, oldContent); ok {
			return "mutually exclusive terms: " + pair.A + " / " + pair.B, true
		}
	}

	oldKV := extractKeyValues(oldContent)
	for key, newVal := range newKV {
		if oldVal, ok := oldKV[key]; ok && oldVal != newVal {
			return "diverging value for key " + key, true
		}
	}
	return "", false
}

// extractKeyValues pulls `key: value` assertions from content. Keys and
// values are normalized to lowercased single tokens; multi-word values keep
// only their first token, which is enough to catch "db: postgres" vs
// "db: mongo".
func extractKeyValues(content string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		for _, clause := range strings.Split(line, ",") {
			idx := strings.Index(clause, ":")
			if idx <= 0 || idx == len(clause)-1 {
				continue
			}
			keyTokens := tokenizer.Terms(clause[:idx])
			valTokens := tokenizer.Terms(clause[idx+1:])
			if len(keyTokens) == 0 || len(valTokens) == 0 {
				continue
			}
			// The key is the token adjacent to the colon.
			kv[keyTokens[len(keyTokens)-1]] = valTokens[0]
		}
	}
	return kv
}
