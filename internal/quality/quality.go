// Package quality computes audit and validation reports over a set of
// memory records. Reports are pure functions of the records and the audit
// weights; enumeration is the caller's job.
package quality

import (
	"math"
	"time"

	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/pkg/tokenizer"
)

// Weights controls how much each issue class deducts from the health score.
type Weights struct {
	Expired       float64 `json:"expired" mapstructure:"expired"`
	Conflicted    float64 `json:"conflicted" mapstructure:"conflicted"`
	LowConfidence float64 `json:"low_confidence" mapstructure:"low_confidence"`
}

// DefaultWeights returns the default audit weights.
func DefaultWeights() Weights {
	return Weights{Expired: 1.0, Conflicted: 1.5, LowConfidence: 0.5}
}

// lowConfidenceThreshold is the confidence below which a record counts as a
// low-confidence issue.
const lowConfidenceThreshold = 5

// nearDuplicateThreshold is the word-set Jaccard similarity above which two
// active records count as a potential conflict during validation.
const nearDuplicateThreshold = 0.6

// Auditor computes quality reports.
type Auditor struct {
	weights Weights
}

// NewAuditor creates an auditor with the given weights.
func NewAuditor(weights Weights) *Auditor {
	return &Auditor{weights: weights}
}

// Audit summarizes the health of every record in a scope.
func (a *Auditor) Audit(scopeLabel string, records []models.MemoryRecord, now time.Time) *models.QualityReport {
	report := &models.QualityReport{
		AuditScope: scopeLabel,
		AuditedAt:  now,
		ByStatus:   make(map[models.Status]int),
		ByCategory: make(map[models.Category]int),
	}

	confSum := 0
	withMetadata := 0
	for i := range records {
		m := &records[i]
		report.TotalMemories++
		report.ByStatus[m.Status]++
		report.ByCategory[m.Category]++
		confSum += m.Confidence

		switch {
		case m.Confidence >= 8:
			report.Confidence.High++
		case m.Confidence >= 5:
			report.Confidence.Medium++
		default:
			report.Confidence.Low++
		}
		if m.Confidence < lowConfidenceThreshold {
			report.LowConfidence++
		}
		if len(m.Extra) > 0 {
			withMetadata++
		}

		switch m.Status {
		case models.StatusActive:
			report.ActiveMemories++
			if m.Expired(now) {
				// Overdue but not yet swept.
				report.ExpiredCount++
			}
		case models.StatusExpired:
			report.ExpiredCount++
		case models.StatusConflicted:
			report.ConflictedCount++
		case models.StatusDeprecated:
			report.DeprecatedCount++
		}
	}

	if report.TotalMemories > 0 {
		report.AverageConf = float64(confSum) / float64(report.TotalMemories)
		report.MetadataCoverage = float64(withMetadata) / float64(report.TotalMemories)
	}
	report.HealthScore = a.healthScore(report)
	report.Recommendations = a.recommendations(report)
	return report
}

// healthScore maps the weighted issue count against the active population to
// a 0..100 score. An empty scope is healthy by definition.
func (a *Auditor) healthScore(r *models.QualityReport) int {
	if r.ActiveMemories == 0 && r.ConflictedCount == 0 {
		return 100
	}
	population := r.ActiveMemories + r.ConflictedCount
	issues := a.weights.Expired*float64(r.ExpiredCount) +
		a.weights.Conflicted*float64(r.ConflictedCount) +
		a.weights.LowConfidence*float64(r.LowConfidence)
	score := (1 - issues/float64(population)) * 100
	return clamp(int(math.Round(score)), 0, 100)
}

func (a *Auditor) recommendations(r *models.QualityReport) []models.Recommendation {
	var recs []models.Recommendation
	if r.ConflictedCount > 0 {
		priority := models.PriorityHigh
		if r.ConflictedCount >= 5 {
			priority = models.PriorityCritical
		}
		recs = append(recs, models.Recommendation{
			Priority: priority,
			Issue:    "conflicting memories present",
			Action:   "run ResolveConflict on each conflict_with group",
		})
	}
	if r.ExpiredCount > 0 {
		recs = append(recs, models.Recommendation{
			Priority: models.PriorityMedium,
			Issue:    "expired memories present",
			Action:   "review expired records and re-save the ones still valid",
		})
	}
	if r.LowConfidence > 0 {
		recs = append(recs, models.Recommendation{
			Priority: models.PriorityLow,
			Issue:    "low-confidence memories present",
			Action:   "verify low-confidence records and re-save with a source",
		})
	}
	if r.TotalMemories > 0 && r.MetadataCoverage < 0.25 {
		recs = append(recs, models.Recommendation{
			Priority: models.PriorityInfo,
			Issue:    "few records carry extra metadata",
			Action:   "attach provenance metadata on save for richer audits",
		})
	}
	if len(recs) == 0 {
		recs = append(recs, models.Recommendation{
			Priority: models.PriorityInfo,
			Issue:    "no issues found",
			Action:   "no action required",
		})
	}
	return recs
}

// Validate builds the per-project validation view.
func (a *Auditor) Validate(projectID string, records []models.MemoryRecord, now time.Time) *models.ValidationReport {
	report := &models.ValidationReport{
		ProjectID:   projectID,
		ValidatedAt: now,
	}

	seenCategories := make(map[models.Category]bool)
	for i := range records {
		m := &records[i]
		report.TotalMemories++
		if !seenCategories[m.Category] {
			seenCategories[m.Category] = true
			report.Categories = append(report.Categories, m.Category)
		}
		switch {
		case m.Confidence >= 8:
			report.Confidence.High++
		case m.Confidence >= 5:
			report.Confidence.Medium++
		default:
			report.Confidence.Low++
		}
		if m.Confidence < lowConfidenceThreshold {
			report.LowConfidence++
		}
		// Unverified knowledge: no source and no strong confidence.
		if m.Source == "" && m.Confidence < 7 {
			report.NeedsValidation++
		}
		if m.Status == models.StatusConflicted {
			report.PotentialConflicts++
		}
	}
	report.PotentialConflicts += nearDuplicatePairs(records)

	if report.PotentialConflicts > 0 {
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Priority: models.PriorityHigh,
			Issue:    "project has unresolved conflicts",
			Action:   "resolve conflicts before relying on project context",
		})
	}
	if report.NeedsValidation > 0 {
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Priority: models.PriorityMedium,
			Issue:    "unverified memories in project context",
			Action:   "confirm unverified records with SaveVerified",
		})
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = append(report.Recommendations, models.Recommendation{
			Priority: models.PriorityInfo,
			Issue:    "project context looks healthy",
			Action:   "no action required",
		})
	}
	return report
}

// nearDuplicatePairs counts pairs of active records whose contents are
// near-identical by word overlap. These slipped past the save-time conflict
// pass, typically restatements of the same fact with different phrasing.
func nearDuplicatePairs(records []models.MemoryRecord) int {
	var contents []string
	for i := range records {
		if records[i].Status == models.StatusActive {
			contents = append(contents, records[i].Content)
		}
	}
	pairs := 0
	for i := 0; i < len(contents); i++ {
		for j := i + 1; j < len(contents); j++ {
			if tokenizer.Jaccard(contents[i], contents[j]) >= nearDuplicateThreshold {
				pairs++
			}
		}
	}
	return pairs
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
