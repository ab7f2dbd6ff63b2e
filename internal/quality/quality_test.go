package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallgraph/recalld/internal/models"
)

var auditTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(id string, status models.Status, confidence int) models.MemoryRecord {
	return models.MemoryRecord{
		ID:         id,
		Scope:      models.Scope{Tenant: "acme", User: "alice"},
		Content:    "content " + id,
		Category:   models.CategoryGeneric,
		Confidence: confidence,
		Status:     status,
		Version:    1,
		CreatedAt:  auditTime.Add(-time.Hour),
	}
}

func TestAuditEmptyScope(t *testing.T) {
	a := NewAuditor(DefaultWeights())
	report := a.Audit("acme/alice", nil, auditTime)

	assert.Equal(t, 100, report.HealthScore)
	assert.Zero(t, report.TotalMemories)
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, models.PriorityInfo, report.Recommendations[0].Priority)
}

func TestAuditHealthyScope(t *testing.T) {
	a := NewAuditor(DefaultWeights())
	report := a.Audit("acme/alice", []models.MemoryRecord{
		rec("a", models.StatusActive, 9),
		rec("b", models.StatusActive, 8),
	}, auditTime)

	assert.Equal(t, 100, report.HealthScore)
	assert.Equal(t, 2, report.ActiveMemories)
	assert.Equal(t, 2, report.Confidence.High)
	assert.InDelta(t, 8.5, report.AverageConf, 1e-9)
}

func TestAuditCountsAndScore(t *testing.T) {
	a := NewAuditor(DefaultWeights())

	records := []models.MemoryRecord{
		rec("a", models.StatusActive, 9),
		rec("b", models.StatusActive, 6),
		rec("c", models.StatusConflicted, 7),
		rec("d", models.StatusExpired, 3),
		rec("e", models.StatusDeprecated, 5),
	}
	records[4].SupersededBy = "a"
	report := a.Audit("acme/alice", records, auditTime)

	assert.Equal(t, 5, report.TotalMemories)
	assert.Equal(t, 2, report.ActiveMemories)
	assert.Equal(t, 1, report.ConflictedCount)
	assert.Equal(t, 1, report.ExpiredCount)
	assert.Equal(t, 1, report.DeprecatedCount)
	assert.Equal(t, 1, report.LowConfidence)
	assert.Equal(t, 1, report.Confidence.High)
	assert.Equal(t, 3, report.Confidence.Medium)
	assert.Equal(t, 1, report.Confidence.Low)

	// issues = 1*1.0 + 1*1.5 + 1*0.5 = 3 over a population of 3.
	assert.Equal(t, 0, report.HealthScore)
}

func TestAuditOverdueActiveCountsAsExpired(t *testing.T) {
	a := NewAuditor(DefaultWeights())

	overdue := rec("a", models.StatusActive, 8)
	overdue.ExpiresAt = auditTime.Add(-time.Minute)
	report := a.Audit("acme/alice", []models.MemoryRecord{overdue}, auditTime)

	assert.Equal(t, 1, report.ExpiredCount)
	assert.Less(t, report.HealthScore, 100)
}

func TestAuditRecommendationPriorities(t *testing.T) {
	a := NewAuditor(DefaultWeights())

	var records []models.MemoryRecord
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		records = append(records, rec(id, models.StatusConflicted, 7))
	}
	report := a.Audit("acme/alice", records, auditTime)

	require.NotEmpty(t, report.Recommendations)
	assert.Equal(t, models.PriorityCritical, report.Recommendations[0].Priority,
		"5+ conflicts escalate to critical")

	report = a.Audit("acme/alice", records[:1], auditTime)
	assert.Equal(t, models.PriorityHigh, report.Recommendations[0].Priority)
}

func TestAuditMetadataCoverage(t *testing.T) {
	a := NewAuditor(DefaultWeights())

	withMeta := rec("a", models.StatusActive, 8)
	withMeta.Extra = map[string]string{"source_commit": "abc123"}
	report := a.Audit("acme/alice", []models.MemoryRecord{
		withMeta,
		rec("b", models.StatusActive, 8),
	}, auditTime)

	assert.InDelta(t, 0.5, report.MetadataCoverage, 1e-9)
}

func TestValidate(t *testing.T) {
	a := NewAuditor(DefaultWeights())

	unverified := rec("a", models.StatusActive, 5)
	verified := rec("b", models.StatusActive, 5)
	verified.Source = "design-doc"
	strong := rec("c", models.StatusActive, 8)
	conflicted := rec("d", models.StatusConflicted, 7)
	conflicted.Category = models.CategoryDecision

	report := a.Validate("apollo", []models.MemoryRecord{unverified, verified, strong, conflicted}, auditTime)

	assert.Equal(t, "apollo", report.ProjectID)
	assert.Equal(t, 4, report.TotalMemories)
	assert.Equal(t, 1, report.NeedsValidation, "no source and confidence < 7")
	assert.Equal(t, 1, report.PotentialConflicts)
	assert.ElementsMatch(t,
		[]models.Category{models.CategoryGeneric, models.CategoryDecision},
		report.Categories)

	require.NotEmpty(t, report.Recommendations)
	assert.Equal(t, models.PriorityHigh, report.Recommendations[0].Priority)
}

func TestValidateCountsNearDuplicates(t *testing.T) {
	a := NewAuditor(DefaultWeights())

	first := rec("a", models.StatusActive, 8)
	first.Content = "The deploy pipeline runs on Jenkins nightly"
	second := rec("b", models.StatusActive, 8)
	second.Content = "Deploy pipeline runs on Jenkins every nightly build"
	unrelated := rec("c", models.StatusActive, 8)
	unrelated.Content = "Billing invoices close on the first of the month"

	report := a.Validate("apollo", []models.MemoryRecord{first, second, unrelated}, auditTime)
	assert.Equal(t, 1, report.PotentialConflicts, "restated active facts count as one pair")
	require.NotEmpty(t, report.Recommendations)
	assert.Equal(t, models.PriorityHigh, report.Recommendations[0].Priority)
}

func TestValidateHealthyProject(t *testing.T) {
	a := NewAuditor(DefaultWeights())
	report := a.Validate("apollo", []models.MemoryRecord{rec("a", models.StatusActive, 9)}, auditTime)

	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, models.PriorityInfo, report.Recommendations[0].Priority)
}
