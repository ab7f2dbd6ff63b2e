package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validRecord() MemoryRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return MemoryRecord{
		ID:         "11111111-2222-3333-4444-555555555555",
		Scope:      Scope{Tenant: "acme", User: "alice"},
		Content:    "The API uses gRPC",
		Category:   CategoryArchitecture,
		Confidence: 8,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Status:     StatusActive,
	}
}

func TestRecordValidate(t *testing.T) {
	rec := validRecord()
	assert.NoError(t, rec.Validate())

	tests := []struct {
		name   string
		mutate func(*MemoryRecord)
	}{
		{"empty id", func(m *MemoryRecord) { m.ID = "" }},
		{"missing tenant", func(m *MemoryRecord) { m.Scope.Tenant = "" }},
		{"unknown category", func(m *MemoryRecord) { m.Category = "opinion" }},
		{"confidence zero", func(m *MemoryRecord) { m.Confidence = 0 }},
		{"confidence eleven", func(m *MemoryRecord) { m.Confidence = 11 }},
		{"unknown status", func(m *MemoryRecord) { m.Status = "archived" }},
		{"version zero", func(m *MemoryRecord) { m.Version = 0 }},
		{"deprecated without successor", func(m *MemoryRecord) { m.Status = StatusDeprecated }},
		{"self supersession", func(m *MemoryRecord) { m.SupersededBy = m.ID }},
		{"scope with separator", func(m *MemoryRecord) { m.Scope.User = "a\x1fb" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.mutate(&rec)
			assert.Error(t, rec.Validate())
		})
	}
}

func TestMilestoneValidate(t *testing.T) {
	rec := validRecord()
	rec.Category = CategoryMilestone
	assert.Error(t, rec.Validate(), "milestone without type")

	rec.MilestoneType = MilestoneSolutionImplemented
	assert.Error(t, rec.Validate(), "milestone without impact level")

	rec.ImpactLevel = 7
	assert.NoError(t, rec.Validate())
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := validRecord()
	assert.False(t, rec.Expired(now), "zero expiry never expires")

	rec.ExpiresAt = now.Add(time.Hour)
	assert.False(t, rec.Expired(now))

	rec.ExpiresAt = now
	assert.True(t, rec.Expired(now), "expiry is inclusive")

	rec.ExpiresAt = now.Add(-time.Hour)
	assert.True(t, rec.Expired(now))
}

func TestCategoryDefaultsComplete(t *testing.T) {
	for _, c := range ValidCategories {
		def, ok := CategoryDefaults[c]
		assert.True(t, ok, "category %s has no defaults", c)
		assert.GreaterOrEqual(t, def.Confidence, 1)
		assert.LessOrEqual(t, def.Confidence, 10)
	}
	assert.Zero(t, CategoryDefaults[CategoryMilestone].TTL, "milestones never expire by default")
	assert.Zero(t, CategoryDefaults[CategoryGeneric].TTL)
}

func TestScopeCanonicalPositional(t *testing.T) {
	flat := Scope{Tenant: "t", User: "u-a"}
	nested := Scope{Tenant: "t", User: "u", Agent: "a"}
	assert.NotEqual(t, flat.Canonical(), nested.Canonical())
}

func TestFiltersMatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	active := validRecord()
	deprecated := validRecord()
	deprecated.Status = StatusDeprecated
	conflicted := validRecord()
	conflicted.Status = StatusConflicted
	overdue := validRecord()
	overdue.ExpiresAt = now.Add(-time.Minute)

	var nilFilters *SearchFilters
	assert.True(t, nilFilters.Matches(&deprecated, now), "nil filters match everything")

	def := &SearchFilters{}
	assert.True(t, def.Matches(&active, now))
	assert.False(t, def.Matches(&deprecated, now))
	assert.False(t, def.Matches(&conflicted, now))
	assert.False(t, def.Matches(&overdue, now), "overdue active records are hidden before the sweep")

	assert.True(t, (&SearchFilters{IncludeDeprecated: true}).Matches(&deprecated, now))
	assert.True(t, (&SearchFilters{IncludeConflicted: true}).Matches(&conflicted, now))
	assert.True(t, (&SearchFilters{IncludeExpired: true}).Matches(&overdue, now))

	// Explicit statuses override the include flags entirely.
	statusOnly := &SearchFilters{Statuses: []Status{StatusConflicted}}
	assert.True(t, statusOnly.Matches(&conflicted, now))
	assert.False(t, statusOnly.Matches(&active, now))

	assert.False(t, (&SearchFilters{MinConfidence: 9}).Matches(&active, now))
	assert.True(t, (&SearchFilters{MinConfidence: 8}).Matches(&active, now))
	assert.False(t, (&SearchFilters{Category: CategoryDecision}).Matches(&active, now))

	tagged := validRecord()
	tagged.Tags = []string{"auth", "grpc"}
	assert.True(t, (&SearchFilters{Tag: "grpc"}).Matches(&tagged, now))
	assert.False(t, (&SearchFilters{Tag: "db"}).Matches(&tagged, now))
}
