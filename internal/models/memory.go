package models

import (
	"fmt"
	"time"
)

// Category classifies the kind of knowledge a memory holds.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryProblem      Category = "problem"
	CategorySolution     Category = "solution"
	CategoryStatus       Category = "status"
	CategoryDecision     Category = "decision"
	CategoryMilestone    Category = "milestone"
	CategoryGeneric      Category = "generic"
)

// ValidCategories is the set of all valid categories.
var ValidCategories = []Category{
	CategoryArchitecture,
	CategoryProblem,
	CategorySolution,
	CategoryStatus,
	CategoryDecision,
	CategoryMilestone,
	CategoryGeneric,
}

// IsValid returns true if the category is recognized.
func (c Category) IsValid() bool {
	for _, v := range ValidCategories {
		if c == v {
			return true
		}
	}
	return false
}

// CategoryDefault holds the per-category confidence and TTL applied when the
// caller provides neither.
type CategoryDefault struct {
	Confidence int
	TTL        time.Duration // zero = no expiry
}

const day = 24 * time.Hour

// CategoryDefaults maps each category to its default confidence and TTL.
var CategoryDefaults = map[Category]CategoryDefault{
	CategoryArchitecture: {Confidence: 8, TTL: 180 * day},
	CategoryDecision:     {Confidence: 8, TTL: 365 * day},
	CategorySolution:     {Confidence: 7, TTL: 120 * day},
	CategoryProblem:      {Confidence: 6, TTL: 90 * day},
	CategoryStatus:       {Confidence: 6, TTL: 30 * day},
	CategoryMilestone:    {Confidence: 9},
	CategoryGeneric:      {Confidence: 5},
}

// Status is the lifecycle state of a memory record.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusConflicted Status = "conflicted"
	StatusExpired    Status = "expired"
)

// ValidStatuses is the set of all valid statuses.
var ValidStatuses = []Status{StatusActive, StatusDeprecated, StatusConflicted, StatusExpired}

// IsValid returns true if the status is recognized.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// MilestoneType classifies project milestones.
type MilestoneType string

const (
	MilestoneArchitectureDecision MilestoneType = "architecture_decision"
	MilestoneProblemIdentified    MilestoneType = "problem_identified"
	MilestoneSolutionImplemented  MilestoneType = "solution_implemented"
	MilestoneStatusChange         MilestoneType = "status_change"
)

// ValidMilestoneTypes is the set of all valid milestone types.
var ValidMilestoneTypes = []MilestoneType{
	MilestoneArchitectureDecision,
	MilestoneProblemIdentified,
	MilestoneSolutionImplemented,
	MilestoneStatusChange,
}

// IsValid returns true if the milestone type is recognized.
func (mt MilestoneType) IsValid() bool {
	for _, v := range ValidMilestoneTypes {
		if mt == v {
			return true
		}
	}
	return false
}

// Relation is an extracted (source, relation, target) triple owned by a record.
type Relation struct {
	Src  string `json:"src"`
	Type string `json:"type"`
	Dst  string `json:"dst"`
}

// MemoryRecord is the atomic unit of storage. Content is immutable once
// written; updates are modeled as new records that deprecate the predecessor.
type MemoryRecord struct {
	ID           string            `json:"id"`
	Scope        Scope             `json:"scope"`
	Content      string            `json:"content"`
	EmbeddingRef string            `json:"embedding_ref,omitempty"`
	Entities     []string          `json:"entities,omitempty"`
	Relations    []Relation        `json:"relations,omitempty"`
	Category     Category          `json:"category"`
	Confidence   int               `json:"confidence"`
	Source       string            `json:"source,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ExpiresAt    time.Time         `json:"expires_at,omitempty"` // zero = never expires
	Version      int               `json:"version"`
	Status       Status            `json:"status"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	ConflictWith []string          `json:"conflict_with,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`

	// MilestoneType and ImpactLevel are set only when Category is milestone.
	MilestoneType MilestoneType `json:"milestone_type,omitempty"`
	ImpactLevel   int           `json:"impact_level,omitempty"`

	// Degraded marks a record whose dual write never fully completed.
	Degraded bool `json:"degraded,omitempty"`

	// ExtractionFailed marks a record stored with an empty graph payload
	// because the extractor was unavailable at write time.
	ExtractionFailed bool `json:"extraction_failed,omitempty"`
}

// Validate checks the structural invariants of a record.
func (m *MemoryRecord) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	if err := m.Scope.Validate(); err != nil {
		return err
	}
	if !m.Category.IsValid() {
		return fmt.Errorf("invalid category %q", m.Category)
	}
	if m.Confidence < 1 || m.Confidence > 10 {
		return fmt.Errorf("confidence %d out of range 1..10", m.Confidence)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	if m.Version < 1 {
		return fmt.Errorf("version %d must be >= 1", m.Version)
	}
	if m.Status == StatusDeprecated && m.SupersededBy == "" {
		return fmt.Errorf("deprecated record %s has no superseded_by", m.ID)
	}
	if m.SupersededBy == m.ID && m.ID != "" {
		return fmt.Errorf("record %s cites itself as successor", m.ID)
	}
	if m.Category == CategoryMilestone {
		if !m.MilestoneType.IsValid() {
			return fmt.Errorf("invalid milestone_type %q", m.MilestoneType)
		}
		if m.ImpactLevel < 1 || m.ImpactLevel > 10 {
			return fmt.Errorf("impact_level %d out of range 1..10", m.ImpactLevel)
		}
	}
	return nil
}

// Expired reports whether the record's expiry time has passed at the given
// instant. Records without an expiry never expire.
func (m *MemoryRecord) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !m.ExpiresAt.After(now)
}

// ScoredMemory wraps a record with its hybrid retrieval scores.
type ScoredMemory struct {
	Record        MemoryRecord `json:"record"`
	VectorScore   float64      `json:"vector_score"`
	GraphScore    float64      `json:"graph_score"`
	Freshness     float64      `json:"freshness"`
	CombinedScore float64      `json:"combined_score"`
}

// ConflictRef identifies a record the new memory was flagged against.
type ConflictRef struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SaveResult is the outcome of a Save operation.
type SaveResult struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Created   bool          `json:"created"`
	Conflicts []ConflictRef `json:"conflicts,omitempty"`
	Degraded  bool          `json:"degraded"`
}

// SearchResult is the outcome of a hybrid retrieval. Degraded means one
// store leg was unavailable and the results cover only the surviving leg.
type SearchResult struct {
	Results  []ScoredMemory `json:"results"`
	Degraded bool           `json:"degraded"`
}

// SearchFilters narrows search and list operations.
type SearchFilters struct {
	Statuses          []Status `json:"statuses,omitempty"`
	MinConfidence     int      `json:"min_confidence,omitempty"`
	Category          Category `json:"category,omitempty"`
	Tag               string   `json:"tag,omitempty"`
	IncludeDeprecated bool     `json:"include_deprecated,omitempty"`
	IncludeExpired    bool     `json:"include_expired,omitempty"`
	IncludeConflicted bool     `json:"include_conflicted,omitempty"`
}

// Matches applies the quality filter predicate to a record.
func (f *SearchFilters) Matches(m *MemoryRecord, now time.Time) bool {
	if f == nil {
		return true
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if m.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.Status == StatusDeprecated && !f.IncludeDeprecated && len(f.Statuses) == 0 {
		return false
	}
	if (m.Status == StatusExpired || m.Expired(now)) && !f.IncludeExpired && len(f.Statuses) == 0 {
		return false
	}
	if m.Status == StatusConflicted && !f.IncludeConflicted && len(f.Statuses) == 0 {
		return false
	}
	if f.MinConfidence > 0 && m.Confidence < f.MinConfidence {
		return false
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range m.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
