package models

import "time"

// RecommendationPriority orders audit recommendations.
type RecommendationPriority string

const (
	PriorityCritical RecommendationPriority = "CRITICAL"
	PriorityHigh     RecommendationPriority = "HIGH"
	PriorityMedium   RecommendationPriority = "MEDIUM"
	PriorityLow      RecommendationPriority = "LOW"
	PriorityInfo     RecommendationPriority = "INFO"
)

// Recommendation is one actionable item in a quality report.
type Recommendation struct {
	Priority RecommendationPriority `json:"priority"`
	Issue    string                 `json:"issue"`
	Action   string                 `json:"action"`
}

// ConfidenceDistribution buckets records by confidence band.
type ConfidenceDistribution struct {
	High   int `json:"high"`   // confidence >= 8
	Medium int `json:"medium"` // 5..7
	Low    int `json:"low"`    // < 5
}

// QualityReport is the output of a memory quality audit.
type QualityReport struct {
	AuditScope       string                 `json:"audit_scope"`
	AuditedAt        time.Time              `json:"audited_at"`
	TotalMemories    int                    `json:"total_memories"`
	ActiveMemories   int                    `json:"active_memories"`
	ByStatus         map[Status]int         `json:"by_status"`
	ByCategory       map[Category]int       `json:"by_category"`
	ExpiredCount     int                    `json:"expired_count"`
	ConflictedCount  int                    `json:"conflicted_count"`
	DeprecatedCount  int                    `json:"deprecated_count"`
	LowConfidence    int                    `json:"low_confidence"`
	AverageConf      float64                `json:"average_confidence"`
	MetadataCoverage float64                `json:"metadata_coverage"`
	Confidence       ConfidenceDistribution `json:"confidence_distribution"`
	HealthScore      int                    `json:"health_score"` // 0..100
	Recommendations  []Recommendation       `json:"recommendations"`
}

// GlobalQualityReport is the cross-scope audit view, produced only for an
// operator identity. Each audited scope keeps its own full report.
type GlobalQualityReport struct {
	Operator      string          `json:"operator"`
	AuditedAt     time.Time       `json:"audited_at"`
	ScopesAudited int             `json:"scopes_audited"`
	TotalMemories int             `json:"total_memories"`
	Scopes        []QualityReport `json:"scopes"`
}

// ValidationReport is the per-project validation view.
type ValidationReport struct {
	ProjectID          string                 `json:"project_id"`
	ValidatedAt        time.Time              `json:"validated_at"`
	TotalMemories      int                    `json:"total_memories"`
	LowConfidence      int                    `json:"low_confidence"`
	NeedsValidation    int                    `json:"needs_validation"`
	PotentialConflicts int                    `json:"potential_conflicts"`
	Categories         []Category             `json:"categories_found"`
	Confidence         ConfidenceDistribution `json:"confidence_distribution"`
	Recommendations    []Recommendation       `json:"recommendations"`
}

// ProjectPhase is derived from the milestone count of a project.
type ProjectPhase string

const (
	PhasePlanning   ProjectPhase = "planning"    // 0 milestones
	PhaseInProgress ProjectPhase = "in_progress" // 1-2
	PhaseAdvanced   ProjectPhase = "advanced"    // 3-4
	PhaseMature     ProjectPhase = "mature"      // 5+
)

// MilestoneSummary is a milestone entry in a project state view.
type MilestoneSummary struct {
	ID          string        `json:"id"`
	Type        MilestoneType `json:"type"`
	Content     string        `json:"content"`
	ImpactLevel int           `json:"impact_level"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ProjectState is the current-state rollup for a project.
type ProjectState struct {
	ProjectID        string             `json:"project_id"`
	StateAt          time.Time          `json:"state_at"`
	Phase            ProjectPhase       `json:"phase"`
	TotalActive      int                `json:"total_active_memories"`
	MilestoneCount   int                `json:"milestone_count"`
	RecentMilestones []MilestoneSummary `json:"recent_milestones"`
	LatestStatus     *MemoryRecord      `json:"latest_status,omitempty"`
}

// TimelineEvent is one entry in a project evolution timeline.
type TimelineEvent struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Content       string        `json:"content"`
	Category      Category      `json:"category"`
	Status        Status        `json:"status"`
	Confidence    int           `json:"confidence"`
	Version       int           `json:"version"`
	SupersededBy  string        `json:"superseded_by,omitempty"`
	MilestoneType MilestoneType `json:"milestone_type,omitempty"`
	ImpactLevel   int           `json:"impact_level,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
}

// SupersessionEdge links a deprecated record to its successor in a timeline.
type SupersessionEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TimelineSummary counts milestone kinds and statuses across a timeline.
type TimelineSummary struct {
	ArchitectureDecisions int `json:"architecture_decisions"`
	ProblemsIdentified    int `json:"problems_identified"`
	SolutionsImplemented  int `json:"solutions_implemented"`
	StatusChanges         int `json:"status_changes"`
	DeprecatedEntries     int `json:"deprecated_entries"`
	ActiveEntries         int `json:"active_entries"`
}

// Timeline is the evolution view of a project, including deprecated and
// expired records for history.
type Timeline struct {
	ProjectID string             `json:"project_id"`
	TrackedAt time.Time          `json:"tracked_at"`
	Events    []TimelineEvent    `json:"events"`
	Edges     []SupersessionEdge `json:"edges,omitempty"`
	Summary   TimelineSummary    `json:"summary"`
}

// EntityRelationships describes the graph neighborhood of a named entity.
type EntityRelationships struct {
	Entity             string         `json:"entity"`
	DirectMentions     int            `json:"direct_mentions"`
	RelatedEntities    []string       `json:"related_entities,omitempty"`
	RelationshipTypes  []string       `json:"relationship_types,omitempty"`
	ConnectionStrength float64        `json:"connection_strength"`
	FallbackSearch     bool           `json:"fallback_search,omitempty"`
	Records            []MemoryRecord `json:"records,omitempty"`
}

// Capabilities reports which backends are currently usable.
type Capabilities struct {
	VectorAvailable bool `json:"vector_available"`
	GraphAvailable  bool `json:"graph_available"`
	CacheAvailable  bool `json:"cache_available"`
	EventsAvailable bool `json:"events_available"`
	LocksAvailable  bool `json:"locks_available"`
	ClusterMode     bool `json:"cluster_mode"`
}
