// Package project builds the project-state and evolution rollups from the
// records of one project scope. Like the quality reports, these are pure
// functions over already-enumerated records.
package project

import (
	"sort"
	"time"

	"github.com/recallgraph/recalld/internal/models"
)

// defaultRecentMilestones is how many milestones the state view returns.
const defaultRecentMilestones = 5

// Phase derives the project phase from its milestone count.
func Phase(milestones int) models.ProjectPhase {
	switch {
	case milestones == 0:
		return models.PhasePlanning
	case milestones <= 2:
		return models.PhaseInProgress
	case milestones <= 4:
		return models.PhaseAdvanced
	default:
		return models.PhaseMature
	}
}

// State computes the current-state rollup: phase, recent milestones, and the
// latest status record. Only active records contribute.
func State(projectID string, records []models.MemoryRecord, now time.Time) *models.ProjectState {
	state := &models.ProjectState{
		ProjectID: projectID,
		StateAt:   now,
	}

	var milestones []models.MemoryRecord
	var latestStatus *models.MemoryRecord
	for i := range records {
		m := &records[i]
		if m.Status != models.StatusActive {
			continue
		}
		state.TotalActive++
		switch m.Category {
		case models.CategoryMilestone:
			milestones = append(milestones, *m)
		case models.CategoryStatus:
			if latestStatus == nil || m.CreatedAt.After(latestStatus.CreatedAt) {
				copied := *m
				latestStatus = &copied
			}
		}
	}

	sort.Slice(milestones, func(i, j int) bool {
		if !milestones[i].CreatedAt.Equal(milestones[j].CreatedAt) {
			return milestones[i].CreatedAt.After(milestones[j].CreatedAt)
		}
		return milestones[i].ID < milestones[j].ID
	})
	state.MilestoneCount = len(milestones)
	state.Phase = Phase(len(milestones))
	state.LatestStatus = latestStatus

	recent := milestones
	if len(recent) > defaultRecentMilestones {
		recent = recent[:defaultRecentMilestones]
	}
	for _, m := range recent {
		state.RecentMilestones = append(state.RecentMilestones, models.MilestoneSummary{
			ID:          m.ID,
			Type:        m.MilestoneType,
			Content:     m.Content,
			ImpactLevel: m.ImpactLevel,
			CreatedAt:   m.CreatedAt,
		})
	}
	return state
}

// Evolution builds the full project timeline, including deprecated and
// expired records for history, ordered by created_at ascending. Supersession
// links become explicit edges. A positive limit keeps only the newest events.
func Evolution(projectID string, records []models.MemoryRecord, now time.Time, limit int) *models.Timeline {
	timeline := &models.Timeline{
		ProjectID: projectID,
		TrackedAt: now,
	}

	sorted := append([]models.MemoryRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}

	for _, m := range sorted {
		timeline.Events = append(timeline.Events, models.TimelineEvent{
			ID:            m.ID,
			Timestamp:     m.CreatedAt,
			Content:       m.Content,
			Category:      m.Category,
			Status:        m.Status,
			Confidence:    m.Confidence,
			Version:       m.Version,
			SupersededBy:  m.SupersededBy,
			MilestoneType: m.MilestoneType,
			ImpactLevel:   m.ImpactLevel,
			Tags:          m.Tags,
		})
		if m.SupersededBy != "" {
			timeline.Edges = append(timeline.Edges, models.SupersessionEdge{
				From: m.ID,
				To:   m.SupersededBy,
			})
		}

		switch m.MilestoneType {
		case models.MilestoneArchitectureDecision:
			timeline.Summary.ArchitectureDecisions++
		case models.MilestoneProblemIdentified:
			timeline.Summary.ProblemsIdentified++
		case models.MilestoneSolutionImplemented:
			timeline.Summary.SolutionsImplemented++
		case models.MilestoneStatusChange:
			timeline.Summary.StatusChanges++
		}
		switch m.Status {
		case models.StatusDeprecated:
			timeline.Summary.DeprecatedEntries++
		case models.StatusActive:
			timeline.Summary.ActiveEntries++
		}
	}
	return timeline
}
