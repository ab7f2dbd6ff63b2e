package engine

import (
	"context"
	"strings"

	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/internal/project"
	"github.com/recallgraph/recalld/internal/quality"
)

// AuditQuality enumerates the scope and returns its quality report.
func (e *Engine) AuditQuality(ctx context.Context, scope models.Scope) (*models.QualityReport, error) {
	if err := scope.Validate(); err != nil {
		return nil, wrapf(KindInvalidInput, err, "invalid scope")
	}
	records, err := e.listAll(ctx, scope)
	if err != nil {
		return nil, err
	}
	return e.auditor.Audit(scope.String(), records, e.now()), nil
}

// AuditAllScopes audits every scope in the store. Cross-scope reads are an
// operator surface; the call is refused without an operator identity.
func (e *Engine) AuditAllScopes(ctx context.Context, operator string) (*models.GlobalQualityReport, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, errf(KindInvalidInput, "cross-scope audit requires an operator identity")
	}
	res, err := e.throughVector(func() (any, error) {
		return e.ports.Vectors.Scopes(ctx)
	})
	if err != nil {
		return nil, wrapf(KindVectorStoreUnavailable, err, "enumerating scopes")
	}
	scopes := res.([]models.Scope)

	report := &models.GlobalQualityReport{
		Operator:  operator,
		AuditedAt: e.now(),
		Scopes:    make([]models.QualityReport, 0, len(scopes)),
	}
	for _, scope := range scopes {
		sub, err := e.AuditQuality(ctx, scope)
		if err != nil {
			return nil, err
		}
		report.Scopes = append(report.Scopes, *sub)
		report.TotalMemories += sub.TotalMemories
	}
	report.ScopesAudited = len(report.Scopes)
	e.logger.Info("cross-scope audit completed",
		"operator", operator, "scopes", report.ScopesAudited, "memories", report.TotalMemories)
	return report, nil
}

// ValidateProject returns the validation report for one project.
func (e *Engine) ValidateProject(ctx context.Context, scope models.Scope, projectID string) (*models.ValidationReport, error) {
	eff, err := e.projectScope(scope, projectID)
	if err != nil {
		return nil, err
	}
	records, err := e.listAll(ctx, eff)
	if err != nil {
		return nil, err
	}
	return e.auditor.Validate(projectID, records, e.now()), nil
}

// GetProjectState returns the current-state rollup for one project.
func (e *Engine) GetProjectState(ctx context.Context, scope models.Scope, projectID string) (*models.ProjectState, error) {
	eff, err := e.projectScope(scope, projectID)
	if err != nil {
		return nil, err
	}
	records, err := e.listAll(ctx, eff)
	if err != nil {
		return nil, err
	}
	return project.State(projectID, records, e.now()), nil
}

// TrackEvolution returns the project timeline, deprecated and expired
// records included.
func (e *Engine) TrackEvolution(ctx context.Context, scope models.Scope, projectID string, limit int) (*models.Timeline, error) {
	eff, err := e.projectScope(scope, projectID)
	if err != nil {
		return nil, err
	}
	records, err := e.listAll(ctx, eff)
	if err != nil {
		return nil, err
	}
	return project.Evolution(projectID, records, e.now(), limit), nil
}

// projectScope pins the scope to the project, rejecting mismatches between
// the scope's own project and the requested one.
func (e *Engine) projectScope(scope models.Scope, projectID string) (models.Scope, error) {
	if err := scope.Validate(); err != nil {
		return scope, wrapf(KindInvalidInput, err, "invalid scope")
	}
	if projectID == "" {
		return scope, errf(KindInvalidInput, "project id must not be empty")
	}
	if scope.Project != "" && scope.Project != projectID {
		return scope, errf(KindInvalidInput, "scope project %q does not match requested project %q", scope.Project, projectID)
	}
	scope.Project = projectID
	return scope, nil
}

// listAll drains every page of the scope with no filtering: reports need the
// deprecated and expired records the quality filter hides.
func (e *Engine) listAll(ctx context.Context, scope models.Scope) ([]models.MemoryRecord, error) {
	var all []models.MemoryRecord
	cursor := ""
	for {
		res, err := e.throughVector(func() (any, error) {
			records, next, err := e.ports.Vectors.List(ctx, scope, nil, 128, cursor)
			if err != nil {
				return nil, err
			}
			return listPage{records: records, next: next}, nil
		})
		if err != nil {
			return nil, wrapf(KindVectorStoreUnavailable, err, "enumerating scope")
		}
		page := res.(listPage)
		all = append(all, page.records...)
		if page.next == "" {
			return all, nil
		}
		cursor = page.next
	}
}

// AuditWeights returns the configured audit weights. Exposed for status
// endpoints.
func (e *Engine) AuditWeights() quality.Weights { return e.opts.AuditWeights }
