// Package mcp implements the Model Context Protocol server for recalld.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/recallgraph/recalld/internal/engine"
	"github.com/recallgraph/recalld/internal/models"
)

// Server wraps an MCPServer with recalld dependencies. The MCP transport is
// single-principal: the tenant and user come from the server's base scope,
// and tools may narrow it with agent, session, and project arguments.
type Server struct {
	mcp       *mcpserver.MCPServer
	engine    *engine.Engine
	baseScope models.Scope
	logger    *slog.Logger
}

// NewServer creates a new MCP server bound to the given base scope.
func NewServer(eng *engine.Engine, baseScope models.Scope, logger *slog.Logger) *Server {
	s := &Server{
		engine:    eng,
		baseScope: baseScope,
		logger:    logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"recalld",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildSaveTool(), s.handleSave)
	mcpSrv.AddTool(buildSaveVerifiedTool(), s.handleSaveVerified)
	mcpSrv.AddTool(buildSaveMilestoneTool(), s.handleSaveMilestone)
	mcpSrv.AddTool(buildSearchTool(), s.handleSearch)
	mcpSrv.AddTool(buildContextTool(), s.handleContext)
	mcpSrv.AddTool(buildGetAllTool(), s.handleGetAll)
	mcpSrv.AddTool(buildResolveTool(), s.handleResolve)
	mcpSrv.AddTool(buildAuditTool(), s.handleAudit)
	mcpSrv.AddTool(buildValidateTool(), s.handleValidate)
	mcpSrv.AddTool(buildProjectStateTool(), s.handleProjectState)
	mcpSrv.AddTool(buildEvolutionTool(), s.handleEvolution)
	mcpSrv.AddTool(buildEntityTool(), s.handleEntity)
	mcpSrv.AddTool(buildStatusTool(), s.handleStatus)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// scopeFrom narrows the base scope with the request's optional arguments.
func (s *Server) scopeFrom(req mcpgo.CallToolRequest) models.Scope {
	scope := s.baseScope
	if v := req.GetString("agent", ""); v != "" {
		scope.Agent = v
	}
	if v := req.GetString("session", ""); v != "" {
		scope.Session = v
	}
	if v := req.GetString("project", ""); v != "" {
		scope.Project = v
	}
	return scope
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// toolError renders an engine error with its stable kind for the caller.
func toolError(err error) *mcpgo.CallToolResult {
	return mcpgo.NewToolResultErrorf("%s: %s", string(engine.KindOf(err)), err.Error())
}

// scopeArgs appends the shared scope-narrowing arguments to a tool.
func scopeArgs() []mcpgo.ToolOption {
	return []mcpgo.ToolOption{
		mcpgo.WithString("agent", mcpgo.Description("Agent identifier to narrow the scope")),
		mcpgo.WithString("session", mcpgo.Description("Session identifier to narrow the scope")),
		mcpgo.WithString("project", mcpgo.Description("Project identifier to narrow the scope")),
	}
}

// --- tool definitions ---

func buildSaveTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Store a memory. Writes to both the vector and graph stores, detects conflicts with existing memories, and returns the content-addressed id."),
		mcpgo.WithString("content",
			mcpgo.Required(),
			mcpgo.Description("The text content to remember"),
		),
		mcpgo.WithString("category",
			mcpgo.Description("Memory category: architecture, problem, solution, status, decision, milestone, or generic (default: generic)"),
		),
		mcpgo.WithNumber("confidence",
			mcpgo.Description("Confidence score 1-10 (default: per-category)"),
		),
		mcpgo.WithString("source",
			mcpgo.Description("Provenance of the memory, e.g. code_review or issue_123"),
		),
		mcpgo.WithString("tags",
			mcpgo.Description("Comma-separated tags"),
		),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("save_memory", opts...)
}

func buildSaveVerifiedTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Store a verified memory. Requires a source and confidence of at least 7."),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("The text content to remember")),
		mcpgo.WithString("category", mcpgo.Description("Memory category (default: generic)")),
		mcpgo.WithNumber("confidence", mcpgo.Required(), mcpgo.Description("Confidence score 7-10")),
		mcpgo.WithString("source", mcpgo.Required(), mcpgo.Description("Provenance of the memory")),
		mcpgo.WithString("tags", mcpgo.Description("Comma-separated tags")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("save_verified_memory", opts...)
}

func buildSaveMilestoneTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Record a project milestone: an architecture decision, identified problem, implemented solution, or status change."),
		mcpgo.WithString("milestone_type",
			mcpgo.Required(),
			mcpgo.Description("One of architecture_decision, problem_identified, solution_implemented, status_change"),
		),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("What happened")),
		mcpgo.WithNumber("impact_level", mcpgo.Description("Impact 1-10 (default: 5)")),
		mcpgo.WithString("tags", mcpgo.Description("Comma-separated tags")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("save_project_milestone", opts...)
}

func buildSearchTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Hybrid search over memories: vector similarity plus graph traversal, ranked by combined score."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The query to search for")),
		mcpgo.WithNumber("k", mcpgo.Description("Maximum number of results (default: 5)")),
		mcpgo.WithNumber("min_confidence", mcpgo.Description("Drop results below this confidence")),
		mcpgo.WithString("category", mcpgo.Description("Restrict to one category")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("search_memories", opts...)
}

func buildContextTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Retrieve high-confidence active context for a query. Excludes deprecated, expired, and conflicted memories."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The query to build context for")),
		mcpgo.WithNumber("min_confidence", mcpgo.Description("Minimum confidence (default: 7)")),
		mcpgo.WithNumber("k", mcpgo.Description("Maximum number of results (default: 5)")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("get_context", opts...)
}

func buildGetAllTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("List memories in the scope with pagination."),
		mcpgo.WithNumber("limit", mcpgo.Description("Page size (default: 100)")),
		mcpgo.WithString("cursor", mcpgo.Description("Pagination cursor from a previous call")),
		mcpgo.WithBoolean("include_deprecated", mcpgo.Description("Include deprecated records")),
		mcpgo.WithBoolean("include_expired", mcpgo.Description("Include expired records")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("get_all_memories", opts...)
}

func buildResolveTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Resolve a group of conflicting memories by writing one consolidated record and deprecating the originals."),
		mcpgo.WithString("ids", mcpgo.Required(), mcpgo.Description("Comma-separated conflicting memory ids")),
		mcpgo.WithString("correct_content", mcpgo.Required(), mcpgo.Description("The consolidated correct content")),
		mcpgo.WithString("reason", mcpgo.Required(), mcpgo.Description("Why this resolution is correct")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("resolve_conflict", opts...)
}

func buildAuditTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Audit memory quality in the scope: health score, status breakdown, and prioritized recommendations."),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("audit_memory_quality", opts...)
}

func buildValidateTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Validate a project's memory context: unverified records, potential conflicts, and confidence distribution."),
		mcpgo.WithString("project", mcpgo.Required(), mcpgo.Description("Project identifier")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("validate_project_context", opts...)
}

func buildProjectStateTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Get the current state of a project: phase, recent milestones, and latest status."),
		mcpgo.WithString("project", mcpgo.Required(), mcpgo.Description("Project identifier")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("get_current_project_state", opts...)
}

func buildEvolutionTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Track project evolution: the full timeline including deprecated and expired memories, with supersession links."),
		mcpgo.WithString("project", mcpgo.Required(), mcpgo.Description("Project identifier")),
		mcpgo.WithNumber("limit", mcpgo.Description("Keep only the newest N events")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("track_project_evolution", opts...)
}

func buildEntityTool() mcpgo.Tool {
	opts := []mcpgo.ToolOption{
		mcpgo.WithDescription("Get the relationships of a named entity from the knowledge graph, falling back to content search when the graph is unavailable."),
		mcpgo.WithString("entity", mcpgo.Required(), mcpgo.Description("Entity name")),
	}
	opts = append(opts, scopeArgs()...)
	return mcpgo.NewTool("get_entity_relationships", opts...)
}

func buildStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("graph_status",
		mcpgo.WithDescription("Report which backends are currently available."),
	)
}

// --- tool handlers ---

func (s *Server) saveRequestFrom(req mcpgo.CallToolRequest) engine.SaveRequest {
	return engine.SaveRequest{
		Content:    req.GetString("content", ""),
		Category:   models.Category(req.GetString("category", "")),
		Confidence: req.GetInt("confidence", 0),
		Source:     req.GetString("source", ""),
		Tags:       splitTags(req.GetString("tags", "")),
	}
}

func (s *Server) handleSave(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	result, err := s.engine.Save(ctx, s.scopeFrom(req), s.saveRequestFrom(req))
	if err != nil {
		return toolError(err), nil
	}
	s.logger.Info("mcp: saved memory", "id", result.ID, "created", result.Created, "status", string(result.Status))
	return toolResultJSON(result)
}

func (s *Server) handleSaveVerified(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	result, err := s.engine.SaveVerified(ctx, s.scopeFrom(req), s.saveRequestFrom(req))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(result)
}

func (s *Server) handleSaveMilestone(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	record, err := s.engine.SaveMilestone(ctx, s.scopeFrom(req), engine.SaveRequest{
		Content:       req.GetString("content", ""),
		MilestoneType: models.MilestoneType(req.GetString("milestone_type", "")),
		ImpactLevel:   req.GetInt("impact_level", 0),
		Tags:          splitTags(req.GetString("tags", "")),
	})
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(record)
}

func (s *Server) handleSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	filters := &models.SearchFilters{
		MinConfidence: req.GetInt("min_confidence", 0),
		Category:      models.Category(req.GetString("category", "")),
	}
	res, err := s.engine.Search(ctx, s.scopeFrom(req), req.GetString("query", ""), req.GetInt("k", 0), filters)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(res)
}

func (s *Server) handleContext(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	res, err := s.engine.GetContext(ctx, s.scopeFrom(req), req.GetString("query", ""),
		req.GetInt("min_confidence", 0), req.GetInt("k", 0))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(res)
}

func (s *Server) handleGetAll(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	filters := &models.SearchFilters{
		IncludeDeprecated: req.GetBool("include_deprecated", false),
		IncludeExpired:    req.GetBool("include_expired", false),
	}
	records, cursor, err := s.engine.GetAll(ctx, s.scopeFrom(req), filters,
		req.GetInt("limit", 0), req.GetString("cursor", ""))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(map[string]any{"records": records, "cursor": cursor})
}

func (s *Server) handleResolve(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	ids := splitTags(req.GetString("ids", ""))
	record, err := s.engine.ResolveConflict(ctx, s.scopeFrom(req), ids,
		req.GetString("correct_content", ""), req.GetString("reason", ""))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(record)
}

func (s *Server) handleAudit(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report, err := s.engine.AuditQuality(ctx, s.scopeFrom(req))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(report)
}

func (s *Server) handleValidate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report, err := s.engine.ValidateProject(ctx, s.scopeFrom(req), req.GetString("project", ""))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(report)
}

func (s *Server) handleProjectState(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	state, err := s.engine.GetProjectState(ctx, s.scopeFrom(req), req.GetString("project", ""))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(state)
}

func (s *Server) handleEvolution(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	timeline, err := s.engine.TrackEvolution(ctx, s.scopeFrom(req), req.GetString("project", ""), req.GetInt("limit", 0))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(timeline)
}

func (s *Server) handleEntity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	report, err := s.engine.GetEntityRelationships(ctx, s.scopeFrom(req), req.GetString("entity", ""))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(report)
}

func (s *Server) handleStatus(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return toolResultJSON(s.engine.Capabilities())
}

// splitTags splits a comma-separated argument, dropping empty entries.
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
