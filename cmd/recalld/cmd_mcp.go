package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	recalldmcp "github.com/recallgraph/recalld/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  save_memory               — store a memory with conflict detection
  save_verified_memory      — store a memory with required provenance
  save_project_milestone    — record a typed project milestone
  search_memories           — hybrid vector + graph search
  get_context               — high-confidence active context for a query
  get_all_memories          — paginated listing
  resolve_conflict          — consolidate conflicting memories
  audit_memory_quality      — scope health report
  validate_project_context  — per-project validation report
  get_current_project_state — phase, milestones, latest status
  track_project_evolution   — full timeline with supersession links
  get_entity_relationships  — knowledge-graph neighborhood of an entity
  graph_status              — backend availability flags

The MCP transport serves one principal: the scope tenant and user come from
the --tenant and --user flags, and tools narrow it per call.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()
			eng.Start(ctx)

			srv := recalldmcp.NewServer(eng, scopeFromFlags(cmd), logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: recalld MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	scopeFlags(cmd)
	return cmd
}
