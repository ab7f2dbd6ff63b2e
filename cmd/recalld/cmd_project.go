package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state [project-id]",
		Short: "Show the current state of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("state: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			state, err := eng.GetProjectState(ctx, scopeFromFlags(cmd), args[0])
			if err != nil {
				return fmt.Errorf("state: %w", err)
			}

			fmt.Printf("Project:    %s\n", state.ProjectID)
			fmt.Printf("Phase:      %s\n", state.Phase)
			fmt.Printf("Active:     %d memories, %d milestones\n", state.TotalActive, state.MilestoneCount)
			if state.LatestStatus != nil {
				fmt.Printf("Status:     %s\n", truncate(state.LatestStatus.Content, 100))
			}
			if len(state.RecentMilestones) > 0 {
				fmt.Println("\nRecent milestones:")
				for _, m := range state.RecentMilestones {
					fmt.Printf("  [%s] impact=%d %s\n", m.Type, m.ImpactLevel, truncate(m.Content, 100))
				}
			}
			return nil
		},
	}

	scopeFlags(cmd)
	return cmd
}

func evolutionCmd() *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "evolution [project-id]",
		Short: "Show the full evolution timeline of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("evolution: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			timeline, err := eng.TrackEvolution(ctx, scopeFromFlags(cmd), args[0], limit)
			if err != nil {
				return fmt.Errorf("evolution: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(timeline, "", "  ")
				if err != nil {
					return fmt.Errorf("evolution: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			for _, ev := range timeline.Events {
				marker := " "
				if ev.SupersededBy != "" {
					marker = ">"
				}
				fmt.Printf("%s %s [%s/%s] %s\n", marker, ev.Timestamp.Format("2006-01-02"), ev.Category, ev.Status, truncate(ev.Content, 100))
			}
			fmt.Printf("\nSummary: %d decisions, %d problems, %d solutions, %d status changes (%d active, %d deprecated)\n",
				timeline.Summary.ArchitectureDecisions, timeline.Summary.ProblemsIdentified,
				timeline.Summary.SolutionsImplemented, timeline.Summary.StatusChanges,
				timeline.Summary.ActiveEntries, timeline.Summary.DeprecatedEntries)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "keep only the newest N events")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	scopeFlags(cmd)
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			out, err := json.MarshalIndent(eng.Capabilities(), "", "  ")
			if err != nil {
				return fmt.Errorf("status: marshaling JSON: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	return cmd
}
