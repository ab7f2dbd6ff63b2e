package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recallgraph/recalld/internal/engine"
	"github.com/recallgraph/recalld/internal/models"
)

func saveCmd() *cobra.Command {
	var (
		category   string
		confidence int
		source     string
		tags       []string
		verified   bool
	)

	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Store a memory with conflict detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			req := engine.SaveRequest{
				Content:    args[0],
				Category:   models.Category(category),
				Confidence: confidence,
				Source:     source,
				Tags:       tags,
			}

			op := eng.Save
			if verified {
				op = eng.SaveVerified
			}
			result, err := op(ctx, scopeFromFlags(cmd), req)
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}

			// The CLI mirrors a single API call, so drain any compensation
			// work before exiting.
			eng.DrainCompensation(ctx)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("save: marshaling JSON: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "generic", "memory category (architecture|problem|solution|status|decision|milestone|generic)")
	cmd.Flags().IntVar(&confidence, "confidence", 0, "confidence 1-10 (default: per-category)")
	cmd.Flags().StringVar(&source, "source", "", "provenance of the memory")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().BoolVar(&verified, "verified", false, "require provenance: source set and confidence >= 7")
	scopeFlags(cmd)
	return cmd
}

func milestoneCmd() *cobra.Command {
	var (
		milestoneType string
		impactLevel   int
		tags          []string
	)

	cmd := &cobra.Command{
		Use:   "milestone [content]",
		Short: "Record a typed project milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("milestone: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			record, err := eng.SaveMilestone(ctx, scopeFromFlags(cmd), engine.SaveRequest{
				Content:       args[0],
				MilestoneType: models.MilestoneType(milestoneType),
				ImpactLevel:   impactLevel,
				Tags:          tags,
			})
			if err != nil {
				return fmt.Errorf("milestone: %w", err)
			}
			eng.DrainCompensation(ctx)

			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return fmt.Errorf("milestone: marshaling JSON: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&milestoneType, "type", "", "milestone type (architecture_decision|problem_identified|solution_implemented|status_change)")
	cmd.Flags().IntVar(&impactLevel, "impact", 5, "impact level 1-10")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	scopeFlags(cmd)
	return cmd
}
