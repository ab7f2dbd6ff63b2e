package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit memory quality in the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			// --operator switches to the cross-scope audit.
			if operator != "" {
				global, err := eng.AuditAllScopes(ctx, operator)
				if err != nil {
					return fmt.Errorf("audit: %w", err)
				}
				out, err := json.MarshalIndent(global, "", "  ")
				if err != nil {
					return fmt.Errorf("audit: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			report, err := eng.AuditQuality(ctx, scopeFromFlags(cmd))
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}

			fmt.Printf("Scope:        %s\n", report.AuditScope)
			fmt.Printf("Health score: %d/100\n", report.HealthScore)
			fmt.Printf("Total:        %d (active %d, conflicted %d, deprecated %d, expired %d)\n",
				report.TotalMemories, report.ActiveMemories, report.ConflictedCount,
				report.DeprecatedCount, report.ExpiredCount)
			fmt.Printf("Confidence:   avg %.1f (high %d / medium %d / low %d)\n",
				report.AverageConf, report.Confidence.High, report.Confidence.Medium, report.Confidence.Low)
			fmt.Println("\nRecommendations:")
			for _, rec := range report.Recommendations {
				fmt.Printf("  [%s] %s: %s\n", rec.Priority, rec.Issue, rec.Action)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "audit every scope as this operator identity")
	scopeFlags(cmd)
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [project-id]",
		Short: "Validate a project's memory context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			report, err := eng.ValidateProject(ctx, scopeFromFlags(cmd), args[0])
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("validate: marshaling JSON: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	scopeFlags(cmd)
	return cmd
}
