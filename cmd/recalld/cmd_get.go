package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recallgraph/recalld/internal/models"
)

func getCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "get [memory-id]",
		Short: "Retrieve a single memory by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			record, err := eng.Get(ctx, scopeFromFlags(cmd), args[0])
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(record, "", "  ")
				if err != nil {
					return fmt.Errorf("get: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("ID:         %s\n", record.ID)
			fmt.Printf("Category:   %s\n", record.Category)
			fmt.Printf("Status:     %s\n", record.Status)
			fmt.Printf("Confidence: %d\n", record.Confidence)
			fmt.Printf("Source:     %s\n", record.Source)
			fmt.Printf("Tags:       %v\n", record.Tags)
			fmt.Printf("Version:    %d\n", record.Version)
			fmt.Printf("Created:    %s\n", record.CreatedAt.Format("2006-01-02 15:04:05"))
			if record.SupersededBy != "" {
				fmt.Printf("Superseded: %s\n", record.SupersededBy)
			}
			if len(record.ConflictWith) > 0 {
				fmt.Printf("Conflicts:  %v\n", record.ConflictWith)
			}
			if record.Degraded {
				fmt.Println("Degraded:   true")
			}
			fmt.Printf("\nContent:\n%s\n", record.Content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	scopeFlags(cmd)
	return cmd
}

func listCmd() *cobra.Command {
	var (
		limit             int
		cursor            string
		includeDeprecated bool
		includeExpired    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories in the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			filters := &models.SearchFilters{
				IncludeDeprecated: includeDeprecated,
				IncludeExpired:    includeExpired,
			}
			records, next, err := eng.GetAll(ctx, scopeFromFlags(cmd), filters, limit, cursor)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			for i := range records {
				r := &records[i]
				fmt.Printf("[%s/%s] conf=%d %s\n", r.Category, r.Status, r.Confidence, truncate(r.Content, 100))
				fmt.Printf("    ID: %s | Created: %s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			if len(records) == 0 {
				fmt.Println("No memories found.")
			}
			if next != "" {
				fmt.Printf("\nNext cursor: %s\n", next)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	cmd.Flags().BoolVar(&includeDeprecated, "include-deprecated", false, "include deprecated records")
	cmd.Flags().BoolVar(&includeExpired, "include-expired", false, "include expired records")
	scopeFlags(cmd)
	return cmd
}
