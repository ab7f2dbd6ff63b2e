package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recallgraph/recalld/internal/models"
)

func searchCmd() *cobra.Command {
	var (
		k             int
		minConfidence int
		category      string
		tag           string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Hybrid search across the vector and graph stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			filters := &models.SearchFilters{
				MinConfidence: minConfidence,
				Category:      models.Category(category),
				Tag:           tag,
			}
			res, err := eng.Search(ctx, scopeFromFlags(cmd), args[0], k, filters)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			printScored(res)
			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 10, "max results")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "drop results below this confidence")
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	cmd.Flags().StringVar(&tag, "tag", "", "restrict to one tag")
	scopeFlags(cmd)
	return cmd
}

func contextCmd() *cobra.Command {
	var (
		k             int
		minConfidence int
	)

	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Retrieve high-confidence active context for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			res, err := eng.GetContext(ctx, scopeFromFlags(cmd), args[0], minConfidence, k)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}

			printScored(res)
			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 0, "max results (default: 5)")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "minimum confidence (default: 7)")
	scopeFlags(cmd)
	return cmd
}

func printScored(res *models.SearchResult) {
	if res.Degraded {
		fmt.Println("WARNING: one store was unavailable; results are partial.")
	}
	for i := range res.Results {
		r := &res.Results[i]
		fmt.Printf("[%d] (%.4f) [%s/%s] %s\n", i+1, r.CombinedScore, r.Record.Category, r.Record.Status, truncate(r.Record.Content, 120))
		fmt.Printf("    ID: %s | Confidence: %d | vec=%.3f graph=%.3f fresh=%.3f\n",
			r.Record.ID, r.Record.Confidence, r.VectorScore, r.GraphScore, r.Freshness)
	}
	if len(res.Results) == 0 {
		fmt.Println("No results found.")
	}
}
