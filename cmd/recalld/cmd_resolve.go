package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	var (
		ids    []string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "resolve [correct-content]",
		Short: "Resolve conflicting memories into one consolidated record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			record, err := eng.ResolveConflict(ctx, scopeFromFlags(cmd), ids, args[0], reason)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			eng.DrainCompensation(ctx)

			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return fmt.Errorf("resolve: marshaling JSON: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "conflicting memory id (repeatable, at least one)")
	cmd.Flags().StringVar(&reason, "reason", "", "why this resolution is correct")
	_ = cmd.MarkFlagRequired("id")
	scopeFlags(cmd)
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue memories in the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			eng, err := newEngine(ctx, logger)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			defer func() { _ = eng.Close(ctx) }()

			expired, err := eng.Sweep(ctx, scopeFromFlags(cmd))
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Printf("Expired %d memories.\n", expired)
			return nil
		},
	}

	scopeFlags(cmd)
	return cmd
}
