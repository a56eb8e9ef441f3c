package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
)

func newDrainCmd(cfgPath *string) *cobra.Command {
	var (
		batch  int
		reason string
	)
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one retry-queue drain pass and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := buildApp(ctx, loader.Config(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.DrainRetryQueue(ctx, retry.DrainRequest{Reason: reason, BatchSize: batch})
			if err != nil {
				return fmt.Errorf("drain retry queue: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&batch, "batch-size", 0, "records per pass (0 uses retry.batch_size)")
	cmd.Flags().StringVar(&reason, "reason", "cli", "reason recorded in logs and metrics")
	return cmd
}
