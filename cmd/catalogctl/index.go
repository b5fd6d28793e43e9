package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCreateIndexCmd() *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "create-index",
		Short: "Create the product vector index if it does not exist",
		Long: "Create the product vector index if it does not exist.\n" +
			"With --recreate the valkey index is dropped first, e.g. after changing index.algorithm.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if recreate {
				if err := b.catalog.DropIndex(ctx); err != nil {
					return fmt.Errorf("valkey index: %w", err)
				}
				logger.Info("Index dropped")
			}
			if err := b.catalog.EnsureIndex(ctx); err != nil {
				return fmt.Errorf("valkey index: %w", err)
			}
			if b.qdrant != nil {
				if err := b.qdrant.EnsureIndex(ctx); err != nil {
					return fmt.Errorf("qdrant collection: %w", err)
				}
			}
			logger.Info("Index ready",
				zap.String("driver", cfg.Index.Driver),
				zap.String("algorithm", cfg.Index.Algorithm),
				zap.Int("dimensions", cfg.Embedding.Dimensions),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "drop the valkey index before creating it")
	return cmd
}

func newBumpGenerationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bump-generation",
		Short: "Invalidate cached results on every running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			gen, err := b.catalog.BumpGeneration(ctx)
			if err != nil {
				return err
			}
			logger.Info("Catalog generation bumped", zap.Uint64("generation", gen))
			return nil
		},
	}
}
