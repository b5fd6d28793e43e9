package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	openaiEmb "github.com/kailas-cloud/adtokens/internal/transport/openai"
)

// record is one product in a load file. Vector is optional when --embed is set.
type record struct {
	product.Product
	Vector []float32 `json:"vector,omitempty"`
}

func newLoadCmd() *cobra.Command {
	var (
		batchSize int
		embed     bool
		noBump    bool
	)

	cmd := &cobra.Command{
		Use:   "load <products.json>",
		Short: "Upsert products from a JSON array file",
		Long: `Load reads a JSON array of products and upserts them into the index.
Records without a vector are embedded from title and description when --embed is set.
The catalog generation is bumped afterwards so running instances drop cached results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			products, err := readProducts(args[0])
			if err != nil {
				return err
			}
			if embed {
				if err := embedMissing(ctx, products); err != nil {
					return err
				}
			}

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			upsert := b.catalog.Upsert
			if b.qdrant != nil {
				upsert = b.qdrant.Upsert
			}
			for start := 0; start < len(products); start += batchSize {
				end := min(start+batchSize, len(products))
				if err := upsert(ctx, products[start:end]...); err != nil {
					return fmt.Errorf("batch %d-%d: %w", start, end, err)
				}
				logger.Debug("Batch upserted", zap.Int("from", start), zap.Int("to", end))
			}
			logger.Info("Products loaded", zap.Int("count", len(products)), zap.String("driver", cfg.Index.Driver))

			if noBump {
				return nil
			}
			gen, err := b.catalog.BumpGeneration(ctx)
			if err != nil {
				return err
			}
			logger.Info("Catalog generation bumped", zap.Uint64("generation", gen))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "products per upsert round-trip")
	cmd.Flags().BoolVar(&embed, "embed", false, "embed records that have no vector")
	cmd.Flags().BoolVar(&noBump, "no-bump", false, "skip the generation bump")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <product-id>...",
		Short: "Remove products from the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if b.qdrant != nil {
				if err := b.qdrant.Delete(ctx, args...); err != nil {
					return err
				}
			} else {
				for _, id := range args {
					if err := b.catalog.Delete(ctx, id); err != nil {
						return err
					}
				}
			}
			gen, err := b.catalog.BumpGeneration(ctx)
			if err != nil {
				return err
			}
			logger.Info("Products deleted", zap.Int("count", len(args)), zap.Uint64("generation", gen))
			return nil
		},
	}
}

func readProducts(path string) ([]*product.Product, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	products := make([]*product.Product, len(records))
	for i := range records {
		p := records[i].Product
		p.Vector = records[i].Vector
		if p.ID == "" {
			return nil, domain.InvalidInput("record %d: id is required", i)
		}
		products[i] = &p
	}
	return products, nil
}

// embedMissing fills vectors for products loaded without one.
func embedMissing(ctx context.Context, products []*product.Product) error {
	embedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	embedded := 0
	for _, p := range products {
		if len(p.Vector) > 0 {
			continue
		}
		res, err := embedder.Embed(ctx, embeddingText(p))
		if err != nil {
			return fmt.Errorf("embed %s: %w", p.ID, err)
		}
		p.Vector = res.Embedding
		embedded++
	}
	logger.Info("Embedded products", zap.Int("count", embedded))
	return nil
}

func embeddingText(p *product.Product) string {
	text := p.Title
	if p.Brand != "" {
		text = p.Brand + " " + text
	}
	if p.Description != "" {
		text += ". " + p.Description
	}
	return text
}
