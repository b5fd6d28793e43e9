// Command catalogctl manages the product catalog the adtokens API serves:
// index creation, bulk loading and generation bumps.
//
// Использование:
//
//	catalogctl --env prod create-index
//	catalogctl --env prod load products.json
//	catalogctl --env prod bump-generation
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/config"
	dbValkey "github.com/kailas-cloud/adtokens/internal/db/valkey"
	logpkg "github.com/kailas-cloud/adtokens/internal/logger"
	catalogrepo "github.com/kailas-cloud/adtokens/internal/repository/catalog"
	qdrantrepo "github.com/kailas-cloud/adtokens/internal/repository/qdrant"
	"github.com/kailas-cloud/adtokens/internal/version"
)

var (
	envName string
	timeout time.Duration

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "catalogctl",
	Short:         "Manage the adtokens product catalog",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if envName == "" {
			envName = config.GetEnv()
		}
		var err error
		cfg, err = config.Load(envName)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logpkg.NewLogger(envName, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "config environment (default: $ENV or local)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall command timeout")

	rootCmd.AddCommand(newCreateIndexCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newBumpGenerationCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// backends holds the stores a command talks to. qdrant is nil unless
// index.driver is qdrant.
type backends struct {
	store   *dbValkey.Store
	catalog *catalogrepo.Repo
	qdrant  *qdrantrepo.Repo
}

func (b *backends) Close() {
	if b.qdrant != nil {
		_ = b.qdrant.Close()
	}
	b.store.Close()
}

func connect(ctx context.Context) (*backends, error) {
	store, err := dbValkey.NewStore(dbValkey.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}

	b := &backends{
		store: store,
		catalog: catalogrepo.New(store, cfg.Embedding.Dimensions).WithIndex(catalogrepo.IndexConfig{
			Flat:        cfg.Index.Algorithm == "flat",
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		}),
	}
	if cfg.Index.Driver == "qdrant" {
		q, err := qdrantrepo.New(qdrantrepo.Config{
			URL:        cfg.Index.Qdrant.URL,
			Collection: cfg.Index.Qdrant.Collection,
			APIKey:     cfg.Index.Qdrant.APIKey,
			VectorDim:  cfg.Embedding.Dimensions,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create qdrant index: %w", err)
		}
		b.qdrant = q
	}
	return b, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
