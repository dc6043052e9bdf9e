package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rankings-cli/internal/config"
	"github.com/sells-group/rankings-cli/internal/market"
	"github.com/sells-group/rankings-cli/internal/portal"
	"github.com/sells-group/rankings-cli/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rankings-cli",
	Short: "ScaleInsights keyword ranking importer",
	Long:  "Downloads per-marketplace keyword ranking exports from the ScaleInsights portal, reconciles the Organic and Sponsored sheets, and upserts keywords and daily ranks into the database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.SQLitePath)
}

func initPortal() (*portal.Client, error) {
	return portal.NewClient(portal.Options{
		BaseURL:         cfg.Portal.BaseURL,
		Email:           cfg.Portal.Email,
		Password:        cfg.Portal.Password,
		Timeout:         cfg.Portal.Timeout(),
		DownloadTimeout: cfg.Portal.DownloadTimeout(),
		MaxRetries:      cfg.Portal.MaxRetries,
		RequestsPerSec:  cfg.Portal.RequestsPerSec,
	})
}

// loadMarkets returns the configured registry: a YAML file when one is set,
// the built-in marketplace list otherwise.
func loadMarkets() (*market.Registry, error) {
	if cfg.Pull.MarketsFile != "" {
		return market.LoadRegistry(cfg.Pull.MarketsFile)
	}
	return market.DefaultRegistry(), nil
}
