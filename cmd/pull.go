package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rankings-cli/internal/alert"
	"github.com/sells-group/rankings-cli/internal/pull"
	"github.com/sells-group/rankings-cli/internal/store"
)

var (
	pullMarkets []string
	pullDays    int
	pullFrom    string
	pullTo      string
	pullDryRun  bool
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download and import keyword rankings",
	Long:  "Logs in to the portal, downloads the ranking export for each selected market, and upserts keywords and daily ranks. A failed market is alerted and skipped; the remaining markets still run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days := pullDays
		if days == 0 {
			days = cfg.Pull.Days
		}
		fromDate, toDate, err := dateRange(days, pullFrom, pullTo, time.Now().UTC())
		if err != nil {
			return err
		}

		registry, err := loadMarkets()
		if err != nil {
			return err
		}
		markets, err := registry.Select(pullMarkets)
		if err != nil {
			return err
		}

		client, err := initPortal()
		if err != nil {
			return eris.Wrap(err, "init portal client")
		}

		var st store.Store
		if !pullDryRun {
			st, err = initStore(ctx)
			if err != nil {
				return eris.Wrap(err, "init store")
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		runner := pull.NewRunner(client, st, alert.New(cfg.Alert.WebhookURL))
		runner.InterMarketDelay = cfg.Pull.InterMarketDelay()
		runner.DryRun = pullDryRun

		summary, err := runner.Run(ctx, markets, fromDate, toDate)
		if summary != nil {
			zap.L().Info("pull finished",
				zap.Int("markets", len(summary.Results)),
				zap.Int("failed", summary.FailedCount()),
				zap.Int("keywords", summary.TotalKeywords),
				zap.Int("ranks", summary.TotalRanks),
				zap.Duration("duration", summary.Duration),
			)
		}
		return err
	},
}

// dateRange resolves the export window. Explicit --from/--to win; otherwise
// the window is the trailing N days ending today.
func dateRange(days int, from, to string, now time.Time) (string, string, error) {
	const layout = "2006-01-02"

	toDate := now.Format(layout)
	if to != "" {
		if _, err := time.Parse(layout, to); err != nil {
			return "", "", eris.Wrapf(err, "invalid --to date %q", to)
		}
		toDate = to
	}

	fromDate := now.AddDate(0, 0, -days).Format(layout)
	if from != "" {
		if _, err := time.Parse(layout, from); err != nil {
			return "", "", eris.Wrapf(err, "invalid --from date %q", from)
		}
		fromDate = from
	}

	if fromDate > toDate {
		return "", "", eris.Errorf("date range starts after it ends: %s > %s", fromDate, toDate)
	}
	return fromDate, toDate, nil
}

func init() {
	pullCmd.Flags().StringSliceVar(&pullMarkets, "market", nil, "market codes to pull (default all)")
	pullCmd.Flags().IntVar(&pullDays, "days", 0, "trailing window in days (default from config)")
	pullCmd.Flags().StringVar(&pullFrom, "from", "", "start date YYYY-MM-DD (overrides --days)")
	pullCmd.Flags().StringVar(&pullTo, "to", "", "end date YYYY-MM-DD (default today)")
	pullCmd.Flags().BoolVar(&pullDryRun, "dry-run", false, "download and validate without writing to the database")
	rootCmd.AddCommand(pullCmd)
}
