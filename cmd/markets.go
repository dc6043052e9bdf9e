package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/rankings-cli/internal/market"
)

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List configured marketplaces",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := loadMarkets()
		if err != nil {
			return err
		}
		formatMarketsList(os.Stdout, registry.All())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(marketsCmd)
}

func formatMarketsList(out io.Writer, markets []market.Market) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tPORTAL\tMARKETPLACE_ID\tMIN_SIZE_KB")
	_, _ = fmt.Fprintln(w, "----\t------\t--------------\t-----------")
	for _, m := range markets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", m.Code, m.PortalCode, m.MarketplaceID, m.MinFileSize/1024)
	}
	_ = w.Flush()
}
