package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/rankings-cli/internal/store"
)

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "List recent ranking imports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		marketCode, _ := cmd.Flags().GetString("market")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		imports, err := st.ListImports(ctx, store.ImportFilter{
			MarketCode: marketCode,
			Status:     status,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "list imports")
		}

		if len(imports) == 0 {
			fmt.Fprintln(os.Stderr, "No imports found.")
			return nil
		}

		formatImportsList(os.Stdout, imports)
		return nil
	},
}

func init() {
	importsCmd.Flags().String("market", "", "filter by market code (US, CA, ...)")
	importsCmd.Flags().String("status", "", "filter by status (running, complete, failed)")
	importsCmd.Flags().Int("limit", 50, "max number of imports to display")
	rootCmd.AddCommand(importsCmd)
}

// formatImportsList writes a tabular list of imports to w.
func formatImportsList(out io.Writer, imports []store.ImportRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMARKET\tSTATUS\tKEYWORDS\tRANKS\tSIZE_KB\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t--------\t-----\t-------\t-------\t--------")

	for _, imp := range imports {
		dur := ""
		if imp.CompletedAt != nil {
			dur = imp.CompletedAt.Sub(imp.StartedAt).Round(time.Second).String()
		}

		status := imp.Status
		if imp.Error != "" {
			msg := imp.Error
			if len(msg) > 40 {
				msg = msg[:37] + "..."
			}
			status += " (" + msg + ")"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(imp.ID),
			imp.MarketCode,
			status,
			imp.KeywordsTotal,
			imp.RanksTotal,
			imp.FileSize/1024,
			imp.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
