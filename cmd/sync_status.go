package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl"
)

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync log",
	Long:  "Displays the most recent sync runs for all datasets, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := etl.NewSyncLog(pool).Recent(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "sync status")
		}

		if len(entries) == 0 {
			zap.L().Info("no sync entries found, run 'sync run' to start syncing")
			return nil
		}

		formatStatusEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	syncStatusCmd.Flags().Int("limit", 20, "maximum entries to show")
	syncCmd.AddCommand(syncStatusCmd)
}

// formatStatusEntries writes a tabular representation of sync entries to w.
func formatStatusEntries(out io.Writer, entries []etl.SyncEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATASET\tSTATUS\tSTARTED\tDURATION\tROWS\tRANGE\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t------\t-------\t--------\t----\t-----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		rng := "-"
		if e.RangeStart != nil && e.RangeEnd != nil {
			rng = e.RangeStart.Format("2006-01-02") + ".." + e.RangeEnd.Format("2006-01-02")
		}

		errMsg := ""
		if e.Error != "" {
			errMsg = truncate(e.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Dataset,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsSynced,
			rng,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
