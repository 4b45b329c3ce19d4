package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl/dataset"
)

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an incremental sync",
	Long: `Run an incremental sync for the configured datasets.

Each dataset's start date is derived from the newest row already in its
target table (or its epoch when the table is empty); the end date is always
yesterday. Failed days are logged and skipped so they are retried on the
next run; pass --stop-on-error to abort at the first failure instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := etl.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "sync run: migrate")
		}

		engine, err := buildEngine(pool)
		if err != nil {
			return err
		}

		datasetsFlag, _ := cmd.Flags().GetString("datasets")
		stopOnError, _ := cmd.Flags().GetBool("stop-on-error")

		opts := dataset.RunOpts{
			Datasets:    splitDatasets(datasetsFlag),
			StopOnError: stopOnError,
		}

		zap.L().Info("starting sync run",
			zap.Strings("datasets", opts.Datasets),
			zap.Bool("stop_on_error", opts.StopOnError),
		)

		report, err := engine.Run(ctx, opts)
		if report != nil {
			printReport(report)
		}
		if err != nil {
			return eris.Wrap(err, "sync run")
		}
		return nil
	},
}

func init() {
	syncRunCmd.Flags().String("datasets", "", "comma-separated dataset names (e.g., violations,weather)")
	syncRunCmd.Flags().Bool("stop-on-error", false, "abort the run at the first failed day")
	syncCmd.AddCommand(syncRunCmd)
}
