package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dc-etl",
	Short: "DC moving-violations data pipeline",
	Long:  "Incrementally syncs DC moving-violation records from the DC GIS MapServer and daily weather observations from Visual Crossing into etl.* Postgres tables.",
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
