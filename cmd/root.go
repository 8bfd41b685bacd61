package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kueccha/poimap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "poimap",
	Short: "Point-of-interest filter and expiring key-value store",
	Long:  "Loads POIs from spreadsheets, CSV and JSON exports, filters them by category, district, opening status, keyword and viewport, and serves them with a TTL key-value store over HTTP.",
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
