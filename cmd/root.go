package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biodt/soilgrids-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "soilgrids-cli",
	Short: "Soil input data for the Grassmind grassland model",
	Long:  "Retrieves soil texture from the SoilGrids REST API and hydraulic properties from the HiHydroSoil v2.0 maps for one coordinate and writes a Grassmind soil data file.",
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
