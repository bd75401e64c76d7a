package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"finmonitor/internal/app"
)

var (
	exportAsset     string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored price series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportAsset == "" {
			return fmt.Errorf("--asset is required (gold, silver, or a fund code)")
		}

		return getApp().Export(app.ExportOptions{
			Asset:     exportAsset,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportAsset, "asset", "", "Series to export: gold, silver, or a fund code")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
