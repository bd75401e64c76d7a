package cli

import (
	"github.com/spf13/cobra"

	"finmonitor/internal/app"
)

var showWithFunds bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current market data as a text dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{
			WithFunds: showWithFunds,
		})
	},
}

func init() {
	showCmd.Flags().BoolVar(&showWithFunds, "funds", true, "Include watched funds in the dashboard")
}
