package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateGold       float64
	simulateSilver     float64
	simulateFundChange float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次行情并触发完整告警链路",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateGold <= 0 || simulateSilver <= 0 {
			return errors.New("--gold 与 --silver 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateGold, simulateSilver, simulateFundChange)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateGold, "gold", 0, "模拟黄金价格（元/克）")
	simulateCmd.Flags().Float64Var(&simulateSilver, "silver", 0, "模拟白银价格（元/克）")
	simulateCmd.Flags().Float64Var(&simulateFundChange, "fund-change", 0, "模拟基金涨跌幅（%）")
}
