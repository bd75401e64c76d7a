package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"finmonitor/internal/config"
)

// Show prints a one-shot text dashboard of current market data.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	metals := a.newMetalFetcher()
	cache := a.newRateCache()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	quotes, err := metals.FetchMetals(ctx)
	if err != nil {
		fmt.Fprintf(os.Stdout, "贵金属行情获取失败: %v\n", err)
	} else {
		fmt.Fprintln(writer, "品种\t当前价\t开盘价\t最高价\t最低价\t涨跌幅\t更新时间\t来源")
		for _, key := range []string{"gold", "silver"} {
			quote, found := quotes[key]
			if !found {
				continue
			}
			fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\t%s\n",
				quote.Name, quote.Price, quote.OpenPrice, quote.HighPrice, quote.LowPrice,
				quote.ChangePercent, quote.UpdateTime, quote.Source)
		}
		writer.Flush()
	}

	if opts.WithFunds {
		lists, err := config.NewWatchlists(a.Config.Funds.ListPath, a.Config.Email.ListPath, a.Logger)
		if err != nil {
			return err
		}
		codes := lists.FundCodes()
		if len(codes) == 0 {
			fmt.Fprintln(os.Stdout, "未配置基金代码")
		} else {
			funds := a.newFundFetcher()
			results := funds.FetchFunds(ctx, codes)

			fmt.Fprintln(writer, "基金\t代码\t净值\t估值\t涨跌幅")
			for _, code := range codes {
				result := results[code]
				if result.Err != nil {
					fmt.Fprintf(writer, "-\t%s\t获取失败: %v\t\t\n", code, result.Err)
					continue
				}
				q := result.Quote
				fmt.Fprintf(writer, "%s\t%s\t%.4f\t%.4f\t%.2f%%\n",
					q.Name, q.Code, q.NetValue, q.EstimatedValue, q.ChangePercent)
			}
			writer.Flush()
		}
	}

	info := cache.Info()
	fmt.Fprintf(os.Stdout, "\n美元/人民币汇率: %.4f (来源: %s", info.Rate, info.Source)
	if info.LastUpdate != nil {
		fmt.Fprintf(os.Stdout, ", 更新于 %s", *info.LastUpdate)
	}
	fmt.Fprintln(os.Stdout, ")")
	return nil
}
