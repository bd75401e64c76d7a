package alert

import (
	"fmt"
	"math"
	"time"
)

// Message renders the human-readable alert body. Pure function of the event.
func Message(ev Event) string {
	switch ev.Type {
	case TypePriceThreshold:
		return fmt.Sprintf(
			"%s价格预警：当前价格 %.2f 元/克，已跌破阈值 %.2f 元/克",
			ev.AssetName, ev.CurrentPrice, ev.Threshold,
		)
	case TypeFundChange:
		return fmt.Sprintf(
			"基金涨跌幅预警：%s(%s) %s %.2f%%，超过阈值 %g%%",
			ev.FundName, ev.FundCode, direction(ev.ChangePercent), math.Abs(ev.ChangePercent), ev.Threshold,
		)
	default:
		return fmt.Sprintf("未知预警类型：%s", ev.Type)
	}
}

// Subject renders the email subject line for an event.
func Subject(ev Event) string {
	switch ev.Type {
	case TypePriceThreshold:
		return fmt.Sprintf("【金融预警】%s价格跌破阈值 %.2f元/克", ev.AssetName, ev.CurrentPrice)
	case TypeFundChange:
		return fmt.Sprintf("【金融预警】%s%s%.2f%%", ev.FundName, direction(ev.ChangePercent), math.Abs(ev.ChangePercent))
	default:
		return "【金融预警】未知预警"
	}
}

// EmailBody renders the full notification mail for an event.
func EmailBody(ev Event) string {
	switch ev.Type {
	case TypePriceThreshold:
		return fmt.Sprintf(`贵金属价格预警通知
==================

预警类型：价格跌破阈值
资产名称：%s
当前价格：%.2f 元/克
预警阈值：%.2f 元/克
预警时间：%s

请及时关注市场动态，做出相应的投资决策。`,
			ev.AssetName, ev.CurrentPrice, ev.Threshold, ev.AlertTime.Format(time.RFC3339))
	case TypeFundChange:
		return fmt.Sprintf(`基金涨跌幅预警通知
==================

预警类型：涨跌幅超过阈值
基金名称：%s
基金代码：%s
当前净值：%.4f
涨跌幅：%s %.2f%%
预警阈值：%g%%
预警时间：%s

请及时关注基金表现，做出相应的投资决策。`,
			ev.FundName, ev.FundCode, ev.CurrentValue,
			direction(ev.ChangePercent), math.Abs(ev.ChangePercent),
			ev.Threshold, ev.AlertTime.Format(time.RFC3339))
	default:
		return Message(ev)
	}
}

func direction(changePercent float64) string {
	if changePercent > 0 {
		return "上涨"
	}
	return "下跌"
}
