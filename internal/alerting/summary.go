package alerting

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"finmonitor/internal/market"
)

// SummarySubject 渲染日报主题。
func SummarySubject(now time.Time) string {
	return fmt.Sprintf("金融监控系统日报 - %s", now.Format("2006-01-02"))
}

// SummaryBody 渲染日报正文。纯函数，便于单测。
func SummaryBody(metals map[string]market.MetalSnapshot, funds map[string]market.FundSnapshot, recipientCount int, now time.Time) string {
	var b strings.Builder

	b.WriteString("金融价格监控系统日报\n==================\n\n")
	fmt.Fprintf(&b, "报告时间：%s\n\n【贵金属价格】\n", now.Format("2006-01-02 15:04:05"))

	writeMetal := func(label string, snapshot market.MetalSnapshot) {
		fmt.Fprintf(&b, "%s(%s)\n", label, snapshot.Name)
		fmt.Fprintf(&b, "- 当前价格：%.2f 元/克\n", snapshot.CurrentPrice)
		fmt.Fprintf(&b, "- 开盘价：%.2f 元/克\n", snapshot.OpenPrice)
		fmt.Fprintf(&b, "- 最高价：%.2f 元/克\n", snapshot.HighPrice)
		fmt.Fprintf(&b, "- 最低价：%.2f 元/克\n", snapshot.LowPrice)
		fmt.Fprintf(&b, "- 涨跌幅：%s\n", snapshot.ChangePercentStr)
		fmt.Fprintf(&b, "- 更新时间：%s\n", snapshot.UpdateTime)
	}

	if gold, ok := metals["gold"]; ok {
		writeMetal("黄金", gold)
	}
	if silver, ok := metals["silver"]; ok {
		writeMetal("白银", silver)
	}

	b.WriteString("\n【基金涨跌幅】\n")
	for code, snapshot := range funds {
		if snapshot.Failed() {
			fmt.Fprintf(&b, "%s: 获取失败 - %s\n", code, snapshot.Err)
			continue
		}
		arrow := "-"
		if snapshot.ChangePercent > 0 {
			arrow = "↑"
		} else if snapshot.ChangePercent < 0 {
			arrow = "↓"
		}
		fmt.Fprintf(&b, "%s(%s): 净值 %.4f, 涨跌幅 %s %.2f%%\n",
			snapshot.Name, code, snapshot.EstimatedValue, arrow, math.Abs(snapshot.ChangePercent))
	}

	b.WriteString("\n【系统状态】\n")
	fmt.Fprintf(&b, "监控基金数量：%d\n", len(funds))
	fmt.Fprintf(&b, "邮件接收人数：%d\n", recipientCount)
	b.WriteString("\n金融价格监控系统\n")

	return b.String()
}

// SendSummary 给所有收件人推送日报。
func (n *EmailNotifier) SendSummary(ctx context.Context, recipients []string, metals map[string]market.MetalSnapshot, funds map[string]market.FundSnapshot) error {
	now := n.nowFn()
	return n.Notify(ctx, recipients, SummarySubject(now), SummaryBody(metals, funds, len(recipients), now))
}
