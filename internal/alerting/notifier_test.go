package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"finmonitor/internal/market"
)

func newTestNotifier(deliver func(ctx context.Context, recipient, subject, body string) error) *EmailNotifier {
	n := NewEmailNotifier(EmailOptions{
		SMTPHost:      "smtp.example.com",
		SMTPPort:      465,
		Sender:        "alerts@example.com",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, zerolog.Nop())
	n.deliver = deliver
	return n
}

func TestNotifyDeduplicatesWithinHour(t *testing.T) {
	var delivered int
	n := newTestNotifier(func(ctx context.Context, recipient, subject, body string) error {
		delivered++
		return nil
	})

	recipients := []string{"a@example.com"}
	if err := n.Notify(context.Background(), recipients, "预警", "正文"); err != nil {
		t.Fatalf("首次发送不应失败: %v", err)
	}
	if err := n.Notify(context.Background(), recipients, "预警", "正文"); err != nil {
		t.Fatalf("重复发送应被跳过而非报错: %v", err)
	}

	if delivered != 1 {
		t.Fatalf("同一小时同主题应只投递一次, 实际 %d", delivered)
	}
	if n.SentCount(24) != 1 {
		t.Fatalf("发送计数不正确: %d", n.SentCount(24))
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	var attempts int
	n := newTestNotifier(func(ctx context.Context, recipient, subject, body string) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err := n.Notify(context.Background(), []string{"a@example.com"}, "预警", "正文"); err != nil {
		t.Fatalf("第三次重试成功后不应报错: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("期望 3 次尝试, 实际 %d", attempts)
	}
}

func TestNotifyIsolatesRecipientFailures(t *testing.T) {
	n := newTestNotifier(func(ctx context.Context, recipient, subject, body string) error {
		if recipient == "bad@example.com" {
			return errors.New("mailbox unavailable")
		}
		return nil
	})

	err := n.Notify(context.Background(), []string{"bad@example.com", "good@example.com"}, "预警", "正文")
	if err == nil {
		t.Fatal("存在失败收件人时应返回错误")
	}
	if n.SentCount(24) != 1 {
		t.Fatalf("成功的收件人仍应记账: %d", n.SentCount(24))
	}
}

func TestClearOldRecords(t *testing.T) {
	n := newTestNotifier(func(ctx context.Context, recipient, subject, body string) error { return nil })

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	n.sent["old"] = base.Add(-30 * time.Hour)
	n.sent["fresh"] = base.Add(-time.Hour)
	n.nowFn = func() time.Time { return base }

	n.ClearOldRecords(24)
	if _, ok := n.sent["old"]; ok {
		t.Fatal("过期记录应被清除")
	}
	if _, ok := n.sent["fresh"]; !ok {
		t.Fatal("窗口内记录不应被清除")
	}
}

func TestSummaryBodyRendering(t *testing.T) {
	metals := map[string]market.MetalSnapshot{
		"gold": {Name: "纽约黄金", CurrentPrice: 485.2, OpenPrice: 482.0, HighPrice: 486.5, LowPrice: 480.1, ChangePercentStr: "0.66%", UpdateTime: "2026-08-28 15:30"},
	}
	funds := map[string]market.FundSnapshot{
		"161725": {Code: "161725", Name: "白酒指数", EstimatedValue: 1.251, ChangePercent: -1.38},
		"005827": {Code: "005827", Err: "请求超时"},
	}

	body := SummaryBody(metals, funds, 2, time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC))

	for _, want := range []string{"黄金(纽约黄金)", "485.20", "白酒指数(161725)", "↓ 1.38%", "获取失败 - 请求超时", "监控基金数量：2", "邮件接收人数：2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("日报应包含 %q:\n%s", want, body)
		}
	}
}
