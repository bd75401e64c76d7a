package alert

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"finmonitor/internal/market"
)

func testConfig() Config {
	return Config{
		GoldThreshold:       400,
		SilverThreshold:     5,
		FundChangeThreshold: 2.0,
		CooldownMinutes:     60,
		EnableMetalMonitor:  true,
		EnableFundMonitor:   true,
	}
}

func goldAt(price float64) *market.MetalSnapshot {
	return &market.MetalSnapshot{Name: "黄金", CurrentPrice: price}
}

func TestCooldownSuppressesRepeatFiring(t *testing.T) {
	engine := NewEngine(testConfig(), zerolog.Nop())

	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	at := func(minutes int) { engine.nowFn = func() time.Time { return base.Add(time.Duration(minutes) * time.Minute) } }

	at(0)
	if got := engine.CheckMetals(goldAt(390), nil); len(got) != 1 {
		t.Fatalf("t=0 应触发预警, 实际 %d 条", len(got))
	}

	at(10)
	if got := engine.CheckMetals(goldAt(390), nil); len(got) != 0 {
		t.Fatalf("冷却期内不应重复触发, 实际 %d 条", len(got))
	}

	at(70)
	if got := engine.CheckMetals(goldAt(390), nil); len(got) != 1 {
		t.Fatalf("冷却期过后应再次触发, 实际 %d 条", len(got))
	}
}

func TestMetalAlertIsDropThroughOnly(t *testing.T) {
	engine := NewEngine(testConfig(), zerolog.Nop())

	if got := engine.CheckMetals(goldAt(401), nil); len(got) != 0 {
		t.Fatalf("高于阈值不应触发: %d 条", len(got))
	}
	events := engine.CheckMetals(goldAt(400), nil)
	if len(events) != 1 {
		t.Fatalf("等于阈值应触发: %d 条", len(events))
	}
	if events[0].Type != TypePriceThreshold || events[0].AssetType != "gold" {
		t.Fatalf("事件内容不正确: %+v", events[0])
	}
}

func TestDisabledMonitorSkipsEvaluation(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMetalMonitor = false
	engine := NewEngine(cfg, zerolog.Nop())

	if got := engine.CheckMetals(goldAt(100), nil); len(got) != 0 {
		t.Fatal("关闭监控后不应评估")
	}
	// No cooldown record may have been written either.
	if engine.Count(24) != 0 {
		t.Fatal("关闭监控后不应记录冷却状态")
	}
}

func TestFundAlertsSkipErroredSnapshots(t *testing.T) {
	engine := NewEngine(testConfig(), zerolog.Nop())

	funds := map[string]market.FundSnapshot{
		"A": {Code: "A", Name: "基金A", EstimatedValue: 1.5, ChangePercent: 3.2},
		"B": {Code: "B", Err: "请求超时"},
		"C": {Code: "C", Name: "基金C", EstimatedValue: 2.0, ChangePercent: -0.4},
	}

	events := engine.CheckFunds(funds)
	if len(events) != 1 {
		t.Fatalf("仅 A 应触发, 实际 %d 条", len(events))
	}
	ev := events[0]
	if ev.FundCode != "A" || ev.Type != TypeFundChange || ev.ChangePercent != 3.2 {
		t.Fatalf("事件内容不正确: %+v", ev)
	}
}

func TestFundAlertFiresOnAbsoluteChange(t *testing.T) {
	engine := NewEngine(testConfig(), zerolog.Nop())

	funds := map[string]market.FundSnapshot{
		"D": {Code: "D", Name: "基金D", EstimatedValue: 0.98, ChangePercent: -2.0},
	}
	events := engine.CheckFunds(funds)
	if len(events) != 1 {
		t.Fatalf("跌幅达到阈值应触发, 实际 %d 条", len(events))
	}
	if !strings.Contains(Message(events[0]), "下跌") {
		t.Fatalf("下跌方向渲染错误: %s", Message(events[0]))
	}
}

func TestClearOldHistoryAndCount(t *testing.T) {
	engine := NewEngine(testConfig(), zerolog.Nop())

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	engine.nowFn = func() time.Time { return base }
	engine.history["gold_price"] = base.Add(-30 * time.Hour)
	engine.history["fund_161725"] = base.Add(-2 * time.Hour)

	if got := engine.Count(24); got != 1 {
		t.Fatalf("24 小时内应有 1 条记录, 实际 %d", got)
	}

	engine.ClearOldHistory(24)
	if len(engine.history) != 1 {
		t.Fatalf("过期冷却记录应被清除, 剩余 %d", len(engine.history))
	}
	if _, ok := engine.history["fund_161725"]; !ok {
		t.Fatal("窗口内的记录不应被清除")
	}
}

func TestFormatRendering(t *testing.T) {
	ev := Event{
		Type:         TypePriceThreshold,
		AssetType:    "gold",
		AssetName:    "黄金",
		CurrentPrice: 389.5,
		Threshold:    400,
		AlertTime:    time.Now(),
	}

	if got := Subject(ev); !strings.Contains(got, "389.50") {
		t.Fatalf("主题应包含当前价格: %s", got)
	}
	if got := Message(ev); !strings.Contains(got, "跌破阈值 400.00") {
		t.Fatalf("消息应包含阈值: %s", got)
	}
	if got := EmailBody(ev); !strings.Contains(got, "贵金属价格预警通知") {
		t.Fatalf("邮件正文渲染错误: %s", got)
	}
}
