package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"finmonitor/internal/fetcher"
)

func TestNormalizeMetalsParsesChangePercent(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	raw := map[string]fetcher.MetalQuote{
		"gold": {Name: "黄金", Price: 485.2, OpenPrice: 482.0, ChangePercent: "0.66%", UpdateTime: "2026-08-28 15:30"},
	}

	snapshots := n.NormalizeMetals(raw)
	gold := snapshots["gold"]
	if gold.ChangePercent != 0.66 || gold.ChangePercentStr != "0.66%" {
		t.Fatalf("涨跌幅归一化错误: %+v", gold)
	}
	if gold.Timestamp.IsZero() {
		t.Fatal("快照应携带归一化时间戳")
	}
}

func TestNormalizeFundsKeepsErrorsInline(t *testing.T) {
	n := NewNormalizer(zerolog.Nop())

	raw := map[string]fetcher.FundResult{
		"A": {Quote: fetcher.FundQuote{Code: "A", Name: "基金A", EstimatedValue: 1.25, ChangePercent: 1.4}},
		"B": {Err: errors.New("请求超时: 基金代码 B")},
	}

	snapshots := n.NormalizeFunds(raw)
	if len(snapshots) != 2 {
		t.Fatalf("应保留全部键, 实际 %d", len(snapshots))
	}
	if !snapshots["B"].Failed() || snapshots["B"].Code != "B" {
		t.Fatalf("失败基金应内联错误: %+v", snapshots["B"])
	}

	payload, err := json.Marshal(snapshots["B"])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(payload), `"error"`) || strings.Contains(string(payload), "estimated_value") {
		t.Fatalf("失败基金应序列化为 {error, code}: %s", payload)
	}
}

func TestParseChangePercent(t *testing.T) {
	cases := map[string]float64{
		"0.66%":  0.66,
		"-1.25%": -1.25,
		" 2.1% ": 2.1,
		"":       0,
		"n/a":    0,
	}
	for raw, want := range cases {
		if got := ParseChangePercent(raw); got != want {
			t.Fatalf("ParseChangePercent(%q) = %v, 期望 %v", raw, got, want)
		}
	}
}
