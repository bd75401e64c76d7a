package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finmonitor/internal/config"
	"finmonitor/internal/fetcher"
	"finmonitor/internal/history"
	"finmonitor/internal/service"

	"github.com/rs/zerolog"
)

// SimulateAlert 用给定的金银价格和基金跌幅走一遍完整的告警链路。
func (a *App) SimulateAlert(ctx context.Context, goldPrice, silverPrice, fundChange float64) error {
	if !a.Config.Email.Enabled {
		return errors.New("email 告警未启用，无法模拟发送")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置邮件通知")
	}

	lists, err := config.NewWatchlists(a.Config.Funds.ListPath, a.Config.Email.ListPath, a.Logger)
	if err != nil {
		return err
	}
	if len(lists.Emails()) == 0 {
		return errors.New("收件人列表为空")
	}

	metals := &staticMetalFetcher{gold: goldPrice, silver: silverPrice}
	funds := &staticFundFetcher{change: fundChange}

	svc := service.New(service.Options{
		Metals:       metals,
		Funds:        funds,
		History:      history.NewStore(history.DefaultMaxLength, zerolog.Nop()),
		Engine:       a.newEngine(),
		Notifier:     notifier,
		Watchlists:   lists,
		EmailEnabled: true,
	}, a.Logger)

	a.Logger.Info().
		Float64("gold", goldPrice).
		Float64("silver", silverPrice).
		Float64("fund_change", fundChange).
		Msg("模拟告警评估")
	return svc.PollOnce(ctx, time.Now())
}

type staticMetalFetcher struct {
	gold   float64
	silver float64
}

func (s *staticMetalFetcher) FetchMetals(ctx context.Context) (map[string]fetcher.MetalQuote, error) {
	now := time.Now().Format("2006-01-02 15:04:05")
	return map[string]fetcher.MetalQuote{
		"gold":   {Name: "黄金(模拟)", Price: s.gold, OpenPrice: s.gold, ChangePercent: "0.00%", UpdateTime: now, Source: "simulated"},
		"silver": {Name: "白银(模拟)", Price: s.silver, OpenPrice: s.silver, ChangePercent: "0.00%", UpdateTime: now, Source: "simulated"},
	}, nil
}

type staticFundFetcher struct {
	change float64
}

func (s *staticFundFetcher) FetchFund(ctx context.Context, code string) (fetcher.FundQuote, error) {
	return fetcher.FundQuote{
		Code:           code,
		Name:           fmt.Sprintf("模拟基金%s", code),
		NetValue:       1.0,
		EstimatedValue: 1.0 + s.change/100,
		ChangePercent:  s.change,
		UpdateTime:     time.Now().Format("2006-01-02 15:04"),
	}, nil
}

func (s *staticFundFetcher) FetchFunds(ctx context.Context, codes []string) map[string]fetcher.FundResult {
	out := make(map[string]fetcher.FundResult, len(codes))
	for _, code := range codes {
		quote, _ := s.FetchFund(ctx, code)
		out[code] = fetcher.FundResult{Quote: quote}
	}
	return out
}

var _ fetcher.MetalFetcher = (*staticMetalFetcher)(nil)
var _ fetcher.FundFetcher = (*staticFundFetcher)(nil)
