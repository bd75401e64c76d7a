package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"finmonitor/internal/alert"
	"finmonitor/internal/config"
	"finmonitor/internal/fetcher"
	"finmonitor/internal/history"
	"finmonitor/internal/rates"
)

type stubMetals struct {
	quotes map[string]fetcher.MetalQuote
	err    error
}

func (s *stubMetals) FetchMetals(ctx context.Context) (map[string]fetcher.MetalQuote, error) {
	return s.quotes, s.err
}

type stubFunds struct {
	results map[string]fetcher.FundResult
}

func (s *stubFunds) FetchFund(ctx context.Context, code string) (fetcher.FundQuote, error) {
	return s.results[code].Quote, s.results[code].Err
}

func (s *stubFunds) FetchFunds(ctx context.Context, codes []string) map[string]fetcher.FundResult {
	out := make(map[string]fetcher.FundResult, len(codes))
	for _, code := range codes {
		out[code] = s.results[code]
	}
	return out
}

type stubMailer struct {
	recipients []string
	err        error
}

func (s *stubMailer) SendTest(ctx context.Context, recipient string) error {
	s.recipients = append(s.recipients, recipient)
	return s.err
}

type fixture struct {
	echo    *echo.Echo
	handler *Handler
	lists   *config.Watchlists
	store   *history.Store
	mailer  *stubMailer
}

func newFixture(t *testing.T, fundCodes string) *fixture {
	t.Helper()
	dir := t.TempDir()

	fundPath := filepath.Join(dir, "fund_list.txt")
	emailPath := filepath.Join(dir, "email_list.txt")
	os.WriteFile(fundPath, []byte(fundCodes), 0o644)

	lists, err := config.NewWatchlists(fundPath, emailPath, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	store := history.NewStore(history.DefaultMaxLength, zerolog.Nop())
	engine := alert.NewEngine(alert.Config{
		GoldThreshold:       500,
		SilverThreshold:     8,
		FundChangeThreshold: 3,
		CooldownMinutes:     60,
		EnableMetalMonitor:  true,
		EnableFundMonitor:   true,
	}, zerolog.Nop())

	cache := rates.New(rates.Options{
		CachePath: filepath.Join(dir, "rate_cache.json"),
	}, zerolog.Nop())

	mailer := &stubMailer{}
	handler := NewHandler(Options{
		Metals: &stubMetals{quotes: map[string]fetcher.MetalQuote{
			"gold": {Name: "纽约黄金", Price: 485.2, OpenPrice: 482.0, ChangePercent: "0.66%"},
		}},
		Funds: &stubFunds{results: map[string]fetcher.FundResult{
			"161725": {Quote: fetcher.FundQuote{Code: "161725", Name: "白酒指数", EstimatedValue: 1.25, ChangePercent: 1.4}},
		}},
		History:    store,
		Engine:     engine,
		Rates:      cache,
		Watchlists: lists,
		Mailer:     mailer,
	}, zerolog.Nop())

	e := echo.New()
	handler.RegisterRoutes(e)
	return &fixture{echo: e, handler: handler, lists: lists, store: store, mailer: mailer}
}

func (f *fixture) request(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("响应不是合法 JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, payload
}

func TestHistoryEndpointServesSeriesAndRejectsUnknownAsset(t *testing.T) {
	f := newFixture(t, "")
	now := time.Now()
	f.store.Append("gold", history.Entry{Value: 485.2, ChangePercent: 0.6, Timestamp: now})
	f.store.Append("161725", history.Entry{Value: 1.25, ChangePercent: 1.4, Timestamp: now})

	rec, payload := f.request(t, http.MethodGet, "/api/market/history/gold", "")
	if rec.Code != http.StatusOK || payload["success"] != true {
		t.Fatalf("gold 历史查询失败: %d %v", rec.Code, payload)
	}
	data := payload["data"].([]interface{})
	if len(data) != 1 || data[0].(map[string]interface{})["price"] != 485.2 {
		t.Fatalf("历史条目应使用 price 字段: %v", data)
	}

	rec, payload = f.request(t, http.MethodGet, "/api/market/history/funds", "")
	funds := payload["data"].(map[string]interface{})
	if _, found := funds["161725"]; !found {
		t.Fatalf("基金历史缺失: %v", funds)
	}

	rec, payload = f.request(t, http.MethodGet, "/api/market/history/bitcoin", "")
	if rec.Code != http.StatusBadRequest || payload["error"] != "无效的资源类型" {
		t.Fatalf("未知资产类型应返回 400: %d %v", rec.Code, payload)
	}
}

func TestFundsEndpointWithEmptyWatchlist(t *testing.T) {
	f := newFixture(t, "")

	rec, payload := f.request(t, http.MethodGet, "/api/market/funds", "")
	if rec.Code != http.StatusOK || payload["success"] != true {
		t.Fatalf("空基金列表应返回成功: %d %v", rec.Code, payload)
	}
	if payload["message"] != "未配置基金代码" {
		t.Fatalf("应携带未配置提示: %v", payload)
	}
}

func TestAlertConfigRoundTrip(t *testing.T) {
	f := newFixture(t, "")

	_, payload := f.request(t, http.MethodGet, "/api/alert/config", "")
	data := payload["data"].(map[string]interface{})
	if data["gold_threshold"] != 500.0 || data["alert_cooldown"] != 60.0 {
		t.Fatalf("初始配置错误: %v", data)
	}

	rec, _ := f.request(t, http.MethodPut, "/api/alert/config", `{"gold_threshold": 480, "enable_fund_monitor": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("配置更新失败: %d", rec.Code)
	}

	_, payload = f.request(t, http.MethodGet, "/api/alert/config", "")
	data = payload["data"].(map[string]interface{})
	if data["gold_threshold"] != 480.0 {
		t.Fatalf("gold_threshold 未更新: %v", data)
	}
	if data["enable_fund_monitor"] != false {
		t.Fatalf("enable_fund_monitor 未更新: %v", data)
	}
	if data["silver_threshold"] != 8.0 {
		t.Fatalf("未提交的字段不应改变: %v", data)
	}
}

func TestRecipientManagement(t *testing.T) {
	f := newFixture(t, "")

	rec, _ := f.request(t, http.MethodPost, "/api/alert/recipients", `{"email": "a@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("添加收件人失败: %d", rec.Code)
	}
	if got := f.lists.Emails(); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("收件人未入列: %v", got)
	}

	rec, _ = f.request(t, http.MethodPost, "/api/alert/recipients", `{"email": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("空邮箱应返回 400: %d", rec.Code)
	}

	rec, _ = f.request(t, http.MethodDelete, "/api/alert/recipients/a@example.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("删除收件人失败: %d", rec.Code)
	}
	if got := f.lists.Emails(); len(got) != 0 {
		t.Fatalf("收件人应被删除: %v", got)
	}
}

func TestTestEmailEndpoint(t *testing.T) {
	f := newFixture(t, "")

	rec, _ := f.request(t, http.MethodPost, "/api/alert/test-email", `{"recipient": "a@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("测试邮件发送失败: %d", rec.Code)
	}
	if len(f.mailer.recipients) != 1 || f.mailer.recipients[0] != "a@example.com" {
		t.Fatalf("未调用邮件发送: %v", f.mailer.recipients)
	}

	rec, _ = f.request(t, http.MethodPost, "/api/alert/test-email", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少收件人应返回 400: %d", rec.Code)
	}
}

func TestExchangeConvertAndValidate(t *testing.T) {
	f := newFixture(t, "")

	// 无可用汇率源时回退到固定汇率 7.2
	_, payload := f.request(t, http.MethodGet, "/api/exchange/convert?price=2000", "")
	data := payload["data"].(map[string]interface{})
	if data["output"] != 462.97 {
		t.Fatalf("2000 美元/盎司按 7.2 折算应为 462.97: %v", data)
	}

	rec, _ := f.request(t, http.MethodGet, "/api/exchange/convert", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少价格参数应返回 400: %d", rec.Code)
	}

	rec, _ = f.request(t, http.MethodGet, "/api/exchange/convert?price=100&direction=nonsense", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("未知方向应返回 400: %d", rec.Code)
	}

	_, payload = f.request(t, http.MethodGet, "/api/exchange/validate", "")
	report := payload["data"].(map[string]interface{})
	if report["total_tests"] != 5.0 || report["failed"] != 0.0 {
		t.Fatalf("转换校验应全部通过: %v", report)
	}
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t, "")

	rec, payload := f.request(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || payload["status"] != "healthy" {
		t.Fatalf("健康检查失败: %d %v", rec.Code, payload)
	}

	_, payload = f.request(t, http.MethodGet, "/api/info", "")
	if payload["api_version"] != "v1" {
		t.Fatalf("info 响应错误: %v", payload)
	}
}
