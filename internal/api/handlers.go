package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"finmonitor/internal/alert"
	"finmonitor/internal/config"
	"finmonitor/internal/fetcher"
	"finmonitor/internal/history"
	"finmonitor/internal/ingest"
	"finmonitor/internal/rates"
	"finmonitor/internal/service"
	"finmonitor/internal/storage"
	"finmonitor/internal/version"
)

// TestMailer sends a connectivity test mail, bypassing alert dedup.
type TestMailer interface {
	SendTest(ctx context.Context, recipient string) error
}

// Options carries the handler collaborators.
type Options struct {
	Metals     fetcher.MetalFetcher
	Funds      fetcher.FundFetcher
	History    *history.Store
	Engine     *alert.Engine
	Rates      *rates.Cache
	Watchlists *config.Watchlists
	Service    *service.Service
	AlertLog   storage.AlertStore
	Mailer     TestMailer
}

// Handler serves the monitoring API routes.
type Handler struct {
	opts       Options
	normalizer *ingest.Normalizer
	logger     zerolog.Logger
}

// NewHandler constructs the route handler.
func NewHandler(opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		opts:       opts,
		normalizer: ingest.NewNormalizer(logger),
		logger:     logger.With().Str("component", "api_handler").Logger(),
	}
}

// RegisterRoutes mounts every route on the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")

	g.GET("/market/precious-metals", h.PreciousMetals)
	g.GET("/market/funds", h.Funds)
	g.GET("/market/history/:asset", h.History)
	g.GET("/market/fund-history/:code", h.FundHistory)
	g.GET("/market/fund/:code", h.SingleFund)

	g.GET("/config/funds", h.FundCodes)
	g.POST("/config/funds", h.AddFundCode)

	g.GET("/alert/config", h.AlertConfig)
	g.PUT("/alert/config", h.UpdateAlertConfig)
	g.POST("/alert/recipients", h.AddRecipient)
	g.DELETE("/alert/recipients/:email", h.DeleteRecipient)
	g.POST("/alert/test-email", h.TestEmail)
	g.GET("/alert/history", h.AlertHistory)

	g.GET("/exchange/rate", h.ExchangeRate)
	g.POST("/exchange/refresh", h.RefreshExchangeRate)
	g.GET("/exchange/convert", h.ConvertCurrency)
	g.GET("/exchange/validate", h.ValidateExchangeRate)

	g.GET("/health", h.Health)
	g.GET("/info", h.Info)
}

// PreciousMetals fetches live gold/silver quotes.
func (h *Handler) PreciousMetals(c echo.Context) error {
	raw, err := h.opts.Metals.FetchMetals(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, h.normalizer.NormalizeMetals(raw))
}

// Funds fetches live estimates for every watched fund.
func (h *Handler) Funds(c echo.Context) error {
	codes := h.opts.Watchlists.FundCodes()
	if len(codes) == 0 {
		return okMessage(c, http.StatusOK, "未配置基金代码", map[string]interface{}{})
	}
	raw := h.opts.Funds.FetchFunds(c.Request().Context(), codes)
	return ok(c, http.StatusOK, h.normalizer.NormalizeFunds(raw))
}

// History serves a stored series: gold, silver, or all funds.
func (h *Handler) History(c echo.Context) error {
	switch asset := c.Param("asset"); asset {
	case history.AssetGold, history.AssetSilver:
		return ok(c, http.StatusOK, h.opts.History.MetalPoints(asset))
	case "funds":
		return ok(c, http.StatusOK, h.opts.History.AllFundPoints())
	default:
		return fail(c, http.StatusBadRequest, "无效的资源类型")
	}
}

// FundHistory serves one fund's stored series.
func (h *Handler) FundHistory(c echo.Context) error {
	return ok(c, http.StatusOK, h.opts.History.FundPoints(c.Param("code")))
}

// SingleFund fetches one fund estimate live.
func (h *Handler) SingleFund(c echo.Context) error {
	code := c.Param("code")
	raw := h.opts.Funds.FetchFunds(c.Request().Context(), []string{code})
	snapshots := h.normalizer.NormalizeFunds(raw)

	snapshot, found := snapshots[code]
	if !found || snapshot.Failed() {
		return fail(c, http.StatusNotFound, "基金数据获取失败")
	}
	return ok(c, http.StatusOK, snapshot)
}

// FundCodes lists the watched fund codes.
func (h *Handler) FundCodes(c echo.Context) error {
	return ok(c, http.StatusOK, h.opts.Watchlists.FundCodes())
}

type addFundRequest struct {
	FundCode string `json:"fund_code"`
}

// AddFundCode appends a fund code to the watchlist file.
func (h *Handler) AddFundCode(c echo.Context) error {
	var req addFundRequest
	if err := c.Bind(&req); err != nil || req.FundCode == "" {
		return fail(c, http.StatusBadRequest, "基金代码不能为空")
	}
	if err := h.opts.Watchlists.AddFund(req.FundCode); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return okMessage(c, http.StatusOK, "基金代码 "+req.FundCode+" 添加成功", nil)
}

type alertConfigJSON struct {
	GoldThreshold     float64 `json:"gold_threshold"`
	SilverThreshold   float64 `json:"silver_threshold"`
	FundThreshold     float64 `json:"fund_threshold"`
	EnableGoldMonitor bool    `json:"enable_gold_monitor"`
	EnableFundMonitor bool    `json:"enable_fund_monitor"`
	AlertCooldown     int     `json:"alert_cooldown"`
}

// AlertConfig reports the active evaluation parameters.
func (h *Handler) AlertConfig(c echo.Context) error {
	cfg := h.opts.Engine.Settings()
	return ok(c, http.StatusOK, alertConfigJSON{
		GoldThreshold:     cfg.GoldThreshold,
		SilverThreshold:   cfg.SilverThreshold,
		FundThreshold:     cfg.FundChangeThreshold,
		EnableGoldMonitor: cfg.EnableMetalMonitor,
		EnableFundMonitor: cfg.EnableFundMonitor,
		AlertCooldown:     cfg.CooldownMinutes,
	})
}

type alertConfigUpdate struct {
	GoldThreshold     *float64 `json:"gold_threshold"`
	SilverThreshold   *float64 `json:"silver_threshold"`
	FundThreshold     *float64 `json:"fund_threshold"`
	EnableGoldMonitor *bool    `json:"enable_gold_monitor"`
	EnableFundMonitor *bool    `json:"enable_fund_monitor"`
	AlertCooldown     *int     `json:"alert_cooldown"`
}

// UpdateAlertConfig applies a partial update to the running engine.
// Changes take effect immediately but are not written back to the
// config file; they last until restart.
func (h *Handler) UpdateAlertConfig(c echo.Context) error {
	var req alertConfigUpdate
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "请求体格式错误")
	}

	cfg := h.opts.Engine.Settings()
	if req.GoldThreshold != nil {
		cfg.GoldThreshold = *req.GoldThreshold
	}
	if req.SilverThreshold != nil {
		cfg.SilverThreshold = *req.SilverThreshold
	}
	if req.FundThreshold != nil {
		cfg.FundChangeThreshold = *req.FundThreshold
	}
	if req.EnableGoldMonitor != nil {
		cfg.EnableMetalMonitor = *req.EnableGoldMonitor
	}
	if req.EnableFundMonitor != nil {
		cfg.EnableFundMonitor = *req.EnableFundMonitor
	}
	if req.AlertCooldown != nil {
		cfg.CooldownMinutes = *req.AlertCooldown
	}
	h.opts.Engine.Configure(cfg)

	return okMessage(c, http.StatusOK, "预警配置更新成功", nil)
}

type recipientRequest struct {
	Email string `json:"email"`
}

// AddRecipient appends an address to the recipient list file.
func (h *Handler) AddRecipient(c echo.Context) error {
	var req recipientRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return fail(c, http.StatusBadRequest, "邮箱地址不能为空")
	}
	if err := h.opts.Watchlists.AddEmail(req.Email); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return okMessage(c, http.StatusOK, "邮箱 "+req.Email+" 添加成功", nil)
}

// DeleteRecipient removes an address from the recipient list file.
func (h *Handler) DeleteRecipient(c echo.Context) error {
	email := c.Param("email")
	if err := h.opts.Watchlists.RemoveEmail(email); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return okMessage(c, http.StatusOK, "邮箱 "+email+" 删除成功", nil)
}

// TestEmail sends a connectivity test mail to one recipient.
func (h *Handler) TestEmail(c echo.Context) error {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := c.Bind(&req); err != nil || req.Recipient == "" {
		return fail(c, http.StatusBadRequest, "收件人邮箱不能为空")
	}
	if h.opts.Mailer == nil {
		return fail(c, http.StatusInternalServerError, "邮件通知未启用")
	}
	if err := h.opts.Mailer.SendTest(c.Request().Context(), req.Recipient); err != nil {
		return fail(c, http.StatusInternalServerError, "测试邮件发送失败")
	}
	return okMessage(c, http.StatusOK, "测试邮件发送成功", nil)
}

// AlertHistory lists recently fired alerts from the audit store.
func (h *Handler) AlertHistory(c echo.Context) error {
	hours := 24
	if raw := c.QueryParam("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return fail(c, http.StatusBadRequest, "hours 参数无效")
		}
		hours = parsed
	}

	if h.opts.AlertLog == nil {
		count := h.opts.Engine.Count(hours)
		return okCount(c, http.StatusOK, []interface{}{}, count)
	}

	records, err := h.opts.AlertLog.ListRecentAlerts(c.Request().Context(), 200)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	recent := make([]alertRecordJSON, 0, len(records))
	for _, rec := range records {
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		recent = append(recent, alertRecordJSON{
			Type:      rec.AlertType,
			AssetKey:  rec.AssetKey,
			Value:     rec.Value.InexactFloat64(),
			Threshold: rec.Threshold.InexactFloat64(),
			Message:   rec.Message,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		})
	}
	return okCount(c, http.StatusOK, recent, len(recent))
}

type alertRecordJSON struct {
	Type      string  `json:"type"`
	AssetKey  string  `json:"asset_key"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
	CreatedAt string  `json:"created_at"`
}

// ExchangeRate reports the cached USD/CNY rate and its metadata.
func (h *Handler) ExchangeRate(c echo.Context) error {
	force := c.QueryParam("refresh") == "true"
	rate := h.opts.Rates.Rate(c.Request().Context(), force)
	return ok(c, http.StatusOK, map[string]interface{}{
		"rate": rate,
		"info": h.opts.Rates.Info(),
	})
}

// RefreshExchangeRate forces a refresh from the upstream sources.
func (h *Handler) RefreshExchangeRate(c echo.Context) error {
	if !h.opts.Rates.RefreshNow(c.Request().Context()) {
		return fail(c, http.StatusInternalServerError, "汇率刷新失败，请检查网络连接")
	}
	return okMessage(c, http.StatusOK, "汇率刷新成功", h.opts.Rates.Info())
}

// ConvertCurrency converts a price between USD/oz and CNY/g.
func (h *Handler) ConvertCurrency(c echo.Context) error {
	rawPrice := c.QueryParam("price")
	if rawPrice == "" {
		return fail(c, http.StatusBadRequest, "缺少价格参数")
	}
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil {
		return fail(c, http.StatusBadRequest, "价格参数无效")
	}

	direction := c.QueryParam("direction")
	if direction == "" {
		direction = "usd_oz_to_cny_gram"
	}

	var result float64
	switch direction {
	case "usd_oz_to_cny_gram":
		result = h.opts.Rates.ConvertUSDOzToCNYGram(c.Request().Context(), price, false)
	case "cny_gram_to_usd_oz":
		result = h.opts.Rates.ConvertCNYGramToUSDOz(c.Request().Context(), price, false)
	default:
		return fail(c, http.StatusBadRequest, "不支持的转换方向: "+direction)
	}

	return ok(c, http.StatusOK, map[string]interface{}{
		"input":         price,
		"output":        result,
		"direction":     direction,
		"exchange_rate": h.opts.Rates.Info(),
	})
}

// ValidateExchangeRate runs the fixed conversion validation battery.
func (h *Handler) ValidateExchangeRate(c echo.Context) error {
	report := rates.ValidateConversion(rates.DefaultValidationCases())
	return ok(c, http.StatusOK, report)
}

// Health is the liveness probe; deliberately not enveloped.
func (h *Handler) Health(c echo.Context) error {
	payload := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if h.opts.Service != nil {
		lastPoll, polls := h.opts.Service.Status()
		payload["polls"] = polls
		if !lastPoll.IsZero() {
			payload["last_poll"] = lastPoll.Format(time.RFC3339)
		}
	}
	return c.JSON(http.StatusOK, payload)
}

// Info reports service identity and version.
func (h *Handler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":        "金融价格监控系统",
		"version":     version.Version,
		"api_version": "v1",
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
