package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var jsonpRe = regexp.MustCompile(`jsonpgz\((.*)\)`)

// FundOptions parameterise the fund NAV fetcher.
type FundOptions struct {
	APIURL    string
	Timeout   time.Duration
	UserAgent string
}

// Fund fetches per-fund NAV estimates from the jsonp-wrapped quote API.
type Fund struct {
	opts   FundOptions
	client *http.Client
	logger zerolog.Logger
}

// NewFund constructs a fund fetcher.
func NewFund(opts FundOptions, logger zerolog.Logger) *Fund {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Fund{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "fund_fetcher").Logger(),
	}
}

type fundPayload struct {
	FundCode       string `json:"fundcode"`
	Name           string `json:"name"`
	NetValue       string `json:"dwjz"`
	EstimatedValue string `json:"gsz"`
	ChangePercent  string `json:"gszzl"`
	UpdateTime     string `json:"gztime"`
}

// FetchFund retrieves one fund's NAV estimate.
func (f *Fund) FetchFund(ctx context.Context, code string) (FundQuote, error) {
	if f.opts.APIURL == "" {
		return FundQuote{}, errors.New("fund api url not configured")
	}

	url := fmt.Sprintf("%s/%s.js?rt=%d", strings.TrimRight(f.opts.APIURL, "/"), code, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FundQuote{}, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return FundQuote{}, fmt.Errorf("获取基金数据失败 %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FundQuote{}, fmt.Errorf("基金接口响应码异常 %s: %d", code, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return FundQuote{}, err
	}

	match := jsonpRe.FindSubmatch(payload)
	if match == nil {
		return FundQuote{}, fmt.Errorf("无法解析基金数据: 基金代码 %s", code)
	}

	var body fundPayload
	if err := json.Unmarshal(match[1], &body); err != nil {
		return FundQuote{}, fmt.Errorf("基金数据格式错误: 基金代码 %s: %w", code, err)
	}

	return FundQuote{
		Code:           body.FundCode,
		Name:           body.Name,
		NetValue:       parseFundFloat(body.NetValue),
		EstimatedValue: parseFundFloat(body.EstimatedValue),
		ChangePercent:  parseFundFloat(body.ChangePercent),
		UpdateTime:     body.UpdateTime,
	}, nil
}

// FetchFunds retrieves a batch of funds. Each code is fetched independently;
// failures are captured per-code so siblings are unaffected.
func (f *Fund) FetchFunds(ctx context.Context, codes []string) map[string]FundResult {
	results := make(map[string]FundResult, len(codes))
	for _, code := range codes {
		quote, err := f.FetchFund(ctx, code)
		if err != nil {
			f.logger.Warn().Err(err).Str("code", code).Msg("基金数据获取失败")
			results[code] = FundResult{Err: err}
			continue
		}
		results[code] = FundResult{Quote: quote}
	}
	return results
}

func parseFundFloat(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return value
}

var _ FundFetcher = (*Fund)(nil)
