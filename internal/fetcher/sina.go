package fetcher

import (
	"context"
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

// Sina quote payload layout: comma-separated fields inside a JS assignment,
// e.g. var hq_str_hf_GC="3380.9,,3378.0,3391.6,3365.0,,15:29:59,...".
const (
	sinaFieldCurrent = 0
	sinaFieldOpen    = 2
	sinaFieldHigh    = 3
	sinaFieldLow     = 4
	sinaFieldTime    = 6
	sinaFieldDate    = 12
	sinaFieldName    = 13
	sinaMinFields    = 14
)

var sinaPayloadRe = regexp.MustCompile(`var hq_str_hf_[A-Z]+="([^"]+)"`)

// SinaOptions parameterise the plain-text fallback source.
type SinaOptions struct {
	GoldURL   string
	SilverURL string
	UserAgent string
}

// Sina scrapes the public quote server used when the structured API is
// unavailable.
type Sina struct {
	opts   SinaOptions
	client *http.Client
	logger zerolog.Logger
}

// NewSina constructs the fallback fetcher.
func NewSina(opts SinaOptions, client *http.Client, logger zerolog.Logger) *Sina {
	if opts.GoldURL == "" {
		opts.GoldURL = "https://hq.sinajs.cn/list=hf_GC"
	}
	if opts.SilverURL == "" {
		opts.SilverURL = "https://hq.sinajs.cn/list=hf_SI"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sina{opts: opts, client: client, logger: logger.With().Str("component", "sina_fetcher").Logger()}
}

// FetchMetals retrieves gold and silver from the quote server. One metal
// failing to parse does not discard the other.
func (s *Sina) FetchMetals(ctx context.Context) (map[string]MetalQuote, error) {
	result := make(map[string]MetalQuote, 2)

	if quote, err := s.fetchOne(ctx, s.opts.GoldURL, "国际黄金"); err != nil {
		s.logger.Warn().Err(err).Msg("新浪黄金行情解析失败")
	} else {
		result["gold"] = quote
	}

	if quote, err := s.fetchOne(ctx, s.opts.SilverURL, "国际白银"); err != nil {
		s.logger.Warn().Err(err).Msg("新浪白银行情解析失败")
	} else {
		result["silver"] = quote
	}

	if len(result) == 0 {
		return nil, errors.New("所有行情 API 均获取失败")
	}
	return result, nil
}

func (s *Sina) fetchOne(ctx context.Context, url, fallbackName string) (MetalQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MetalQuote{}, err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Referer", "https://finance.sina.com.cn/")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return MetalQuote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MetalQuote{}, fmt.Errorf("新浪行情响应码异常: %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return MetalQuote{}, err
	}

	return parseSinaQuote(string(payload), fallbackName)
}

func parseSinaQuote(payload, fallbackName string) (MetalQuote, error) {
	match := sinaPayloadRe.FindStringSubmatch(payload)
	if match == nil {
		return MetalQuote{}, errors.New("无法解析行情数据")
	}

	fields := strings.Split(match[1], ",")
	if len(fields) < sinaMinFields {
		return MetalQuote{}, fmt.Errorf("行情字段不足: %d", len(fields))
	}

	current := parseField(fields[sinaFieldCurrent])
	open := parseField(fields[sinaFieldOpen])

	changePercent := 0.0
	if open > 0 {
		changePercent = (current - open) / open * 100
	}

	name := fields[sinaFieldName]
	if name == "" {
		name = fallbackName
	}

	updateTime := fields[sinaFieldDate] + " " + fields[sinaFieldTime]

	return MetalQuote{
		Name:          name,
		Price:         current,
		OpenPrice:     open,
		HighPrice:     parseField(fields[sinaFieldHigh]),
		LowPrice:      parseField(fields[sinaFieldLow]),
		ChangePercent: fmt.Sprintf("%.2f%%", changePercent),
		UpdateTime:    updateTime,
		Source:        "新浪财经公共API",
	}, nil
}

func parseField(raw string) float64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}

var _ MetalFetcher = (*Sina)(nil)
