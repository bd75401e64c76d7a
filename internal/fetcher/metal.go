package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// MetalOptions parameterise the precious-metal fetcher.
type MetalOptions struct {
	APIURL        string
	APIKey        string
	SinaGoldURL   string
	SinaSilverURL string
	Timeout       time.Duration
	UserAgent     string
}

// Metal fetches gold/silver quotes from the structured JSON API, falling
// back silently to the Sina plain-text quote server when the primary API is
// unconfigured, unreachable, or returns a non-success payload. The
// substitution is invisible to the caller apart from the Source field.
type Metal struct {
	opts   MetalOptions
	client *http.Client
	sina   *Sina
	logger zerolog.Logger
}

// NewMetal constructs a metal fetcher.
func NewMetal(opts MetalOptions, logger zerolog.Logger) *Metal {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := &http.Client{Timeout: timeout}
	return &Metal{
		opts:   opts,
		client: client,
		sina:   NewSina(SinaOptions{GoldURL: opts.SinaGoldURL, SilverURL: opts.SinaSilverURL, UserAgent: opts.UserAgent}, client, logger),
		logger: logger.With().Str("component", "metal_fetcher").Logger(),
	}
}

// FetchMetals returns the current gold and silver quotes.
func (m *Metal) FetchMetals(ctx context.Context) (map[string]MetalQuote, error) {
	if m.opts.APIURL == "" || m.opts.APIKey == "" {
		return m.sina.FetchMetals(ctx)
	}

	quotes, err := m.fetchFromAPI(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("主行情 API 获取失败，切换到新浪财经公共 API")
		return m.sina.FetchMetals(ctx)
	}
	return quotes, nil
}

type metalAPIResponse struct {
	Status int            `json:"status"`
	Msg    string         `json:"msg"`
	Result []metalAPIItem `json:"result"`
}

type metalAPIItem struct {
	TypeName      string    `json:"typename"`
	Price         flexFloat `json:"price"`
	OpeningPrice  flexFloat `json:"openingprice"`
	MaxPrice      flexFloat `json:"maxprice"`
	MinPrice      flexFloat `json:"minprice"`
	ChangePercent string    `json:"changepercent"`
	UpdateTime    string    `json:"updatetime"`
}

func (m *Metal) fetchFromAPI(ctx context.Context) (map[string]MetalQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.APIURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("appkey", m.opts.APIKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("User-Agent", m.opts.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("行情 API 响应码异常: %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var body metalAPIResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("行情 API 返回数据格式错误: %w", err)
	}
	if body.Status != 0 {
		return nil, fmt.Errorf("行情 API 返回失败状态: %d %s", body.Status, body.Msg)
	}

	result := make(map[string]MetalQuote, 2)
	for _, item := range body.Result {
		quote := MetalQuote{
			Name:          item.TypeName,
			Price:         float64(item.Price),
			OpenPrice:     float64(item.OpeningPrice),
			HighPrice:     float64(item.MaxPrice),
			LowPrice:      float64(item.MinPrice),
			ChangePercent: item.ChangePercent,
			UpdateTime:    item.UpdateTime,
		}
		switch {
		case strings.Contains(item.TypeName, "黄金"):
			result["gold"] = quote
		case strings.Contains(item.TypeName, "白银"):
			result["silver"] = quote
		}
	}
	return result, nil
}

var _ MetalFetcher = (*Metal)(nil)

// flexFloat accepts both JSON numbers and numeric strings; upstream APIs
// are not consistent about which they send.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(value)
	return nil
}
