package rates

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// FallbackRate is the fixed USD->CNY constant served when no source has
	// ever answered and no cache file exists.
	FallbackRate = 7.2
	// OunceToGram converts troy ounces to grams.
	OunceToGram = 31.1034768

	// DefaultCacheDuration bounds how long a fetched rate stays fresh.
	DefaultCacheDuration = time.Hour

	minCacheDuration = 300 * time.Second
	maxCacheDuration = 86400 * time.Second

	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

var ounceToGramDec = decimal.NewFromFloat(OunceToGram)

// Options parameterise the exchange-rate cache.
type Options struct {
	CachePath     string
	CacheDuration time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	Sources       []Source
}

// Cache holds the current USD->CNY rate with age and provenance. The lock
// spans the whole read-check-refresh-write sequence so concurrent callers
// never observe a half-updated {rate, last_update, source} triple.
type Cache struct {
	mu     sync.Mutex
	opts   Options
	logger zerolog.Logger

	rate       float64
	lastUpdate time.Time
	source     string

	nowFn func() time.Time
}

type cacheFile struct {
	Rate       float64 `json:"rate"`
	LastUpdate string  `json:"last_update"`
	Source     string  `json:"source"`
}

// New constructs a Cache and primes it from the durable cache file if one
// exists. A missing or unreadable file is not an error.
func New(opts Options, logger zerolog.Logger) *Cache {
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = DefaultCacheDuration
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	c := &Cache{
		opts:   opts,
		logger: logger.With().Str("component", "rate_cache").Logger(),
		nowFn:  time.Now,
	}
	c.loadCacheFile()
	return c
}

func (c *Cache) loadCacheFile() {
	if c.opts.CachePath == "" {
		return
	}

	payload, err := os.ReadFile(c.opts.CachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Msg("加载汇率缓存失败")
		}
		return
	}

	var cached cacheFile
	if err := json.Unmarshal(payload, &cached); err != nil {
		c.logger.Warn().Err(err).Msg("汇率缓存文件格式错误")
		return
	}
	if cached.Rate == 0 {
		return
	}

	c.rate = cached.Rate
	c.source = cached.Source
	if ts, err := time.Parse(time.RFC3339, cached.LastUpdate); err == nil {
		c.lastUpdate = ts
	}
}

// saveCacheFileLocked persists the current triple. Callers hold c.mu.
func (c *Cache) saveCacheFileLocked() {
	if c.opts.CachePath == "" {
		return
	}

	payload, err := json.MarshalIndent(cacheFile{
		Rate:       c.rate,
		LastUpdate: c.lastUpdate.Format(time.RFC3339),
		Source:     c.source,
	}, "", "  ")
	if err != nil {
		c.logger.Warn().Err(err).Msg("保存汇率缓存失败")
		return
	}

	if dir := filepath.Dir(c.opts.CachePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Warn().Err(err).Msg("创建缓存目录失败")
			return
		}
	}
	if err := os.WriteFile(c.opts.CachePath, payload, 0o644); err != nil {
		c.logger.Warn().Err(err).Msg("保存汇率缓存失败")
	}
}

// Rate returns the cached USD->CNY rate, refreshing it when forced, on first
// use, or once the cached value is older than the cache duration. Refresh
// failure is never fatal: the stale rate, or the fixed fallback, is served.
func (c *Cache) Rate(ctx context.Context, forceRefresh bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()

	if c.rate == 0 || forceRefresh {
		if rate, source, ok := c.fetchFromSources(ctx); ok {
			c.storeLocked(rate, source, now)
			return rate
		}
	} else if !c.lastUpdate.IsZero() && now.Sub(c.lastUpdate) >= c.opts.CacheDuration {
		if rate, source, ok := c.fetchFromSources(ctx); ok {
			c.storeLocked(rate, source, now)
		}
	}

	if c.rate == 0 {
		return FallbackRate
	}
	return c.rate
}

// RefreshNow forces a refresh and reports whether any source answered.
func (c *Cache) RefreshNow(ctx context.Context) bool {
	rate, source, ok := c.fetchFromSources(ctx)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(rate, source, c.nowFn())
	return true
}

func (c *Cache) storeLocked(rate float64, source string, now time.Time) {
	c.rate = rate
	c.source = source
	c.lastUpdate = now
	c.saveCacheFileLocked()
}

// fetchFromSources walks the ordered source list, retrying each a bounded
// number of times, and accepts the first plausible value.
func (c *Cache) fetchFromSources(ctx context.Context) (float64, string, bool) {
	for _, source := range c.opts.Sources {
		for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
			rate, err := source.FetchRate(ctx)
			if err == nil && Plausible(rate) {
				c.logger.Info().Str("source", source.Name()).Float64("rate", rate).Msg("获取汇率成功")
				return rate, source.Name(), true
			}
			if err != nil {
				c.logger.Warn().Err(err).Str("source", source.Name()).Int("attempt", attempt+1).Msg("汇率源请求失败")
			} else {
				c.logger.Warn().Str("source", source.Name()).Float64("rate", rate).Msg("汇率超出合理区间，丢弃")
			}

			select {
			case <-ctx.Done():
				return 0, "", false
			case <-time.After(c.opts.RetryDelay):
			}
		}
	}

	c.logger.Error().Msg("所有汇率API源均获取失败")
	return 0, "", false
}

// Plausible rejects clearly wrong USD->CNY values such as provider garbage
// or unit mix-ups.
func Plausible(rate float64) bool {
	return rate > 1 && rate < 15
}

// SetCacheDuration overrides the cache window, clamped to [300, 86400] seconds.
func (c *Cache) SetCacheDuration(seconds int) {
	if seconds < int(minCacheDuration/time.Second) {
		seconds = int(minCacheDuration / time.Second)
	}
	if seconds > int(maxCacheDuration/time.Second) {
		seconds = int(maxCacheDuration / time.Second)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.CacheDuration = time.Duration(seconds) * time.Second
}

// Info describes the cached rate and its provenance.
type Info struct {
	Rate            float64  `json:"rate"`
	LastUpdate      *string  `json:"last_update"`
	Source          string   `json:"source"`
	IsCached        bool     `json:"is_cached"`
	CacheAgeSeconds *float64 `json:"cache_age_seconds"`
}

// Info reports the current cache state without triggering a refresh.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{Rate: FallbackRate, Source: "Fixed"}
	if c.rate != 0 {
		info.Rate = c.rate
	}
	if c.source != "" {
		info.Source = c.source
	}
	if !c.lastUpdate.IsZero() {
		ts := c.lastUpdate.Format(time.RFC3339)
		info.LastUpdate = &ts
		info.IsCached = true
		age := c.nowFn().Sub(c.lastUpdate).Seconds()
		info.CacheAgeSeconds = &age
	}
	return info
}

// USDOzToCNYGram converts a USD/troy-ounce price to CNY/gram at the given
// rate, rounded to 2 decimals.
func USDOzToCNYGram(priceUSDPerOunce, rate float64) float64 {
	return decimal.NewFromFloat(priceUSDPerOunce).
		Mul(decimal.NewFromFloat(rate)).
		Div(ounceToGramDec).
		Round(2).
		InexactFloat64()
}

// CNYGramToUSDOz is the algebraic inverse of USDOzToCNYGram.
func CNYGramToUSDOz(priceCNYPerGram, rate float64) float64 {
	return decimal.NewFromFloat(priceCNYPerGram).
		Mul(ounceToGramDec).
		Div(decimal.NewFromFloat(rate)).
		Round(2).
		InexactFloat64()
}

// ConvertUSDOzToCNYGram converts using the live cached rate.
func (c *Cache) ConvertUSDOzToCNYGram(ctx context.Context, priceUSDPerOunce float64, forceRefresh bool) float64 {
	return USDOzToCNYGram(priceUSDPerOunce, c.Rate(ctx, forceRefresh))
}

// ConvertCNYGramToUSDOz converts using the live cached rate.
func (c *Cache) ConvertCNYGramToUSDOz(ctx context.Context, priceCNYPerGram float64, forceRefresh bool) float64 {
	return CNYGramToUSDOz(priceCNYPerGram, c.Rate(ctx, forceRefresh))
}
