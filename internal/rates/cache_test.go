package rates

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubSource struct {
	name  string
	rate  float64
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchRate(ctx context.Context) (float64, error) {
	s.calls++
	return s.rate, s.err
}

func newTestCache(t *testing.T, sources ...Source) *Cache {
	t.Helper()
	return New(Options{
		CachePath:  filepath.Join(t.TempDir(), "exchange_rate_cache.json"),
		RetryDelay: time.Millisecond,
		Sources:    sources,
	}, zerolog.Nop())
}

func TestRateCacheHitIssuesSingleUpstreamRequest(t *testing.T) {
	src := &stubSource{name: "primary", rate: 7.5}
	cache := newTestCache(t, src)

	first := cache.Rate(context.Background(), false)
	second := cache.Rate(context.Background(), false)

	if first != 7.5 || second != 7.5 {
		t.Fatalf("期望缓存汇率 7.5, 实际 %v / %v", first, second)
	}
	if src.calls != 1 {
		t.Fatalf("缓存窗口内应只请求一次上游, 实际 %d 次", src.calls)
	}
}

func TestRateFallsBackToNextSourceOnImplausibleValue(t *testing.T) {
	garbage := &stubSource{name: "garbage", rate: 0.14}
	good := &stubSource{name: "good", rate: 7.31}
	cache := newTestCache(t, garbage, good)

	if got := cache.Rate(context.Background(), false); got != 7.31 {
		t.Fatalf("应采用第二个源的合理值, 实际 %v", got)
	}
	if garbage.calls != defaultMaxRetries {
		t.Fatalf("不合理的源应重试 %d 次, 实际 %d", defaultMaxRetries, garbage.calls)
	}
	if good.calls != 1 {
		t.Fatalf("命中合理值后应立即停止, 实际请求 %d 次", good.calls)
	}
}

func TestRateServesFallbackWhenAllSourcesFail(t *testing.T) {
	broken := &stubSource{name: "broken", err: errors.New("connection refused")}
	cache := newTestCache(t, broken)

	if got := cache.Rate(context.Background(), false); got != FallbackRate {
		t.Fatalf("全部源失败时应返回固定兜底汇率, 实际 %v", got)
	}
}

func TestRateRetainsStaleValueOnRefreshFailure(t *testing.T) {
	src := &stubSource{name: "flaky", rate: 7.4}
	cache := newTestCache(t, src)

	if got := cache.Rate(context.Background(), false); got != 7.4 {
		t.Fatalf("首次获取失败: %v", got)
	}

	// Age the cache past its window, then break the source.
	cache.nowFn = func() time.Time { return time.Now().Add(2 * DefaultCacheDuration) }
	src.err = errors.New("gateway timeout")

	if got := cache.Rate(context.Background(), false); got != 7.4 {
		t.Fatalf("刷新失败时应保留旧汇率, 实际 %v", got)
	}
}

func TestCacheFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchange_rate_cache.json")
	src := &stubSource{name: "primary", rate: 7.25}

	first := New(Options{CachePath: path, RetryDelay: time.Millisecond, Sources: []Source{src}}, zerolog.Nop())
	if got := first.Rate(context.Background(), false); got != 7.25 {
		t.Fatalf("fetch failed: %v", got)
	}

	// A fresh cache with no sources must be primed from the file alone.
	second := New(Options{CachePath: path, RetryDelay: time.Millisecond}, zerolog.Nop())
	if got := second.Rate(context.Background(), false); got != 7.25 {
		t.Fatalf("应从缓存文件加载汇率, 实际 %v", got)
	}

	info := second.Info()
	if info.Source != "primary" || !info.IsCached {
		t.Fatalf("缓存来源信息不正确: %#v", info)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	src := &stubSource{name: "primary", rate: 7.5}
	cache := newTestCache(t, src)

	cache.Rate(context.Background(), false)
	src.rate = 7.6
	if got := cache.Rate(context.Background(), true); got != 7.6 {
		t.Fatalf("强制刷新应拉取新值, 实际 %v", got)
	}
	if src.calls != 2 {
		t.Fatalf("期望两次上游请求, 实际 %d", src.calls)
	}
}

func TestSetCacheDurationClamps(t *testing.T) {
	cache := newTestCache(t)

	cache.SetCacheDuration(10)
	if cache.opts.CacheDuration != minCacheDuration {
		t.Fatalf("下限应为 %v, 实际 %v", minCacheDuration, cache.opts.CacheDuration)
	}

	cache.SetCacheDuration(1_000_000)
	if cache.opts.CacheDuration != maxCacheDuration {
		t.Fatalf("上限应为 %v, 实际 %v", maxCacheDuration, cache.opts.CacheDuration)
	}
}

func TestConvertUSDOzToCNYGram(t *testing.T) {
	// 2000 * 7.2 / 31.1034768 = 462.9707... -> 462.97
	if got := USDOzToCNYGram(2000.0, 7.2); got != 462.97 {
		t.Fatalf("期望 462.97, 实际 %v", got)
	}
}

func TestConvertRoundTrip(t *testing.T) {
	const rate = 7.2
	for _, price := range []float64{1.0, 380.5, 2000.0, 2099.99} {
		back := CNYGramToUSDOz(USDOzToCNYGram(price, rate), rate)
		if math.Abs(back-price) > 0.02 {
			t.Fatalf("往返换算偏差过大: %v -> %v", price, back)
		}
	}
}

func TestValidateConversionUsesFixedConstant(t *testing.T) {
	report := ValidateConversion(DefaultValidationCases())

	if report.TotalTests != 5 || report.Failed != 0 {
		t.Fatalf("固定兜底汇率应通过全部用例: %+v", report)
	}
	for _, detail := range report.Details {
		if detail.ActualRate != FallbackRate {
			t.Fatalf("校验应始终对比固定常量, 实际 %v", detail.ActualRate)
		}
	}
}
