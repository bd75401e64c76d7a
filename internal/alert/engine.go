package alert

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"finmonitor/internal/market"
)

// Event types emitted by the engine.
const (
	TypePriceThreshold = "price_threshold"
	TypeFundChange     = "fund_change"
)

// Config carries the externally supplied evaluation parameters.
type Config struct {
	GoldThreshold       float64
	SilverThreshold     float64
	FundChangeThreshold float64
	CooldownMinutes     int
	EnableMetalMonitor  bool
	EnableFundMonitor   bool
}

// Event is one fired alert, carrying enough data to render a message and
// subject without touching engine state again.
type Event struct {
	Type          string    `json:"type"`
	AssetType     string    `json:"asset_type,omitempty"`
	AssetName     string    `json:"asset_name,omitempty"`
	FundCode      string    `json:"fund_code,omitempty"`
	FundName      string    `json:"fund_name,omitempty"`
	CurrentPrice  float64   `json:"current_price,omitempty"`
	CurrentValue  float64   `json:"current_value,omitempty"`
	ChangePercent float64   `json:"change_percent,omitempty"`
	Threshold     float64   `json:"threshold"`
	AlertTime     time.Time `json:"alert_time"`
}

// Engine evaluates threshold alerts with a per-key cooldown. Each key walks
// Idle -> Cooldown on firing and returns to Idle once the cooldown elapses.
// Cooldown state lives in memory only and is lost on restart.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	history map[string]time.Time
	logger  zerolog.Logger
	nowFn   func() time.Time
}

// NewEngine constructs an engine with empty cooldown state.
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		history: make(map[string]time.Time),
		logger:  logger.With().Str("component", "alert_engine").Logger(),
		nowFn:   time.Now,
	}
}

// Configure atomically replaces the evaluation parameters. Cooldown state
// is preserved across reconfiguration.
func (e *Engine) Configure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Settings returns the current evaluation parameters.
func (e *Engine) Settings() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// CheckMetals evaluates the drop-through price alerts for gold and silver.
// Nil snapshots are skipped; a disabled metal monitor yields no events and
// no state transitions.
func (e *Engine) CheckMetals(gold, silver *market.MetalSnapshot) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := []Event{}
	if !e.cfg.EnableMetalMonitor {
		return events
	}

	if gold != nil {
		if ev, ok := e.checkPriceLocked("gold", "黄金", gold.CurrentPrice, e.cfg.GoldThreshold); ok {
			events = append(events, ev)
		}
	}
	if silver != nil {
		if ev, ok := e.checkPriceLocked("silver", "白银", silver.CurrentPrice, e.cfg.SilverThreshold); ok {
			events = append(events, ev)
		}
	}
	return events
}

// CheckFunds evaluates the change-percent alerts for a fund batch. Funds
// carrying a fetch error are skipped entirely: never alerted, never cooled
// down.
func (e *Engine) CheckFunds(funds map[string]market.FundSnapshot) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := []Event{}
	if !e.cfg.EnableFundMonitor {
		return events
	}

	for code, snapshot := range funds {
		if snapshot.Failed() {
			continue
		}
		change := snapshot.ChangePercent
		if change < e.cfg.FundChangeThreshold && change > -e.cfg.FundChangeThreshold {
			continue
		}
		if ev, ok := e.checkFundLocked(code, snapshot); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (e *Engine) checkPriceLocked(assetType, assetName string, currentPrice, threshold float64) (Event, bool) {
	if currentPrice > threshold {
		return Event{}, false
	}

	key := assetType + "_price"
	if e.inCooldownLocked(key) {
		return Event{}, false
	}
	e.history[key] = e.nowFn()

	e.logger.Warn().
		Str("asset", assetName).
		Float64("current_price", currentPrice).
		Float64("threshold", threshold).
		Msg("价格阈值预警触发")

	return Event{
		Type:         TypePriceThreshold,
		AssetType:    assetType,
		AssetName:    assetName,
		CurrentPrice: currentPrice,
		Threshold:    threshold,
		AlertTime:    e.nowFn(),
	}, true
}

func (e *Engine) checkFundLocked(code string, snapshot market.FundSnapshot) (Event, bool) {
	key := "fund_" + code
	if e.inCooldownLocked(key) {
		return Event{}, false
	}
	e.history[key] = e.nowFn()

	e.logger.Warn().
		Str("fund", snapshot.Name).
		Str("code", code).
		Float64("change_percent", snapshot.ChangePercent).
		Msg("基金涨跌幅预警触发")

	return Event{
		Type:          TypeFundChange,
		FundCode:      code,
		FundName:      snapshot.Name,
		CurrentValue:  snapshot.EstimatedValue,
		ChangePercent: snapshot.ChangePercent,
		Threshold:     e.cfg.FundChangeThreshold,
		AlertTime:     e.nowFn(),
	}, true
}

func (e *Engine) inCooldownLocked(key string) bool {
	fired, ok := e.history[key]
	if !ok {
		return false
	}
	cooldown := time.Duration(e.cfg.CooldownMinutes) * time.Minute
	return e.nowFn().Sub(fired) < cooldown
}

// ClearOldHistory purges cooldown records older than the window.
func (e *Engine) ClearOldHistory(hours int) {
	cutoff := e.nowFn().Add(-time.Duration(hours) * time.Hour)

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, fired := range e.history {
		if !fired.After(cutoff) {
			delete(e.history, key)
		}
	}
}

// Count reports how many keys fired within the window.
func (e *Engine) Count(hours int) int {
	cutoff := e.nowFn().Add(-time.Duration(hours) * time.Hour)

	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, fired := range e.history {
		if fired.After(cutoff) {
			count++
		}
	}
	return count
}
