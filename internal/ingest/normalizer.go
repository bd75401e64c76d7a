package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"finmonitor/internal/fetcher"
	"finmonitor/internal/market"
)

// Normalizer maps raw heterogeneous upstream payloads into the canonical
// snapshot shape consumed by the history store and the alert engine.
type Normalizer struct {
	logger zerolog.Logger
	nowFn  func() time.Time
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		logger: logger.With().Str("component", "normalizer").Logger(),
		nowFn:  time.Now,
	}
}

// NormalizeMetals converts raw metal quotes into canonical snapshots,
// stamping each with the normalization time.
func (n *Normalizer) NormalizeMetals(raw map[string]fetcher.MetalQuote) map[string]market.MetalSnapshot {
	now := n.nowFn()

	out := make(map[string]market.MetalSnapshot, len(raw))
	for key, quote := range raw {
		out[key] = market.MetalSnapshot{
			Name:             quote.Name,
			CurrentPrice:     quote.Price,
			OpenPrice:        quote.OpenPrice,
			HighPrice:        quote.HighPrice,
			LowPrice:         quote.LowPrice,
			ChangePercentStr: quote.ChangePercent,
			ChangePercent:    ParseChangePercent(quote.ChangePercent),
			UpdateTime:       quote.UpdateTime,
			Source:           quote.Source,
			Timestamp:        now,
		}
	}
	return out
}

// NormalizeFunds converts a fund batch result into canonical snapshots.
// Failed codes become error-carrying snapshots rather than being dropped.
func (n *Normalizer) NormalizeFunds(raw map[string]fetcher.FundResult) map[string]market.FundSnapshot {
	now := n.nowFn()

	out := make(map[string]market.FundSnapshot, len(raw))
	for code, result := range raw {
		if result.Err != nil {
			out[code] = market.FundSnapshot{Code: code, Err: result.Err.Error()}
			continue
		}
		quote := result.Quote
		out[code] = market.FundSnapshot{
			Code:           quote.Code,
			Name:           quote.Name,
			NetValue:       quote.NetValue,
			EstimatedValue: quote.EstimatedValue,
			ChangePercent:  quote.ChangePercent,
			UpdateTime:     quote.UpdateTime,
			Timestamp:      now,
		}
	}
	return out
}

// ParseChangePercent turns a "%"-suffixed provider string into a float.
// Anything unparseable normalizes to 0.
func ParseChangePercent(raw string) float64 {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	if trimmed == "" {
		return 0
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return value
}
