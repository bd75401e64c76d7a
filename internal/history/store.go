package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// AssetGold and AssetSilver key the two metal series; any other key
	// names a fund series.
	AssetGold   = "gold"
	AssetSilver = "silver"

	// DefaultMaxLength bounds every series; oldest entries are dropped first.
	DefaultMaxLength = 1000
)

// Entry is one observation in a price series.
type Entry struct {
	Value         float64
	ChangePercent float64
	Timestamp     time.Time
}

// Store keeps bounded, append-only per-asset time series and round-trips
// them to a JSON snapshot file. Not safe for unguarded concurrent use from
// outside; all mutation goes through the internal lock.
type Store struct {
	mu        sync.RWMutex
	metals    map[string][]Entry
	funds     map[string][]Entry
	maxLength int
	logger    zerolog.Logger
}

// NewStore builds an empty store. maxLength <= 0 selects the default bound.
func NewStore(maxLength int, logger zerolog.Logger) *Store {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Store{
		metals:    map[string][]Entry{AssetGold: {}, AssetSilver: {}},
		funds:     map[string][]Entry{},
		maxLength: maxLength,
		logger:    logger.With().Str("component", "history_store").Logger(),
	}
}

func (s *Store) isMetal(assetKey string) bool {
	return assetKey == AssetGold || assetKey == AssetSilver
}

// Append adds one entry to the named series and trims it to the newest
// maxLength entries.
func (s *Store) Append(assetKey string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.funds
	if s.isMetal(assetKey) {
		target = s.metals
	}

	series := append(target[assetKey], entry)
	if len(series) > s.maxLength {
		series = series[len(series)-s.maxLength:]
	}
	target[assetKey] = series
}

// Series returns a copy of the named series in chronological order. An
// unknown key yields an empty slice, not an error.
func (s *Store) Series(assetKey string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := s.funds[assetKey]
	if s.isMetal(assetKey) {
		source = s.metals[assetKey]
	}

	out := make([]Entry, len(source))
	copy(out, source)
	return out
}

// FundCodes lists the fund series currently tracked, sorted.
func (s *Store) FundCodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.funds))
	for code := range s.funds {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Latest returns the newest entry of a series, if any.
func (s *Store) Latest(assetKey string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := s.funds[assetKey]
	if s.isMetal(assetKey) {
		source = s.metals[assetKey]
	}
	if len(source) == 0 {
		return Entry{}, false
	}
	return source[len(source)-1], true
}

// Purge drops entries older than the retention window, per series.
func (s *Store) Purge(retention time.Duration) {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, series := range s.metals {
		s.metals[key] = dropBefore(series, cutoff)
	}
	for key, series := range s.funds {
		s.funds[key] = dropBefore(series, cutoff)
	}
}

func dropBefore(series []Entry, cutoff time.Time) []Entry {
	kept := series[:0:0]
	for _, entry := range series {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	return kept
}

// MetalPoint and FundPoint are the durable snapshot and API wire shapes;
// metals record a price, funds an estimated NAV.
type MetalPoint struct {
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	Timestamp     string  `json:"timestamp"`
}

type FundPoint struct {
	EstimatedValue float64 `json:"estimated_value"`
	ChangePercent  float64 `json:"change_percent"`
	Timestamp      string  `json:"timestamp"`
}

type snapshotJSON struct {
	Gold   []MetalPoint           `json:"gold"`
	Silver []MetalPoint           `json:"silver"`
	Funds  map[string][]FundPoint `json:"funds"`
}

// MetalPoints returns a metal series in wire form.
func (s *Store) MetalPoints(assetKey string) []MetalPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return encodeMetalSeries(s.metals[assetKey])
}

// FundPoints returns one fund series in wire form.
func (s *Store) FundPoints(code string) []FundPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return encodeFundSeries(s.funds[code])
}

// AllFundPoints returns every fund series in wire form, keyed by code.
func (s *Store) AllFundPoints() map[string][]FundPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]FundPoint, len(s.funds))
	for code, series := range s.funds {
		out[code] = encodeFundSeries(series)
	}
	return out
}

// Save serialises the full in-memory state to path. Safe to call repeatedly;
// each call overwrites the previous snapshot.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	snap := snapshotJSON{
		Gold:   encodeMetalSeries(s.metals[AssetGold]),
		Silver: encodeMetalSeries(s.metals[AssetSilver]),
		Funds:  make(map[string][]FundPoint, len(s.funds)),
	}
	for code, series := range s.funds {
		snap.Funds[code] = encodeFundSeries(series)
	}
	s.mu.RUnlock()

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write history snapshot: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("价格历史数据已保存")
	return nil
}

// Load replaces in-memory state with the snapshot at path. A missing file
// initialises empty series; a malformed file is logged and reset to empty.
func (s *Store) Load(path string) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", path).Msg("历史数据文件不存在，将创建新的记录")
		} else {
			s.logger.Error().Err(err).Str("path", path).Msg("加载历史数据失败")
		}
		s.reset()
		return
	}

	var snap snapshotJSON
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("历史数据文件格式错误，已重置")
		s.reset()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.metals = map[string][]Entry{
		AssetGold:   decodeMetalSeries(snap.Gold),
		AssetSilver: decodeMetalSeries(snap.Silver),
	}
	s.funds = make(map[string][]Entry, len(snap.Funds))
	for code, series := range snap.Funds {
		s.funds[code] = decodeFundSeries(series)
	}
	s.logger.Info().Str("path", path).Msg("价格历史数据已加载")
}

func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metals = map[string][]Entry{AssetGold: {}, AssetSilver: {}}
	s.funds = map[string][]Entry{}
}

func encodeMetalSeries(series []Entry) []MetalPoint {
	out := make([]MetalPoint, len(series))
	for i, entry := range series {
		out[i] = MetalPoint{
			Price:         entry.Value,
			ChangePercent: entry.ChangePercent,
			Timestamp:     entry.Timestamp.Format(time.RFC3339),
		}
	}
	return out
}

func encodeFundSeries(series []Entry) []FundPoint {
	out := make([]FundPoint, len(series))
	for i, entry := range series {
		out[i] = FundPoint{
			EstimatedValue: entry.Value,
			ChangePercent:  entry.ChangePercent,
			Timestamp:      entry.Timestamp.Format(time.RFC3339),
		}
	}
	return out
}

func decodeMetalSeries(series []MetalPoint) []Entry {
	out := make([]Entry, 0, len(series))
	for _, raw := range series {
		out = append(out, Entry{
			Value:         raw.Price,
			ChangePercent: raw.ChangePercent,
			Timestamp:     parseTimestamp(raw.Timestamp),
		})
	}
	return out
}

func decodeFundSeries(series []FundPoint) []Entry {
	out := make([]Entry, 0, len(series))
	for _, raw := range series {
		out = append(out, Entry{
			Value:         raw.EstimatedValue,
			ChangePercent: raw.ChangePercent,
			Timestamp:     parseTimestamp(raw.Timestamp),
		})
	}
	return out
}

func parseTimestamp(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
