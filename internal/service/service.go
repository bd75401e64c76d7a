package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"finmonitor/internal/alert"
	"finmonitor/internal/alerting"
	"finmonitor/internal/config"
	"finmonitor/internal/fetcher"
	"finmonitor/internal/history"
	"finmonitor/internal/ingest"
	"finmonitor/internal/market"
	"finmonitor/internal/storage"
)

// Options wires the service collaborators.
type Options struct {
	Metals     fetcher.MetalFetcher
	Funds      fetcher.FundFetcher
	History    *history.Store
	Engine     *alert.Engine
	Notifier   alerting.Notifier
	Watchlists *config.Watchlists
	Samples    storage.PriceSampleStore
	AlertLog   storage.AlertStore

	SnapshotPath string
	EmailEnabled bool
}

// Service orchestrates one polling cycle: fetch, normalize, record,
// evaluate alerts, notify.
type Service struct {
	opts       Options
	normalizer *ingest.Normalizer
	logger     zerolog.Logger

	mu         sync.RWMutex
	lastMetals map[string]market.MetalSnapshot
	lastFunds  map[string]market.FundSnapshot
	lastPollAt time.Time
	pollCount  int64
}

// New constructs the monitoring service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		opts:       opts,
		normalizer: ingest.NewNormalizer(logger),
		logger:     logger.With().Str("component", "service").Logger(),
		lastMetals: make(map[string]market.MetalSnapshot),
		lastFunds:  make(map[string]market.FundSnapshot),
	}
}

// PollOnce executes a single monitoring cycle. Upstream failures are
// logged and degrade the cycle instead of aborting it.
func (s *Service) PollOnce(ctx context.Context, now time.Time) error {
	metalSnaps := s.fetchMetals(ctx)
	fundSnaps := s.fetchFunds(ctx)

	s.record(ctx, metalSnaps, fundSnaps)

	events := s.evaluate(metalSnaps, fundSnaps)
	if len(events) > 0 {
		s.dispatch(ctx, events)
	}

	s.mu.Lock()
	s.lastMetals = metalSnaps
	s.lastFunds = fundSnaps
	s.lastPollAt = now
	s.pollCount++
	s.mu.Unlock()

	if s.opts.SnapshotPath != "" {
		if err := s.opts.History.Save(s.opts.SnapshotPath); err != nil {
			s.logger.Error().Err(err).Msg("保存历史快照失败")
		}
	}

	s.logger.Info().
		Int("metals", len(metalSnaps)).
		Int("funds", len(fundSnaps)).
		Int("alerts", len(events)).
		Msg("轮询完成")
	return nil
}

func (s *Service) fetchMetals(ctx context.Context) map[string]market.MetalSnapshot {
	raw, err := s.opts.Metals.FetchMetals(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("获取贵金属行情失败")
		return map[string]market.MetalSnapshot{}
	}
	return s.normalizer.NormalizeMetals(raw)
}

func (s *Service) fetchFunds(ctx context.Context) map[string]market.FundSnapshot {
	codes := s.opts.Watchlists.FundCodes()
	if len(codes) == 0 {
		return map[string]market.FundSnapshot{}
	}
	return s.normalizer.NormalizeFunds(s.opts.Funds.FetchFunds(ctx, codes))
}

func (s *Service) record(ctx context.Context, metals map[string]market.MetalSnapshot, funds map[string]market.FundSnapshot) {
	for _, key := range []string{history.AssetGold, history.AssetSilver} {
		snapshot, ok := metals[key]
		if !ok {
			continue
		}
		s.opts.History.Append(key, history.Entry{
			Value:         snapshot.CurrentPrice,
			ChangePercent: snapshot.ChangePercent,
			Timestamp:     snapshot.Timestamp,
		})
		s.persistSample(ctx, key, snapshot.CurrentPrice, snapshot.ChangePercent, snapshot.Timestamp)
	}

	for code, snapshot := range funds {
		if snapshot.Failed() {
			continue
		}
		s.opts.History.Append(code, history.Entry{
			Value:         snapshot.EstimatedValue,
			ChangePercent: snapshot.ChangePercent,
			Timestamp:     snapshot.Timestamp,
		})
		s.persistSample(ctx, code, snapshot.EstimatedValue, snapshot.ChangePercent, snapshot.Timestamp)
	}
}

func (s *Service) persistSample(ctx context.Context, asset string, value, change float64, ts time.Time) {
	if s.opts.Samples == nil {
		return
	}
	sample := storage.PriceSample{
		Asset:         asset,
		Price:         decimal.NewFromFloat(value),
		ChangePercent: decimal.NewFromFloat(change),
		SampleTS:      ts,
	}
	if err := s.opts.Samples.UpsertPriceSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("asset", asset).Msg("价格样本入库失败")
	}
}

func (s *Service) evaluate(metals map[string]market.MetalSnapshot, funds map[string]market.FundSnapshot) []alert.Event {
	var gold, silver *market.MetalSnapshot
	if snapshot, ok := metals[history.AssetGold]; ok {
		gold = &snapshot
	}
	if snapshot, ok := metals[history.AssetSilver]; ok {
		silver = &snapshot
	}

	events := s.opts.Engine.CheckMetals(gold, silver)
	events = append(events, s.opts.Engine.CheckFunds(funds)...)
	return events
}

func (s *Service) dispatch(ctx context.Context, events []alert.Event) {
	recipients := s.opts.Watchlists.Emails()

	for _, ev := range events {
		s.logger.Warn().Str("type", ev.Type).Msg(alert.Message(ev))

		s.persistAlert(ctx, ev)

		if !s.opts.EmailEnabled || s.opts.Notifier == nil || len(recipients) == 0 {
			continue
		}
		if err := s.opts.Notifier.Notify(ctx, recipients, alert.Subject(ev), alert.EmailBody(ev)); err != nil {
			s.logger.Error().Err(err).Str("type", ev.Type).Msg("告警邮件发送失败")
		}
	}
}

func (s *Service) persistAlert(ctx context.Context, ev alert.Event) {
	if s.opts.AlertLog == nil {
		return
	}

	record := storage.AlertRecord{
		AlertType: ev.Type,
		Threshold: decimal.NewFromFloat(ev.Threshold),
		Message:   alert.Message(ev),
	}
	if ev.Type == alert.TypeFundChange {
		record.AssetKey = "fund_" + ev.FundCode
		record.Value = decimal.NewFromFloat(ev.ChangePercent)
	} else {
		record.AssetKey = ev.AssetType + "_price"
		record.Value = decimal.NewFromFloat(ev.CurrentPrice)
	}

	if _, err := s.opts.AlertLog.InsertAlert(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("key", record.AssetKey).Msg("告警记录入库失败")
	}
}

// SendSummary renders and mails the daily report from the latest snapshots.
func (s *Service) SendSummary(ctx context.Context, now time.Time) error {
	if !s.opts.EmailEnabled || s.opts.Notifier == nil {
		return nil
	}
	recipients := s.opts.Watchlists.Emails()
	if len(recipients) == 0 {
		return nil
	}

	metals, funds := s.Latest()
	subject := alerting.SummarySubject(now)
	body := alerting.SummaryBody(metals, funds, len(recipients), now)
	return s.opts.Notifier.Notify(ctx, recipients, subject, body)
}

// Latest returns the snapshots from the most recent completed poll.
func (s *Service) Latest() (map[string]market.MetalSnapshot, map[string]market.FundSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metals := make(map[string]market.MetalSnapshot, len(s.lastMetals))
	for key, snapshot := range s.lastMetals {
		metals[key] = snapshot
	}
	funds := make(map[string]market.FundSnapshot, len(s.lastFunds))
	for key, snapshot := range s.lastFunds {
		funds[key] = snapshot
	}
	return metals, funds
}

// Status reports poll progress for the health endpoint.
func (s *Service) Status() (lastPoll time.Time, polls int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPollAt, s.pollCount
}
