package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceSampleSQL = `INSERT INTO price_samples (
        asset,
        price,
        change_percent,
        sample_ts
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (asset, sample_ts) DO UPDATE
    SET
        price          = EXCLUDED.price,
        change_percent = EXCLUDED.change_percent;`

	listSamplesBetweenSQL = `SELECT
        asset,
        price,
        change_percent,
        sample_ts,
        created_at
    FROM price_samples
    WHERE asset = $1
      AND sample_ts >= $2
      AND sample_ts < $3
    ORDER BY sample_ts;`

	listRecentSamplesSQL = `SELECT
        asset,
        price,
        change_percent,
        sample_ts,
        created_at
    FROM price_samples
    WHERE asset = $1
    ORDER BY sample_ts DESC
    LIMIT $2;`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE sample_ts < $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        alert_type,
        asset_key,
        value,
        threshold,
        message
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, alert_type, asset_key, value, threshold, message, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        alert_type,
        asset_key,
        value,
        threshold,
        message,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`
)

// PriceSampleStore defines operations for price sample persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, asset string, limit int) ([]PriceSample, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// Store aggregates access to price samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPriceSample persists or updates a price sample.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Asset,
		sample.Price.String(),
		sample.ChangePercent.String(),
		sample.SampleTS,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples for one asset within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples for one asset.
func (s *Store) ListRecentSamples(ctx context.Context, asset string, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeleteSamplesBefore prunes old price samples.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete samples before: %w", execErr)
	}
	return nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.AlertType,
		alert.AssetKey,
		alert.Value.String(),
		alert.Threshold.String(),
		alert.Message,
	)

	var rec AlertRecord
	var valueStr, thresholdStr string
	if scanErr := row.Scan(
		&rec.ID,
		&rec.AlertType,
		&rec.AssetKey,
		&valueStr,
		&thresholdStr,
		&rec.Message,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	var convErr error
	rec.Value, convErr = decimal.NewFromString(valueStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse alert value: %w", convErr)
	}
	rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse alert threshold: %w", convErr)
	}

	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var valueStr, thresholdStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.AlertType,
			&rec.AssetKey,
			&valueStr,
			&thresholdStr,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Value, convErr = decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert value: %w", convErr)
		}
		rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert threshold: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		asset     string
		priceStr  string
		changeStr string
		sampleTS  time.Time
		createdAt time.Time
	)

	if err := rows.Scan(&asset, &priceStr, &changeStr, &sampleTS, &createdAt); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	change, err := decimal.NewFromString(changeStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse change percent: %w", err)
	}

	return PriceSample{
		Asset:         asset,
		Price:         price,
		ChangePercent: change,
		SampleTS:      sampleTS,
		CreatedAt:     createdAt,
	}, nil
}

var (
	_ PriceSampleStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
)
