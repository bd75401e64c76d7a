package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample represents a persisted observation of a monitored asset.
// Asset is the series key ("gold", "silver" or a fund code).
type PriceSample struct {
	Asset         string
	Price         decimal.Decimal
	ChangePercent decimal.Decimal
	SampleTS      time.Time
	CreatedAt     time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	AlertType string
	AssetKey  string
	Value     decimal.Decimal
	Threshold decimal.Decimal
	Message   string
	CreatedAt time.Time
}
