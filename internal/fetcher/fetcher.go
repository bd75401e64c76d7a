package fetcher

import "context"

// MetalQuote is the raw upstream shape of one precious-metal quote before
// normalization. ChangePercent keeps the provider's "%"-suffixed string.
type MetalQuote struct {
	Name          string
	Price         float64
	OpenPrice     float64
	HighPrice     float64
	LowPrice      float64
	ChangePercent string
	UpdateTime    string
	Source        string
}

// FundQuote is the raw upstream shape of one fund NAV estimate.
type FundQuote struct {
	Code           string
	Name           string
	NetValue       float64
	EstimatedValue float64
	ChangePercent  float64
	UpdateTime     string
}

// FundResult pairs a quote with the fetch error for its code, so one bad
// fund never aborts a batch.
type FundResult struct {
	Quote FundQuote
	Err   error
}

// MetalFetcher retrieves gold and silver quotes, keyed "gold"/"silver".
type MetalFetcher interface {
	FetchMetals(ctx context.Context) (map[string]MetalQuote, error)
}

// FundFetcher retrieves per-fund NAV estimates.
type FundFetcher interface {
	FetchFund(ctx context.Context, code string) (FundQuote, error)
	FetchFunds(ctx context.Context, codes []string) map[string]FundResult
}
