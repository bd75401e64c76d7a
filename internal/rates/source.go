package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Source yields a single USD->CNY quote from one upstream provider.
type Source interface {
	Name() string
	FetchRate(ctx context.Context) (float64, error)
}

// apiSource is a declarative HTTP quote source: one URL, one payload parser.
type apiSource struct {
	name   string
	url    string
	parse  func([]byte) (float64, error)
	client *http.Client
	logger zerolog.Logger
}

func newAPISource(name, url string, parse func([]byte) (float64, error), client *http.Client, logger zerolog.Logger) *apiSource {
	return &apiSource{
		name:   name,
		url:    url,
		parse:  parse,
		client: client,
		logger: logger.With().Str("component", "rate_source").Str("source", name).Logger(),
	}
}

func (s *apiSource) Name() string {
	return s.name
}

func (s *apiSource) FetchRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s 响应码异常: %d", s.name, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	rate, err := s.parse(payload)
	if err != nil {
		return 0, fmt.Errorf("parse %s payload: %w", s.name, err)
	}
	return rate, nil
}

func parseRatesCNY(payload []byte) (float64, error) {
	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	rate, ok := body.Rates["CNY"]
	if !ok || rate == 0 {
		return 0, errors.New("missing CNY rate")
	}
	return rate, nil
}

func parseCurrencyAPI(payload []byte) (float64, error) {
	var body struct {
		Data map[string]struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	entry, ok := body.Data["CNY"]
	if !ok || entry.Value == 0 {
		return 0, errors.New("missing CNY rate")
	}
	return entry.Value, nil
}

// DefaultSources returns the ordered trial list of quote providers. Order is
// a design choice; the first plausible answer wins.
func DefaultSources(timeout time.Duration, logger zerolog.Logger) []Source {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return []Source{
		newAPISource("Exchangerate-API", "https://api.exchangerate-api.com/v4/latest/USD", parseRatesCNY, client, logger),
		newAPISource("ExchangeRate.host", "https://api.exchangerate.host/latest?base=USD&symbols=CNY", parseRatesCNY, client, logger),
		newAPISource("CurrencyAPI", "https://api.currencyapi.com/v3/latest?apikey=fca_live_demo&base_currency=USD", parseCurrencyAPI, client, logger),
		newAPISource("Fixer", "https://api.fixer.io/latest?base=USD&symbols=CNY", parseRatesCNY, client, logger),
		newAPISource("OpenExchangeRates", "https://openexchangerates.org/api/latest.json?app_id=demo&base=USD&symbols=CNY", parseRatesCNY, client, logger),
	}
}
