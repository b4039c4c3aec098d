package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// YahooSource fetches quotes from the Yahoo Finance v8 chart endpoint.
type YahooSource struct {
	cli     *http.Client
	baseURL string
}

// NewYahooSource creates a source with a bounded request timeout.
func NewYahooSource(timeout time.Duration) *YahooSource {
	return &YahooSource{
		cli:     &http.Client{Timeout: timeout},
		baseURL: "https://query2.finance.yahoo.com",
	}
}

func (s *YahooSource) Fetch(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, ErrNotFound
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d", s.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", "stockarena-engine/1.0")

	resp, err := s.cli.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: yahoo http %d", ErrUnavailable, resp.StatusCode)
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Meta struct {
					RegularMarketPrice float64 `json:"regularMarketPrice"`
					RegularMarketTime  int64   `json:"regularMarketTime"`
				} `json:"meta"`
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close []float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
		} `json:"chart"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(raw.Chart.Result) == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	r := raw.Chart.Result[0]
	price := r.Meta.RegularMarketPrice
	asOf := time.Unix(r.Meta.RegularMarketTime, 0).UTC()

	// Fall back to the last non-zero close when meta is missing.
	if (price <= 0 || r.Meta.RegularMarketTime == 0) &&
		len(r.Timestamp) > 0 && len(r.Indicators.Quote) > 0 &&
		len(r.Indicators.Quote[0].Close) == len(r.Timestamp) {
		for i := len(r.Timestamp) - 1; i >= 0; i-- {
			if c := r.Indicators.Quote[0].Close[i]; c > 0 {
				price = c
				asOf = time.Unix(r.Timestamp[i], 0).UTC()
				break
			}
		}
	}

	if price <= 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	return Quote{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(price),
		AsOf:   asOf,
	}, nil
}
