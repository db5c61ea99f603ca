// Package price provides the BTC/CZK market price used for valuation.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when the upstream answered but carried no usable
// BTC/CZK quote.
var ErrNoPrice = errors.New("price: no BTC/CZK quote")

// Source supplies market prices in CZK per BTC.
type Source interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
	HistoricalPrice(ctx context.Context, day time.Time) (decimal.Decimal, error)
}

// CoinGeckoClient fetches BTC/CZK prices from the CoinGecko API.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
	delay      time.Duration
	maxRetries int
}

// NewCoinGeckoClient creates a new CoinGecko API client. delay is the base
// backoff applied after a 429, doubled on every further attempt.
func NewCoinGeckoClient(baseURL string, delay time.Duration, maxRetries int) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		delay:      delay,
		maxRetries: maxRetries,
	}
}

// CurrentPrice returns the spot BTC price in CZK.
func (c *CoinGeckoClient) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/simple/price?ids=bitcoin&vs_currencies=czk", c.baseURL)

	body, err := c.fetchWithRetry(ctx, url)
	if err != nil {
		return decimal.Zero, err
	}

	// {"bitcoin":{"czk":2150000.12}}
	var raw map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("parsing CoinGecko response: %w", err)
	}
	p, ok := raw["bitcoin"]["czk"]
	if !ok || !p.IsPositive() {
		return decimal.Zero, ErrNoPrice
	}
	return p, nil
}

// HistoricalPrice returns the BTC price in CZK at the start of day (UTC).
func (c *CoinGeckoClient) HistoricalPrice(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/coins/bitcoin/history?date=%s&localization=false",
		c.baseURL, day.UTC().Format("02-01-2006"))

	body, err := c.fetchWithRetry(ctx, url)
	if err != nil {
		return decimal.Zero, err
	}

	var raw struct {
		MarketData struct {
			CurrentPrice map[string]decimal.Decimal `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("parsing CoinGecko history: %w", err)
	}
	p, ok := raw.MarketData.CurrentPrice["czk"]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", day.Format(time.DateOnly), ErrNoPrice)
	}
	return p, nil
}

func (c *CoinGeckoClient) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if attempt > 0 {
			baseDelay := c.delay
			if baseDelay == 0 {
				baseDelay = 10 * time.Second
			}
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating CoinGecko request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("CoinGecko request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading CoinGecko response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("CoinGecko rate limited (attempt %d/%d)", attempt+1, c.maxRetries+1)
			continue
		}

		return nil, fmt.Errorf("CoinGecko HTTP %d: %s", resp.StatusCode, string(body))
	}

	return nil, lastErr
}
