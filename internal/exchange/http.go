// Package exchange implements order.Gateway against a remote order service
// (HTTPGateway) and an in-process paper exchange (Paper) for development.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/order"
)

// HTTPGateway talks to the exchange order service over JSON/HTTP.
// Calls are never retried; failures surface to the caller.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway for the service at baseURL.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type openRequest struct {
	ClientOrderID string          `json:"clientOrderId"`
	LoanID        string          `json:"loanId"`
	BTCAmount     decimal.Decimal `json:"btcAmount"`
	Price         decimal.Decimal `json:"price"`
}

type openResponse struct {
	ExchangeOrderID string `json:"exchangeOrderId"`
}

type syncResponse struct {
	Orders []order.Report `json:"orders"`
}

// OpenOrder places a limit sell order. A 400 or 422 answer means the
// exchange refused the order and wraps order.ErrRejected.
func (g *HTTPGateway) OpenOrder(ctx context.Context, o model.SellOrder) (string, error) {
	body, err := json.Marshal(openRequest{
		ClientOrderID: o.ID,
		LoanID:        o.LoanID,
		BTCAmount:     o.BTCAmount,
		Price:         o.PricePerBTC,
	})
	if err != nil {
		return "", fmt.Errorf("encoding open request: %w", err)
	}

	var resp openResponse
	if err := g.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return "", err
	}
	if resp.ExchangeOrderID == "" {
		return "", fmt.Errorf("exchange returned no order id for %s", o.ID)
	}
	return resp.ExchangeOrderID, nil
}

// CancelOrder cancels a working order.
func (g *HTTPGateway) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return g.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(exchangeOrderID)+"/cancel", nil, nil)
}

// SyncOrders fetches every order the exchange holds for the user.
func (g *HTTPGateway) SyncOrders(ctx context.Context, userID string) ([]order.Report, error) {
	var resp syncResponse
	if err := g.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/orders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating exchange request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading exchange response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", order.ErrRejected, errorMessage(data))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("exchange HTTP %d: %s", resp.StatusCode, errorMessage(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing exchange response: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a response, falling back to
// the raw body.
func errorMessage(data []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(data))
}
