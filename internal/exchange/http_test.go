package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/order"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestHTTPGateway_OpenOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req openRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ClientOrderID != "ord-1" || !req.Price.Equal(d(2500000)) {
			t.Errorf("unexpected body %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"exchangeOrderId":"ex-123"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, time.Second)
	id, err := gw.OpenOrder(context.Background(), model.SellOrder{
		ID: "ord-1", LoanID: "loan-1", BTCAmount: d(0.05), PricePerBTC: d(2500000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ex-123" {
		t.Errorf("exchange id = %q, want ex-123", id)
	}
}

func TestHTTPGateway_OpenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"insufficient balance"}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, time.Second)
	_, err := gw.OpenOrder(context.Background(), model.SellOrder{ID: "ord-1"})
	if !errors.Is(err, order.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestHTTPGateway_ServerErrorIsNotRejection(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, time.Second)
	err := gw.CancelOrder(context.Background(), "ex-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, order.ErrRejected) {
		t.Errorf("503 must not read as a rejection: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retries)", calls)
	}
}

func TestHTTPGateway_SyncOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user-1/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orders":[
			{"exchangeOrderId":"ex-1","loanId":"loan-1","status":"COMPLETED","btcAmount":0.05,"price":"2500000","completedAt":"2026-03-01T10:00:00Z"},
			{"exchangeOrderId":"ex-2","loanId":"loan-1","status":"SUBMITTED","btcAmount":"0.1","price":2600000}
		]}`))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, time.Second)
	reports, err := gw.SyncOrders(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].Status != model.StatusCompleted || reports[0].CompletedAt == nil {
		t.Errorf("first report = %+v", reports[0])
	}
	if !reports[1].BTCAmount.Equal(d(0.1)) || !reports[1].Price.Equal(d(2600000)) {
		t.Errorf("second report amounts = %s @ %s", reports[1].BTCAmount, reports[1].Price)
	}
}

func TestHTTPGateway_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, 20*time.Millisecond)
	if _, err := gw.SyncOrders(context.Background(), "user-1"); err == nil {
		t.Fatal("expected timeout error")
	}
}
