package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/model"
)

// ErrRejected is returned (wrapped) by a Gateway when the exchange
// definitively refused an order, as opposed to a transport failure.
var ErrRejected = errors.New("exchange rejected the order")

// Gateway is the remote exchange that physically places sell orders.
type Gateway interface {
	// OpenOrder submits the order and returns its exchange order ID. The
	// local order ID travels as the client order ID, and reopening an order
	// the exchange still holds must return the same exchange order ID.
	OpenOrder(ctx context.Context, order model.SellOrder) (string, error)

	// CancelOrder cancels a working order by its exchange order ID.
	CancelOrder(ctx context.Context, exchangeOrderID string) error

	// SyncOrders returns the exchange's authoritative view of the user's
	// orders in one batch.
	SyncOrders(ctx context.Context, userID string) ([]Report, error)
}

// Report is one order as the exchange sees it. ClientOrderID is the local
// order ID it was opened with, empty for orders placed elsewhere.
type Report struct {
	ExchangeOrderID string            `json:"exchangeOrderId"`
	ClientOrderID   string            `json:"clientOrderId,omitempty"`
	LoanID          string            `json:"loanId"`
	Status          model.OrderStatus `json:"status"`
	BTCAmount       decimal.Decimal   `json:"btcAmount"`
	Price           decimal.Decimal   `json:"price"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

// Notifier receives committed order changes. Implementations must not block.
type Notifier interface {
	OrderChanged(order model.SellOrder)
}
