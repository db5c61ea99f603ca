// Package store defines the persistence interface for the exit engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/satlend/exit-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Loans (read-only to the engine; CreateLoan seeds fixtures) ---

	// CreateLoan persists a new loan.
	CreateLoan(ctx context.Context, loan *model.Loan) error

	// GetLoan retrieves a loan by its ID.
	GetLoan(ctx context.Context, id string) (*model.Loan, error)

	// ListLoansByUser returns all loans of a user.
	ListLoansByUser(ctx context.Context, userID string) ([]model.Loan, error)

	// ListUsersWithOpenOrders returns users that own at least one order
	// working on the exchange.
	ListUsersWithOpenOrders(ctx context.Context) ([]string, error)

	// --- Sell orders ---

	// ListSellOrders returns a loan's orders ordered by creation time.
	ListSellOrders(ctx context.Context, loanID string) ([]model.SellOrder, error)

	// GetSellOrder retrieves an order by its ID.
	GetSellOrder(ctx context.Context, id string) (*model.SellOrder, error)

	// GetSellOrderByExchangeID retrieves an order by its exchange order ID.
	GetSellOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*model.SellOrder, error)

	// InsertSellOrder persists a new order. An order whose exchange ID is
	// already known fails with ErrDuplicateExchangeID.
	InsertSellOrder(ctx context.Context, order *model.SellOrder) error

	// UpdateSellOrder overwrites status, exchange ID and completion time.
	UpdateSellOrder(ctx context.Context, order *model.SellOrder) error

	// DeleteSellOrder removes an order.
	DeleteSellOrder(ctx context.Context, id string) error

	// ReplacePlannedOrders atomically drops the loan's PLANNED and FAILED
	// orders and inserts the given ones. Orders known to the exchange are
	// left untouched.
	ReplacePlannedOrders(ctx context.Context, loanID string, orders []model.SellOrder) error

	// --- Strategy persistence ---

	// GetStrategy returns the loan's stored strategy or ErrNotFound.
	GetStrategy(ctx context.Context, loanID string) (*model.StrategyRecord, error)

	// PutStrategy creates or replaces the loan's strategy.
	PutStrategy(ctx context.Context, rec *model.StrategyRecord) error
}
