// Package model defines the core domain types shared across the exit engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a sell order.
type OrderStatus string

const (
	StatusPlanned         OrderStatus = "PLANNED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusCompleted       OrderStatus = "COMPLETED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusFailed          OrderStatus = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusSubmitted, StatusPartiallyFilled,
		StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OnExchange reports whether the order lives on the exchange and is still
// working there.
func (s OrderStatus) OnExchange() bool {
	return s == StatusSubmitted || s == StatusPartiallyFilled
}

// Pending reports whether the order still counts towards the strategy's
// projected proceeds (planned or working on the exchange).
func (s OrderStatus) Pending() bool {
	return s == StatusPlanned || s.OnExchange()
}

// Loan is a BTC-collateralized loan. Loan CRUD lives outside this service;
// the engine only reads loans.
type Loan struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"userId" db:"user_id"`
	PurchasedBTC       decimal.Decimal `json:"purchasedBtc" db:"purchased_btc"`
	FeesBTC            decimal.Decimal `json:"feesBtc" db:"fees_btc"`
	TransactionFeesBTC decimal.Decimal `json:"transactionFeesBtc" db:"transaction_fees_btc"`
	RepaymentCZK       decimal.Decimal `json:"repaymentAmountCzk" db:"repayment_amount_czk"`
	RepaymentDate      time.Time       `json:"repaymentDate" db:"repayment_date"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
}

// BoughtBTC is the sellable baseline: purchased BTC minus platform and
// transaction fees.
func (l Loan) BoughtBTC() decimal.Decimal {
	return l.PurchasedBTC.Sub(l.FeesBTC).Sub(l.TransactionFeesBTC)
}

// SellOrder is one rung of a loan's exit ladder.
// Once submitted, ExchangeOrderID is its identity on the exchange.
type SellOrder struct {
	ID              string          `json:"id" db:"id"`
	LoanID          string          `json:"loanId" db:"loan_id"`
	ExchangeOrderID string          `json:"exchangeOrderId,omitempty" db:"exchange_order_id"`
	BTCAmount       decimal.Decimal `json:"btcAmount" db:"btc_amount"`
	PricePerBTC     decimal.Decimal `json:"pricePerBtc" db:"price_per_btc"`
	Status          OrderStatus     `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// TotalCZK is the order's proceeds at its own price.
func (o SellOrder) TotalCZK() decimal.Decimal {
	return o.BTCAmount.Mul(o.PricePerBTC)
}

// StrategyRecord is the persisted form of a loan's exit strategy. Payload
// holds the tagged wire JSON produced by the strategy package.
type StrategyRecord struct {
	LoanID    string    `json:"loanId" db:"loan_id"`
	Kind      string    `json:"kind" db:"kind"`
	Payload   []byte    `json:"payload" db:"payload"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
