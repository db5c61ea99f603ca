package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/order"
)

// DefaultMinOrderBTC is the smallest order the paper exchange accepts.
var DefaultMinOrderBTC = decimal.New(1, -4) // 0.0001 BTC

// LoanLookup resolves the owner of a loan.
type LoanLookup interface {
	GetLoan(ctx context.Context, id string) (*model.Loan, error)
}

// PriceSource quotes the current BTC/CZK price.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
}

type paperOrder struct {
	report order.Report
	userID string
}

// Paper is an in-process exchange. Limit sell orders fill completely on the
// first sync at which the market price reaches their price.
type Paper struct {
	mu     sync.Mutex
	loans  LoanLookup
	prices PriceSource
	minBTC decimal.Decimal
	orders map[string]*paperOrder
	now    func() time.Time
}

// NewPaper creates a paper exchange. Orders below minBTC are rejected; a
// zero minBTC selects DefaultMinOrderBTC.
func NewPaper(loans LoanLookup, prices PriceSource, minBTC decimal.Decimal) *Paper {
	if !minBTC.IsPositive() {
		minBTC = DefaultMinOrderBTC
	}
	return &Paper{
		loans:  loans,
		prices: prices,
		minBTC: minBTC,
		orders: make(map[string]*paperOrder),
		now:    time.Now,
	}
}

// OpenOrder accepts a limit sell order. Reopening an order that is still
// working returns its existing exchange order ID.
func (p *Paper) OpenOrder(ctx context.Context, o model.SellOrder) (string, error) {
	if o.BTCAmount.LessThan(p.minBTC) {
		return "", fmt.Errorf("%w: amount %s below minimum %s", order.ErrRejected, o.BTCAmount, p.minBTC)
	}
	if !o.PricePerBTC.IsPositive() {
		return "", fmt.Errorf("%w: price must be positive", order.ErrRejected)
	}

	loan, err := p.loans.GetLoan(ctx, o.LoanID)
	if err != nil {
		return "", fmt.Errorf("resolving loan %s: %w", o.LoanID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, po := range p.orders {
		if po.report.ClientOrderID == o.ID && po.report.Status.OnExchange() {
			return id, nil
		}
	}

	id := "paper-" + uuid.New().String()
	p.orders[id] = &paperOrder{
		userID: loan.UserID,
		report: order.Report{
			ExchangeOrderID: id,
			ClientOrderID:   o.ID,
			LoanID:          o.LoanID,
			Status:          model.StatusSubmitted,
			BTCAmount:       o.BTCAmount,
			Price:           o.PricePerBTC,
		},
	}
	return id, nil
}

func (p *Paper) CancelOrder(_ context.Context, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper order %s not found", exchangeOrderID)
	}
	if !po.report.Status.OnExchange() {
		return fmt.Errorf("%w: order %s is %s", order.ErrRejected, exchangeOrderID, po.report.Status)
	}
	po.report.Status = model.StatusCancelled
	return nil
}

// SyncOrders fills every working order of the user priced at or below the
// current market and reports all of the user's orders.
func (p *Paper) SyncOrders(ctx context.Context, userID string) ([]order.Report, error) {
	market, err := p.prices.CurrentPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper exchange price: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	var reports []order.Report
	for _, po := range p.orders {
		if po.userID != userID {
			continue
		}
		if po.report.Status.OnExchange() && market.GreaterThanOrEqual(po.report.Price) {
			po.report.Status = model.StatusCompleted
			t := now
			po.report.CompletedAt = &t
		}
		reports = append(reports, po.report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ExchangeOrderID < reports[j].ExchangeOrderID
	})
	return reports, nil
}
