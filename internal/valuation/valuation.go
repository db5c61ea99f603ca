// Package valuation computes the CZK value of a loan's BTC position.
//
// All functions are pure. Results carry full decimal precision; rounding is
// applied only by Report.Rounded at the presentation boundary.
package valuation

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/model"
	"github.com/satlend/exit-engine/internal/strategy"
)

var hundred = decimal.NewFromInt(100)

// Input is everything needed to value one loan.
type Input struct {
	Loan        model.Loan
	Orders      []model.SellOrder
	Kind        strategy.Kind
	MarketPrice decimal.Decimal
	// SimulatedPrice overrides the valuation price of unsold BTC when the
	// kind allows it and the value is positive.
	SimulatedPrice decimal.Decimal
}

// Report is the valuation of one loan.
type Report struct {
	LoanID                 string          `json:"loanId"`
	Kind                   strategy.Kind   `json:"strategyType"`
	MarketPriceCZK         decimal.Decimal `json:"marketPriceCzk"`
	ValuationPriceCZK      decimal.Decimal `json:"valuationPriceCzk"`
	Simulated              bool            `json:"simulated"`
	SoldBTC                decimal.Decimal `json:"soldBtc"`
	RemainingBTC           decimal.Decimal `json:"remainingBtc"`
	UnallocatedBTC         decimal.Decimal `json:"unallocatedBtc"`
	RealizedCZK            decimal.Decimal `json:"realizedCzk"`
	CurrentValueCZK        decimal.Decimal `json:"currentValueCzk"`
	PotentialValueCZK      decimal.Decimal `json:"potentialValueCzk"`
	CurrentProfitPercent   decimal.Decimal `json:"currentProfitPercent"`
	PotentialProfitPercent decimal.Decimal `json:"potentialProfitPercent"`
}

// Evaluate values the loan at the market price and at its valuation price.
func Evaluate(in Input) Report {
	vp, simulated := ValuationPrice(in.Kind, in.Orders, in.MarketPrice, in.SimulatedPrice)
	current := Current(in.Loan, in.Orders, in.MarketPrice)
	potential := Potential(in.Loan, in.Orders, vp)

	return Report{
		LoanID:                 in.Loan.ID,
		Kind:                   in.Kind,
		MarketPriceCZK:         in.MarketPrice,
		ValuationPriceCZK:      vp,
		Simulated:              simulated,
		SoldBTC:                sumBTC(in.Orders, completed),
		RemainingBTC:           RemainingBTC(in.Loan, in.Orders),
		UnallocatedBTC:         UnallocatedBTC(in.Loan, in.Orders),
		RealizedCZK:            sumCZK(in.Orders, completed),
		CurrentValueCZK:        current,
		PotentialValueCZK:      potential,
		CurrentProfitPercent:   ProfitPercent(current, in.Loan.RepaymentCZK),
		PotentialProfitPercent: ProfitPercent(potential, in.Loan.RepaymentCZK),
	}
}

// Current is the unsold BTC at market plus the proceeds of completed orders.
func Current(loan model.Loan, orders []model.SellOrder, marketPrice decimal.Decimal) decimal.Decimal {
	return RemainingBTC(loan, orders).Mul(marketPrice).Add(sumCZK(orders, completed))
}

// Potential is the proceeds of pending orders at their own prices plus the
// BTC no order covers at valuationPrice.
func Potential(loan model.Loan, orders []model.SellOrder, valuationPrice decimal.Decimal) decimal.Decimal {
	return sumCZK(orders, pending).Add(UnallocatedBTC(loan, orders).Mul(valuationPrice))
}

// ValuationPrice picks the price applied to unallocated BTC. Kinds that allow
// simulation take a positive simulated price; otherwise the highest pending
// order price is used, falling back to the market price. The second result
// reports whether the simulated price was used.
func ValuationPrice(kind strategy.Kind, orders []model.SellOrder, marketPrice, simulated decimal.Decimal) (decimal.Decimal, bool) {
	if kind.AllowsSimulation() && simulated.IsPositive() {
		return simulated, true
	}
	return CanonicalPrice(orders, marketPrice), false
}

// CanonicalPrice is the highest price among pending orders, or marketPrice
// when there are none.
func CanonicalPrice(orders []model.SellOrder, marketPrice decimal.Decimal) decimal.Decimal {
	open := lo.Filter(orders, func(o model.SellOrder, _ int) bool { return pending(o) })
	if len(open) == 0 {
		return marketPrice
	}
	return lo.MaxBy(open, func(a, b model.SellOrder) bool {
		return a.PricePerBTC.GreaterThan(b.PricePerBTC)
	}).PricePerBTC
}

// ProfitPercent is (value − repayment) / repayment × 100, or zero when
// there is nothing to repay.
func ProfitPercent(value, repayment decimal.Decimal) decimal.Decimal {
	if repayment.IsZero() {
		return decimal.Zero
	}
	return value.Sub(repayment).Div(repayment).Mul(hundred)
}

// RemainingBTC is bought BTC not yet sold, never below zero.
func RemainingBTC(loan model.Loan, orders []model.SellOrder) decimal.Decimal {
	return nonNegative(loan.BoughtBTC().Sub(sumBTC(orders, completed)))
}

// UnallocatedBTC is bought BTC not covered by any live or completed order,
// never below zero.
func UnallocatedBTC(loan model.Loan, orders []model.SellOrder) decimal.Decimal {
	return nonNegative(loan.BoughtBTC().Sub(sumBTC(orders, allocated)))
}

func completed(o model.SellOrder) bool { return o.Status == model.StatusCompleted }

func pending(o model.SellOrder) bool { return o.Status.Pending() }

func allocated(o model.SellOrder) bool {
	return o.Status != model.StatusCancelled && o.Status != model.StatusFailed
}

func sumBTC(orders []model.SellOrder, keep func(model.SellOrder) bool) decimal.Decimal {
	return lo.Reduce(orders, func(acc decimal.Decimal, o model.SellOrder, _ int) decimal.Decimal {
		if keep(o) {
			return acc.Add(o.BTCAmount)
		}
		return acc
	}, decimal.Zero)
}

func sumCZK(orders []model.SellOrder, keep func(model.SellOrder) bool) decimal.Decimal {
	return lo.Reduce(orders, func(acc decimal.Decimal, o model.SellOrder, _ int) decimal.Decimal {
		if keep(o) {
			return acc.Add(o.TotalCZK())
		}
		return acc
	}, decimal.Zero)
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	return decimal.Max(v, decimal.Zero)
}
