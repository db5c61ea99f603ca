// Package ladder implements the sell-order distribution algorithms that turn
// a loan's sellable BTC into an ordered list of (price, amount) proposals.
//
// Every function here is a deterministic pure function of its arguments: no
// clock, no randomness, no I/O. Nothing is rounded; rounding is a
// presentation concern handled by callers.
//
// All monetary values use shopspring/decimal, never float64.
package ladder

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)

	// SmartSpread is the total relative width of a smart-distribution ladder
	// around its anchor price: levels run from anchor×(1−SmartSpread/2) to
	// anchor×(1+SmartSpread/2).
	SmartSpread = decimal.NewFromFloat(0.2)
)

// Distribution controls how an equidistant ladder splits BTC across levels.
type Distribution string

const (
	DistributionEqual      Distribution = "EQUAL"
	DistributionDecreasing Distribution = "DECREASING" // more BTC at lower prices
	DistributionIncreasing Distribution = "INCREASING" // more BTC at higher prices
)

// Valid reports whether d is a known distribution.
func (d Distribution) Valid() bool {
	switch d {
	case DistributionEqual, DistributionDecreasing, DistributionIncreasing:
		return true
	}
	return false
}

// Proposal is a single sell order suggested by a generator.
type Proposal struct {
	Price     decimal.Decimal `json:"pricePerBtc"`
	BTCAmount decimal.Decimal `json:"btcAmount"`
}

// TotalCZK is the proposal's proceeds at its own price.
func (p Proposal) TotalCZK() decimal.Decimal {
	return p.Price.Mul(p.BTCAmount)
}

// Position is what a generator knows about the loan it plans for.
type Position struct {
	SellableBTC  decimal.Decimal
	RepaymentCZK decimal.Decimal
}

// Level is a user-specified custom ladder rung.
type Level struct {
	Price   decimal.Decimal
	Percent decimal.Decimal
}

// TotalBTC sums the BTC amounts of proposals.
func TotalBTC(ps []Proposal) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range ps {
		sum = sum.Add(p.BTCAmount)
	}
	return sum
}

// TotalCZK sums the proceeds of proposals at their own prices.
func TotalCZK(ps []Proposal) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range ps {
		sum = sum.Add(p.TotalCZK())
	}
	return sum
}

// Custom produces one proposal per level, in the caller's order, each selling
// Percent of sellable.
func Custom(sellable decimal.Decimal, levels []Level) []Proposal {
	if !sellable.IsPositive() {
		return nil
	}
	out := make([]Proposal, 0, len(levels))
	for _, l := range levels {
		out = append(out, Proposal{
			Price:     l.Price,
			BTCAmount: sellable.Mul(l.Percent).Div(hundred),
		})
	}
	return out
}

// Equidistant places n prices at equal absolute intervals between start and
// end inclusive and splits sellable across them by dist. The amounts always
// sum to sellable exactly: the last level absorbs any division remainder.
func Equidistant(sellable, start, end decimal.Decimal, n int, dist Distribution) []Proposal {
	if n < 1 || !sellable.IsPositive() {
		return nil
	}

	weights := make([]decimal.Decimal, n)
	totalWeight := decimal.Zero
	for i := range n {
		weights[i] = weight(dist, i)
		totalWeight = totalWeight.Add(weights[i])
	}

	var step decimal.Decimal
	if n > 1 {
		step = end.Sub(start).Div(decimal.NewFromInt(int64(n - 1)))
	}

	out := make([]Proposal, n)
	assigned := decimal.Zero
	for i := range n {
		price := start.Add(step.Mul(decimal.NewFromInt(int64(i))))
		amount := sellable.Mul(weights[i]).Div(totalWeight)
		if i == n-1 {
			amount = sellable.Sub(assigned)
			if n > 1 {
				price = end
			}
		}
		assigned = assigned.Add(amount)
		out[i] = Proposal{Price: price, BTCAmount: amount}
	}
	return out
}

// weight returns the relative BTC share of level i for dist. Unknown
// distributions fall back to equal weights.
func weight(dist Distribution, i int) decimal.Decimal {
	idx := decimal.NewFromInt(int64(i + 1))
	switch dist {
	case DistributionIncreasing:
		return idx
	case DistributionDecreasing:
		return one.Div(idx)
	default:
		return one
	}
}

// Equifrequent builds n levels where each price is incrementPct percent above
// the previous one, starting at base. Each level sells percentPerOrder of
// sellable until the cumulative amount reaches sellable; the overflowing
// level is truncated and any later levels are dropped.
func Equifrequent(sellable, base, incrementPct decimal.Decimal, n int, percentPerOrder decimal.Decimal) []Proposal {
	if n < 1 || !sellable.IsPositive() || !percentPerOrder.IsPositive() {
		return nil
	}

	factor := one.Add(incrementPct.Div(hundred))
	perOrder := sellable.Mul(percentPerOrder).Div(hundred)

	out := make([]Proposal, 0, n)
	price := base
	remaining := sellable
	for i := range n {
		if i > 0 {
			price = price.Mul(factor)
		}
		if !remaining.IsPositive() {
			break
		}
		amount := decimal.Min(perOrder, remaining)
		remaining = remaining.Sub(amount)
		out = append(out, Proposal{Price: price, BTCAmount: amount})
	}
	return out
}

// SmartAnchor returns the average sell price at which liquidating the whole
// position yields the target profit over the repayment amount:
//
//	anchor = repayment × (1 + targetProfitPct/100) / sellable
//
// It returns zero when either input is non-positive.
func SmartAnchor(pos Position, targetProfitPct decimal.Decimal) decimal.Decimal {
	if !pos.SellableBTC.IsPositive() || !pos.RepaymentCZK.IsPositive() {
		return decimal.Zero
	}
	target := pos.RepaymentCZK.Mul(one.Add(targetProfitPct.Div(hundred)))
	return target.Div(pos.SellableBTC)
}

// SmartKeptBTC is the BTC left unsold by a smart distribution: the
// btcRatioPct share of the target profit, converted at the anchor price.
func SmartKeptBTC(pos Position, targetProfitPct, btcRatioPct decimal.Decimal) decimal.Decimal {
	anchor := SmartAnchor(pos, targetProfitPct)
	if anchor.IsZero() {
		return decimal.Zero
	}
	profit := pos.RepaymentCZK.Mul(targetProfitPct).Div(hundred)
	return profit.Mul(btcRatioPct).Div(hundred).Div(anchor)
}

// Smart builds an n-level ladder for a target profit.
//
// With target value V = repayment×(1+T/100) and anchor p₀ = V/sellable, the
// ladder sells S = sellable − kept BTC in n equal slices at prices spread
// symmetrically around p₀. Because the slices are equal and the prices are
// symmetric, the ladder's average price is exactly p₀, so the sold BTC raises
// V − kept×p₀ and the kept BTC valued at p₀ completes the target. Raising T
// raises p₀ and therefore every level.
func Smart(pos Position, targetProfitPct decimal.Decimal, n int, btcRatioPct decimal.Decimal) []Proposal {
	anchor := SmartAnchor(pos, targetProfitPct)
	if n < 1 || anchor.IsZero() {
		return nil
	}

	kept := SmartKeptBTC(pos, targetProfitPct, btcRatioPct)
	sold := pos.SellableBTC.Sub(kept)
	if !sold.IsPositive() {
		return nil
	}

	count := decimal.NewFromInt(int64(n))
	slice := sold.Div(count)
	low := one.Sub(SmartSpread.Div(two))

	out := make([]Proposal, n)
	assigned := decimal.Zero
	for i := range n {
		multiplier := one
		if n > 1 {
			offset := SmartSpread.Mul(decimal.NewFromInt(int64(i))).Div(decimal.NewFromInt(int64(n - 1)))
			multiplier = low.Add(offset)
		}
		amount := slice
		if i == n-1 {
			amount = sold.Sub(assigned)
		}
		assigned = assigned.Add(amount)
		out[i] = Proposal{Price: anchor.Mul(multiplier), BTCAmount: amount}
	}
	return out
}
