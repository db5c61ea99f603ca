package valuation

import "github.com/shopspring/decimal"

// Presentation precision.
const (
	CZKPlaces     = 0
	BTCPlaces     = 8
	PercentPlaces = 2
)

// RoundCZK rounds to whole koruna.
func RoundCZK(v decimal.Decimal) decimal.Decimal { return v.Round(CZKPlaces) }

// RoundBTC rounds to satoshi precision.
func RoundBTC(v decimal.Decimal) decimal.Decimal { return v.Round(BTCPlaces) }

// RoundPercent rounds a percentage for display.
func RoundPercent(v decimal.Decimal) decimal.Decimal { return v.Round(PercentPlaces) }

// Rounded returns a copy of r rounded for display.
func (r Report) Rounded() Report {
	r.MarketPriceCZK = RoundCZK(r.MarketPriceCZK)
	r.ValuationPriceCZK = RoundCZK(r.ValuationPriceCZK)
	r.SoldBTC = RoundBTC(r.SoldBTC)
	r.RemainingBTC = RoundBTC(r.RemainingBTC)
	r.UnallocatedBTC = RoundBTC(r.UnallocatedBTC)
	r.RealizedCZK = RoundCZK(r.RealizedCZK)
	r.CurrentValueCZK = RoundCZK(r.CurrentValueCZK)
	r.PotentialValueCZK = RoundCZK(r.PotentialValueCZK)
	r.CurrentProfitPercent = RoundPercent(r.CurrentProfitPercent)
	r.PotentialProfitPercent = RoundPercent(r.PotentialProfitPercent)
	return r
}
