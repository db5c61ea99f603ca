// Package strategy models the closed set of loan exit strategies.
//
// A strategy is a Params value whose concrete type is one of the variants
// below. Every per-kind behaviour (defaults, validation, wire codec, ladder
// generation) is looked up in a single registry keyed by Kind, so adding a
// variant means adding one registry entry rather than extending several
// switches.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
)

// Kind is the discriminant tag of a strategy on the wire and in storage.
type Kind string

const (
	KindHodl               Kind = "HODL"
	KindCustomLadder       Kind = "CUSTOM_LADDER"
	KindSmartDistribution  Kind = "SMART_DISTRIBUTION"
	KindEquidistantLadder  Kind = "EQUIDISTANT_LADDER"
	KindEquifrequentLadder Kind = "EQUIFREQUENT_LADDER"
)

// AllowsSimulation reports whether the client may override the valuation
// price of unsold BTC for this kind. Generated ladders carry their own
// canonical valuation and never accept an override.
func (k Kind) AllowsSimulation() bool {
	return k == KindHodl || k == KindCustomLadder
}

// Params is the parameter set of one strategy variant.
type Params interface {
	Kind() Kind
	isParams()
}

// Hodl sells nothing ahead of time; the whole position is liquidated at
// repayment.
type Hodl struct{}

// CustomLadder is a user-built list of sell targets.
type CustomLadder struct {
	Orders []CustomOrder
}

// CustomOrder sells PercentToSell of the sellable BTC at TargetPriceCZK.
type CustomOrder struct {
	TargetPriceCZK decimal.Decimal
	PercentToSell  decimal.Decimal
}

// SmartDistribution derives a ladder from a profit target.
type SmartDistribution struct {
	TargetProfitPercent   decimal.Decimal
	OrderCount            decimal.Decimal
	BTCProfitRatioPercent decimal.Decimal
}

// EquidistantLadder spaces orders at equal absolute price steps.
type EquidistantLadder struct {
	StartPriceCZK    decimal.Decimal
	EndPriceCZK      decimal.Decimal
	OrderCount       decimal.Decimal
	DistributionType ladder.Distribution
}

// EquifrequentLadder spaces orders at equal relative price steps.
type EquifrequentLadder struct {
	BasePriceCZK          decimal.Decimal
	PriceIncrementPercent decimal.Decimal
	OrderCount            decimal.Decimal
	BTCPercentPerOrder    decimal.Decimal
}

func (Hodl) Kind() Kind               { return KindHodl }
func (CustomLadder) Kind() Kind       { return KindCustomLadder }
func (SmartDistribution) Kind() Kind  { return KindSmartDistribution }
func (EquidistantLadder) Kind() Kind  { return KindEquidistantLadder }
func (EquifrequentLadder) Kind() Kind { return KindEquifrequentLadder }

func (Hodl) isParams()               {}
func (CustomLadder) isParams()       {}
func (SmartDistribution) isParams()  {}
func (EquidistantLadder) isParams()  {}
func (EquifrequentLadder) isParams() {}
