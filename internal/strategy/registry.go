package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
)

// Variant bundles everything the engine knows about one strategy kind.
type Variant struct {
	Kind     Kind
	Default  func() Params
	Validate func(Params) Result
	Encode   func(Params) ([]byte, error)
	Decode   func([]byte) (Params, error)
	// Generate assumes params already passed Validate.
	Generate func(Params, ladder.Position) []ladder.Proposal
}

var registry = map[Kind]Variant{
	KindHodl: {
		Kind:     KindHodl,
		Default:  func() Params { return Hodl{} },
		Validate: validateHodl,
		Encode:   encodeHodl,
		Decode:   decodeHodl,
		Generate: func(Params, ladder.Position) []ladder.Proposal { return nil },
	},
	KindCustomLadder: {
		Kind: KindCustomLadder,
		Default: func() Params {
			return CustomLadder{Orders: []CustomOrder{
				{TargetPriceCZK: decimal.NewFromInt(2500000), PercentToSell: decimal.NewFromInt(25)},
				{TargetPriceCZK: decimal.NewFromInt(3000000), PercentToSell: decimal.NewFromInt(25)},
			}}
		},
		Validate: validateCustomLadder,
		Encode:   encodeCustomLadder,
		Decode:   decodeCustomLadder,
		Generate: func(p Params, pos ladder.Position) []ladder.Proposal {
			s := p.(CustomLadder)
			levels := make([]ladder.Level, 0, len(s.Orders))
			for _, o := range s.Orders {
				levels = append(levels, ladder.Level{Price: o.TargetPriceCZK, Percent: o.PercentToSell})
			}
			return ladder.Custom(pos.SellableBTC, levels)
		},
	},
	KindSmartDistribution: {
		Kind: KindSmartDistribution,
		Default: func() Params {
			return SmartDistribution{
				TargetProfitPercent:   decimal.NewFromInt(20),
				OrderCount:            decimal.NewFromInt(5),
				BTCProfitRatioPercent: decimal.NewFromInt(50),
			}
		},
		Validate: validateSmartDistribution,
		Encode:   encodeSmartDistribution,
		Decode:   decodeSmartDistribution,
		Generate: func(p Params, pos ladder.Position) []ladder.Proposal {
			s := p.(SmartDistribution)
			return ladder.Smart(pos, s.TargetProfitPercent, int(s.OrderCount.IntPart()), s.BTCProfitRatioPercent)
		},
	},
	KindEquidistantLadder: {
		Kind: KindEquidistantLadder,
		Default: func() Params {
			return EquidistantLadder{
				StartPriceCZK:    decimal.NewFromInt(2000000),
				EndPriceCZK:      decimal.NewFromInt(3000000),
				OrderCount:       decimal.NewFromInt(5),
				DistributionType: ladder.DistributionEqual,
			}
		},
		Validate: validateEquidistantLadder,
		Encode:   encodeEquidistantLadder,
		Decode:   decodeEquidistantLadder,
		Generate: func(p Params, pos ladder.Position) []ladder.Proposal {
			s := p.(EquidistantLadder)
			return ladder.Equidistant(pos.SellableBTC, s.StartPriceCZK, s.EndPriceCZK,
				int(s.OrderCount.IntPart()), s.DistributionType)
		},
	},
	KindEquifrequentLadder: {
		Kind: KindEquifrequentLadder,
		Default: func() Params {
			return EquifrequentLadder{
				BasePriceCZK:          decimal.NewFromInt(2000000),
				PriceIncrementPercent: decimal.NewFromInt(5),
				OrderCount:            decimal.NewFromInt(10),
				BTCPercentPerOrder:    decimal.NewFromInt(10),
			}
		},
		Validate: validateEquifrequentLadder,
		Encode:   encodeEquifrequentLadder,
		Decode:   decodeEquifrequentLadder,
		Generate: func(p Params, pos ladder.Position) []ladder.Proposal {
			s := p.(EquifrequentLadder)
			return ladder.Equifrequent(pos.SellableBTC, s.BasePriceCZK, s.PriceIncrementPercent,
				int(s.OrderCount.IntPart()), s.BTCPercentPerOrder)
		},
	},
}

// Kinds lists the registered kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindHodl, KindCustomLadder, KindSmartDistribution, KindEquidistantLadder, KindEquifrequentLadder}
}

// Lookup returns the variant registered for kind.
func Lookup(kind Kind) (Variant, error) {
	v, ok := registry[kind]
	if !ok {
		return Variant{}, &UnsupportedKindError{Kind: kind}
	}
	return v, nil
}

// Default returns the default parameters for kind.
func Default(kind Kind) (Params, error) {
	v, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	return v.Default(), nil
}

// Validate checks p against its variant's rules. Nil params yield an invalid
// result rather than an error.
func Validate(p Params) (Result, error) {
	if p == nil {
		return mismatch("", nil), nil
	}
	v, err := Lookup(p.Kind())
	if err != nil {
		return Result{}, err
	}
	return v.Validate(p), nil
}

// Marshal encodes p into its tagged wire form.
func Marshal(p Params) ([]byte, error) {
	if p == nil {
		return nil, &UnsupportedKindError{}
	}
	v, err := Lookup(p.Kind())
	if err != nil {
		return nil, err
	}
	return v.Encode(p)
}

// Unmarshal decodes a tagged wire form. The result is not validated.
func Unmarshal(data []byte) (Params, error) {
	var env envelope
	if err := decodeWire(data, &env); err != nil {
		return nil, err
	}
	v, err := Lookup(env.Type)
	if err != nil {
		return nil, err
	}
	return v.Decode(data)
}

// Generate validates p and produces its ladder for pos. Invalid parameters
// return a *ValidationError and no proposals.
func Generate(p Params, pos ladder.Position) ([]ladder.Proposal, error) {
	res, err := Validate(p)
	if err != nil {
		return nil, err
	}
	if err := res.Err(kindOf(p)); err != nil {
		return nil, err
	}
	v, _ := Lookup(p.Kind())
	return v.Generate(p, pos), nil
}

func kindOf(p Params) Kind {
	if p == nil {
		return ""
	}
	return p.Kind()
}
