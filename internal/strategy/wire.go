package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
)

// Wire forms. Numbers travel as JSON numbers (json.Number keeps decimal
// precision); the "type" field carries the Kind tag.

type envelope struct {
	Type Kind `json:"type"`
}

type hodlWire struct {
	Type Kind `json:"type"`
}

type customOrderWire struct {
	TargetPriceCZK json.Number `json:"targetPriceCzk"`
	PercentToSell  json.Number `json:"percentToSell"`
}

type customLadderWire struct {
	Type   Kind              `json:"type"`
	Orders []customOrderWire `json:"orders"`
}

type smartDistributionWire struct {
	Type                  Kind        `json:"type"`
	TargetProfitPercent   json.Number `json:"targetProfitPercent"`
	OrderCount            json.Number `json:"orderCount"`
	BTCProfitRatioPercent json.Number `json:"btcProfitRatioPercent"`
}

type equidistantLadderWire struct {
	Type             Kind                `json:"type"`
	StartPriceCZK    json.Number         `json:"startPriceCzk"`
	EndPriceCZK      json.Number         `json:"endPriceCzk"`
	OrderCount       json.Number         `json:"orderCount"`
	DistributionType ladder.Distribution `json:"distributionType"`
}

type equifrequentLadderWire struct {
	Type                  Kind        `json:"type"`
	BasePriceCZK          json.Number `json:"basePriceCzk"`
	PriceIncrementPercent json.Number `json:"priceIncrementPercent"`
	OrderCount            json.Number `json:"orderCount"`
	BTCPercentPerOrder    json.Number `json:"btcPercentPerOrder"`
}

func num(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// dec parses a wire number. A missing field decodes to zero and is left for
// validation to reject.
func dec(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("strategy: field %s: invalid number %q", field, string(n))
	}
	return d, nil
}

// decoder collects the first parse error across several fields.
type decoder struct {
	err error
}

func (d *decoder) field(name string, n json.Number) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	v, err := dec(name, n)
	if err != nil {
		d.err = err
	}
	return v
}

func decodeWire(data []byte, v any) error {
	r := json.NewDecoder(bytes.NewReader(data))
	r.UseNumber()
	if err := r.Decode(v); err != nil {
		return fmt.Errorf("strategy: decode: %w", err)
	}
	return nil
}

func encodeHodl(p Params) ([]byte, error) {
	if _, ok := p.(Hodl); !ok {
		return nil, fmt.Errorf("strategy: encode: expected %s parameters, got %T", KindHodl, p)
	}
	return json.Marshal(hodlWire{Type: KindHodl})
}

func decodeHodl(data []byte) (Params, error) {
	var w hodlWire
	if err := decodeWire(data, &w); err != nil {
		return nil, err
	}
	return Hodl{}, nil
}

func encodeCustomLadder(p Params) ([]byte, error) {
	s, ok := p.(CustomLadder)
	if !ok {
		return nil, fmt.Errorf("strategy: encode: expected %s parameters, got %T", KindCustomLadder, p)
	}
	w := customLadderWire{Type: KindCustomLadder, Orders: make([]customOrderWire, 0, len(s.Orders))}
	for _, o := range s.Orders {
		w.Orders = append(w.Orders, customOrderWire{
			TargetPriceCZK: num(o.TargetPriceCZK),
			PercentToSell:  num(o.PercentToSell),
		})
	}
	return json.Marshal(w)
}

func decodeCustomLadder(data []byte) (Params, error) {
	var w customLadderWire
	if err := decodeWire(data, &w); err != nil {
		return nil, err
	}
	var d decoder
	s := CustomLadder{Orders: make([]CustomOrder, 0, len(w.Orders))}
	for i, o := range w.Orders {
		prefix := fmt.Sprintf("%s[%d].", FieldOrders, i)
		s.Orders = append(s.Orders, CustomOrder{
			TargetPriceCZK: d.field(prefix+FieldTargetPriceCZK, o.TargetPriceCZK),
			PercentToSell:  d.field(prefix+FieldPercentToSell, o.PercentToSell),
		})
	}
	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}

func encodeSmartDistribution(p Params) ([]byte, error) {
	s, ok := p.(SmartDistribution)
	if !ok {
		return nil, fmt.Errorf("strategy: encode: expected %s parameters, got %T", KindSmartDistribution, p)
	}
	return json.Marshal(smartDistributionWire{
		Type:                  KindSmartDistribution,
		TargetProfitPercent:   num(s.TargetProfitPercent),
		OrderCount:            num(s.OrderCount),
		BTCProfitRatioPercent: num(s.BTCProfitRatioPercent),
	})
}

func decodeSmartDistribution(data []byte) (Params, error) {
	var w smartDistributionWire
	if err := decodeWire(data, &w); err != nil {
		return nil, err
	}
	var d decoder
	s := SmartDistribution{
		TargetProfitPercent:   d.field(FieldTargetProfitPercent, w.TargetProfitPercent),
		OrderCount:            d.field(FieldOrderCount, w.OrderCount),
		BTCProfitRatioPercent: d.field(FieldBTCProfitRatioPercent, w.BTCProfitRatioPercent),
	}
	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}

func encodeEquidistantLadder(p Params) ([]byte, error) {
	s, ok := p.(EquidistantLadder)
	if !ok {
		return nil, fmt.Errorf("strategy: encode: expected %s parameters, got %T", KindEquidistantLadder, p)
	}
	return json.Marshal(equidistantLadderWire{
		Type:             KindEquidistantLadder,
		StartPriceCZK:    num(s.StartPriceCZK),
		EndPriceCZK:      num(s.EndPriceCZK),
		OrderCount:       num(s.OrderCount),
		DistributionType: s.DistributionType,
	})
}

func decodeEquidistantLadder(data []byte) (Params, error) {
	var w equidistantLadderWire
	if err := decodeWire(data, &w); err != nil {
		return nil, err
	}
	var d decoder
	s := EquidistantLadder{
		StartPriceCZK:    d.field(FieldStartPriceCZK, w.StartPriceCZK),
		EndPriceCZK:      d.field(FieldEndPriceCZK, w.EndPriceCZK),
		OrderCount:       d.field(FieldOrderCount, w.OrderCount),
		DistributionType: w.DistributionType,
	}
	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}

func encodeEquifrequentLadder(p Params) ([]byte, error) {
	s, ok := p.(EquifrequentLadder)
	if !ok {
		return nil, fmt.Errorf("strategy: encode: expected %s parameters, got %T", KindEquifrequentLadder, p)
	}
	return json.Marshal(equifrequentLadderWire{
		Type:                  KindEquifrequentLadder,
		BasePriceCZK:          num(s.BasePriceCZK),
		PriceIncrementPercent: num(s.PriceIncrementPercent),
		OrderCount:            num(s.OrderCount),
		BTCPercentPerOrder:    num(s.BTCPercentPerOrder),
	})
}

func decodeEquifrequentLadder(data []byte) (Params, error) {
	var w equifrequentLadderWire
	if err := decodeWire(data, &w); err != nil {
		return nil, err
	}
	var d decoder
	s := EquifrequentLadder{
		BasePriceCZK:          d.field(FieldBasePriceCZK, w.BasePriceCZK),
		PriceIncrementPercent: d.field(FieldPriceIncrementPercent, w.PriceIncrementPercent),
		OrderCount:            d.field(FieldOrderCount, w.OrderCount),
		BTCPercentPerOrder:    d.field(FieldBTCPercentPerOrder, w.BTCPercentPerOrder),
	}
	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}
