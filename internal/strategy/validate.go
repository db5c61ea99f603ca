package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/ladder"
)

// Field names as they appear on the wire. Validation messages are keyed by
// these so clients can attach them to inputs directly.
const (
	FieldType                  = "type"
	FieldOrders                = "orders"
	FieldTargetPriceCZK        = "targetPriceCzk"
	FieldPercentToSell         = "percentToSell"
	FieldTargetProfitPercent   = "targetProfitPercent"
	FieldOrderCount            = "orderCount"
	FieldBTCProfitRatioPercent = "btcProfitRatioPercent"
	FieldStartPriceCZK         = "startPriceCzk"
	FieldEndPriceCZK           = "endPriceCzk"
	FieldDistributionType      = "distributionType"
	FieldBasePriceCZK          = "basePriceCzk"
	FieldPriceIncrementPercent = "priceIncrementPercent"
	FieldBTCPercentPerOrder    = "btcPercentPerOrder"
)

// Limits on ladder sizes.
const (
	MaxSmartOrders        = 100
	MaxEquidistantOrders  = 100
	MaxEquifrequentOrders = 50
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of validating a parameter set. Warnings never make
// a result invalid.
type Result struct {
	Valid       bool              `json:"isValid"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Err returns a *ValidationError for an invalid result and nil otherwise.
func (r Result) Err(kind Kind) error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Kind: kind, Fields: r.FieldErrors}
}

// checker accumulates field errors. The first message recorded for a field
// wins, so "must be greater than 0" is not buried under range messages.
type checker struct {
	errs     map[string]string
	warnings []string
}

func newChecker() *checker {
	return &checker{errs: make(map[string]string)}
}

func (c *checker) fail(field, msg string) {
	if _, exists := c.errs[field]; !exists {
		c.errs[field] = msg
	}
}

func (c *checker) warn(msg string) {
	c.warnings = append(c.warnings, msg)
}

func (c *checker) result() Result {
	if len(c.errs) == 0 {
		return Result{Valid: true, Warnings: c.warnings}
	}
	return Result{Valid: false, FieldErrors: c.errs, Warnings: c.warnings}
}

func (c *checker) positive(field string, v decimal.Decimal) bool {
	if !v.IsPositive() {
		c.fail(field, "must be greater than 0")
		return false
	}
	return true
}

// percent checks v ∈ (0, 100], or [0, 100] when allowZero is set.
func (c *checker) percent(field string, v decimal.Decimal, allowZero bool) bool {
	if allowZero {
		if v.IsNegative() {
			c.fail(field, "must not be negative")
			return false
		}
	} else if !c.positive(field, v) {
		return false
	}
	if v.GreaterThan(hundred) {
		c.fail(field, "must not exceed 100")
		return false
	}
	return true
}

// count checks v is an integer in [1, max].
func (c *checker) count(field string, v decimal.Decimal, max int64) bool {
	if !c.positive(field, v) {
		return false
	}
	if !v.IsInteger() {
		c.fail(field, "must be a whole number")
		return false
	}
	if v.GreaterThan(decimal.NewFromInt(max)) {
		c.fail(field, fmt.Sprintf("must not exceed %d", max))
		return false
	}
	return true
}

// mismatch is the result for params whose concrete type doesn't belong to the
// variant being validated (including nil).
func mismatch(want Kind, got Params) Result {
	msg := fmt.Sprintf("expected %s parameters", want)
	if got == nil {
		msg = "parameters are required"
	}
	return Result{Valid: false, FieldErrors: map[string]string{FieldType: msg}}
}

func validateHodl(p Params) Result {
	if _, ok := p.(Hodl); !ok {
		return mismatch(KindHodl, p)
	}
	return Result{Valid: true}
}

func validateCustomLadder(p Params) Result {
	s, ok := p.(CustomLadder)
	if !ok {
		return mismatch(KindCustomLadder, p)
	}

	c := newChecker()
	if len(s.Orders) == 0 {
		c.fail(FieldOrders, "at least one order is required")
	}
	total := decimal.Zero
	for i, o := range s.Orders {
		prefix := fmt.Sprintf("%s[%d].", FieldOrders, i)
		c.positive(prefix+FieldTargetPriceCZK, o.TargetPriceCZK)
		if c.percent(prefix+FieldPercentToSell, o.PercentToSell, false) {
			total = total.Add(o.PercentToSell)
		}
	}
	if total.GreaterThan(hundred) {
		c.fail(FieldOrders, fmt.Sprintf("total %s must not exceed 100 (got %s)", FieldPercentToSell, total.String()))
	}
	return c.result()
}

func validateSmartDistribution(p Params) Result {
	s, ok := p.(SmartDistribution)
	if !ok {
		return mismatch(KindSmartDistribution, p)
	}

	c := newChecker()
	c.positive(FieldTargetProfitPercent, s.TargetProfitPercent)
	c.count(FieldOrderCount, s.OrderCount, MaxSmartOrders)
	c.percent(FieldBTCProfitRatioPercent, s.BTCProfitRatioPercent, true)
	return c.result()
}

func validateEquidistantLadder(p Params) Result {
	s, ok := p.(EquidistantLadder)
	if !ok {
		return mismatch(KindEquidistantLadder, p)
	}

	c := newChecker()
	startOK := c.positive(FieldStartPriceCZK, s.StartPriceCZK)
	if c.positive(FieldEndPriceCZK, s.EndPriceCZK) && startOK &&
		!s.EndPriceCZK.GreaterThan(s.StartPriceCZK) {
		c.fail(FieldEndPriceCZK, "must be greater than "+FieldStartPriceCZK)
	}
	c.count(FieldOrderCount, s.OrderCount, MaxEquidistantOrders)
	if !s.DistributionType.Valid() {
		c.fail(FieldDistributionType, fmt.Sprintf("must be one of %s, %s, %s",
			ladder.DistributionEqual, ladder.DistributionDecreasing, ladder.DistributionIncreasing))
	}
	return c.result()
}

func validateEquifrequentLadder(p Params) Result {
	s, ok := p.(EquifrequentLadder)
	if !ok {
		return mismatch(KindEquifrequentLadder, p)
	}

	c := newChecker()
	c.positive(FieldBasePriceCZK, s.BasePriceCZK)
	c.percent(FieldPriceIncrementPercent, s.PriceIncrementPercent, true)
	countOK := c.count(FieldOrderCount, s.OrderCount, MaxEquifrequentOrders)
	pctOK := c.percent(FieldBTCPercentPerOrder, s.BTCPercentPerOrder, false)
	if countOK && pctOK {
		if total := s.OrderCount.Mul(s.BTCPercentPerOrder); total.GreaterThan(hundred) {
			c.warn(fmt.Sprintf("%s × %s = %s%% exceeds 100%%; later orders will be reduced to the remaining BTC",
				FieldOrderCount, FieldBTCPercentPerOrder, total.String()))
		}
	}
	return c.result()
}
