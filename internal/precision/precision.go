// Package precision implements the exchange rounding rules for order
// amounts. Every function floors toward zero and clamps negatives to zero.
package precision

import (
	"github.com/shopspring/decimal"
)

// Floor truncates x to places decimals.
func Floor(x float64, places int32) float64 {
	if x <= 0 {
		return 0
	}
	return decimal.NewFromFloat(x).Truncate(places).InexactFloat64()
}

// PriceCents returns the price floored to whole cents.
func PriceCents(price float64) int64 {
	if price <= 0 {
		return 0
	}
	return decimal.NewFromFloat(price).Shift(2).IntPart()
}

// FloorPrice floors a price to 2 decimals through integer cents.
func FloorPrice(price float64) float64 {
	return float64(PriceCents(price)) / 100
}

// FOK returns the USD amount (2 dp) and token quantity (4 dp) of a
// fill-or-kill buy spending usd at price.
func FOK(usd, price float64) (amount, tokens float64) {
	if usd <= 0 || price <= 0 {
		return 0, 0
	}
	amt := decimal.NewFromFloat(usd).Truncate(2)
	p := decimal.New(PriceCents(price), -2)
	if p.IsZero() {
		return 0, 0
	}
	return amt.InexactFloat64(), amt.DivRound(p, 12).Truncate(4).InexactFloat64()
}

// GTC returns the token quantity (2 dp) and USD cost (4 dp) of a limit
// order for tokens at price.
func GTC(tokens, price float64) (qty, cost float64) {
	if tokens <= 0 || price <= 0 {
		return 0, 0
	}
	q := decimal.NewFromFloat(tokens).Truncate(2)
	p := decimal.New(PriceCents(price), -2)
	return q.InexactFloat64(), q.Mul(p).Truncate(4).InexactFloat64()
}

// MicroUnits converts an amount to the exchange's 6-decimal integer units.
func MicroUnits(x float64) int64 {
	if x <= 0 {
		return 0
	}
	return decimal.NewFromFloat(x).Shift(6).IntPart()
}

// MakerLimit returns a buy limit price resting below ask: ask less the
// larger of 2% and one cent, capped at ceiling when ceiling > 0, floored to
// cents.
func MakerLimit(ask, ceiling float64) float64 {
	a := decimal.New(PriceCents(ask), -2)
	offset := decimal.Max(a.Mul(decimal.NewFromFloat(0.02)), decimal.New(1, -2))
	limit := a.Sub(offset)
	if ceiling > 0 {
		limit = decimal.Min(limit, decimal.NewFromFloat(ceiling))
	}
	if !limit.IsPositive() {
		return 0
	}
	return limit.Truncate(2).InexactFloat64()
}
