// Package pricing computes lazy-bot and smart-bot position totals and the
// intrinsic-value payoff curve at expiration.
package pricing

import (
	"github.com/shopspring/decimal"

	"spxopt/internal/models"
)

// LazyLegPrice prices a leg assuming the worst fill: buys pay the ask, sells
// receive the bid. Positive is a debit, negative a credit.
func LazyLegPrice(r models.ResolvedLeg) float64 {
	return lazyLeg(r).InexactFloat64()
}

// SmartLegPrice prices a leg at the bid/ask midpoint.
func SmartLegPrice(r models.ResolvedLeg) float64 {
	return smartLeg(r).InexactFloat64()
}

// LazyBotTotal sums LazyLegPrice over all legs.
func LazyBotTotal(legs []models.ResolvedLeg) float64 {
	total := decimal.Zero
	for _, r := range legs {
		total = total.Add(lazyLeg(r))
	}
	return total.InexactFloat64()
}

// SmartBotTotal sums SmartLegPrice over all legs.
func SmartBotTotal(legs []models.ResolvedLeg) float64 {
	total := decimal.Zero
	for _, r := range legs {
		total = total.Add(smartLeg(r))
	}
	return total.InexactFloat64()
}

// Mid returns (bid+ask)/2, or 0 when both sides are zero.
func Mid(bid, ask float64) float64 {
	return mid(bid, ask).InexactFloat64()
}

func lazyLeg(r models.ResolvedLeg) decimal.Decimal {
	m := decimal.NewFromInt(int64(r.Leg.Multiplier))
	if r.Leg.Action == models.Sell {
		return m.Mul(decimal.NewFromFloat(r.Bid)).Neg()
	}
	return m.Mul(decimal.NewFromFloat(r.Ask))
}

func smartLeg(r models.ResolvedLeg) decimal.Decimal {
	m := decimal.NewFromInt(int64(r.Leg.Multiplier))
	price := m.Mul(mid(r.Bid, r.Ask))
	if r.Leg.Action == models.Sell {
		return price.Neg()
	}
	return price
}

func mid(bid, ask float64) decimal.Decimal {
	if bid == 0 && ask == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(bid).Add(decimal.NewFromFloat(ask)).Div(decimal.NewFromInt(2))
}
