package pricing

import (
	"math"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"spxopt/internal/models"
)

var expiry = civil.Date{Year: 2026, Month: time.March, Day: 20}

func resolved(strike float64, right models.Right, action models.Action, n int, bid, ask float64) models.ResolvedLeg {
	return models.ResolvedLeg{
		Leg: models.Leg{Expiration: expiry, Strike: strike, Right: right, Action: action, Multiplier: n},
		Bid: bid,
		Ask: ask,
	}
}

func TestCallSpreadScenario(t *testing.T) {
	legs := []models.ResolvedLeg{
		resolved(4000, models.Call, models.Buy, 1, 10, 11),
		resolved(4100, models.Call, models.Sell, 1, 8, 9),
	}

	if got := LazyBotTotal(legs); got != 3.0 {
		t.Errorf("lazy total: expected 3.0, got %v", got)
	}
	if got := SmartBotTotal(legs); got != 2.0 {
		t.Errorf("smart total: expected 2.0, got %v", got)
	}
}

func TestLegPrices(t *testing.T) {
	tests := []struct {
		name  string
		leg   models.ResolvedLeg
		lazy  float64
		smart float64
	}{
		{"buy pays ask", resolved(4000, models.Call, models.Buy, 2, 10, 11), 22, 21},
		{"sell receives bid", resolved(4000, models.Put, models.Sell, 3, 4, 5), -12, -13.5},
		{"no quote", resolved(4000, models.Put, models.Buy, 1, 0, 0), 0, 0},
		{"one-sided ask", resolved(4000, models.Call, models.Buy, 1, 0, 0.2), 0.2, 0.1},
		{"one-sided bid", resolved(4000, models.Call, models.Sell, 1, 0.4, 0), -0.4, -0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LazyLegPrice(tt.leg); got != tt.lazy {
				t.Errorf("lazy: expected %v, got %v", tt.lazy, got)
			}
			if got := SmartLegPrice(tt.leg); got != tt.smart {
				t.Errorf("smart: expected %v, got %v", tt.smart, got)
			}
		})
	}
}

func TestTotals_Empty(t *testing.T) {
	if LazyBotTotal(nil) != 0 || SmartBotTotal(nil) != 0 {
		t.Error("expected zero totals for no legs")
	}
}

func resolvedGen() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.IntRange(1, 10),
		gen.Float64Range(0, 500),
		gen.Float64Range(0, 20),
	).Map(func(vals []interface{}) models.ResolvedLeg {
		action := models.Buy
		if vals[0].(bool) {
			action = models.Sell
		}
		bid := vals[2].(float64)
		return resolved(4000, models.Call, action, vals[1].(int), bid, bid+vals[3].(float64))
	})
}

// Property: per-leg prices follow the lazy (ask to buy, bid to sell) and
// smart (midpoint) rules.
func TestProperty_LegPriceRules(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("lazy and smart leg prices", prop.ForAll(
		func(r models.ResolvedLeg) bool {
			m := float64(r.Leg.Multiplier)
			lazy, smart := m*r.Ask, m*(r.Ask+r.Bid)/2
			if r.Leg.Action == models.Sell {
				lazy, smart = -m*r.Bid, -smart
			}
			return almostEqual(LazyLegPrice(r), lazy) && almostEqual(SmartLegPrice(r), smart)
		},
		resolvedGen(),
	))

	properties.TestingRun(t)
}

// Property: totals do not depend on leg order.
func TestProperty_TotalsPermutationInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reversed and rotated inputs give identical totals", prop.ForAll(
		func(legs []models.ResolvedLeg, shift int) bool {
			reversed := make([]models.ResolvedLeg, len(legs))
			rotated := make([]models.ResolvedLeg, len(legs))
			for i, r := range legs {
				reversed[len(legs)-1-i] = r
				rotated[(i+shift)%len(legs)] = r
			}
			lazy, smart := LazyBotTotal(legs), SmartBotTotal(legs)
			return LazyBotTotal(reversed) == lazy && LazyBotTotal(rotated) == lazy &&
				SmartBotTotal(reversed) == smart && SmartBotTotal(rotated) == smart
		},
		gen.SliceOfN(8, resolvedGen()),
		gen.IntRange(0, 7),
	))

	properties.TestingRun(t)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}
