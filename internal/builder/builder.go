// Package builder resolves position legs against a chain-data source and prices
// the result.
package builder

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
	"spxopt/internal/pricing"
	"spxopt/internal/supplier"
)

// Result is one quote resolution: one resolved leg per input leg, in input
// order, with both bot totals.
type Result struct {
	Resolved []models.ResolvedLeg `json:"resolved"`
	Lazy     float64              `json:"lazy_total"`
	Smart    float64              `json:"smart_total"`
}

// Legs returns the legs the result was computed for.
func (r Result) Legs() []models.Leg {
	legs := make([]models.Leg, len(r.Resolved))
	for i, rl := range r.Resolved {
		legs[i] = rl.Leg
	}
	return legs
}

// Matches reports whether the result was computed for exactly these legs.
// Callers apply a result only when it matches the legs currently shown.
func (r Result) Matches(legs []models.Leg) bool {
	if len(legs) != len(r.Resolved) {
		return false
	}
	for i, l := range legs {
		if r.Resolved[i].Leg != l {
			return false
		}
	}
	return true
}

// Resolve maps each leg to its market bid/ask/delta using src and computes the
// lazy and smart totals. All legs with a set expiration are requested in one
// batch; unmatched legs resolve to zero bid/ask and no delta. Source errors are
// returned unchanged and nothing is retried or cached.
func Resolve(ctx context.Context, legs []models.Leg, src supplier.ChainSource) (Result, error) {
	resolved := make([]models.ResolvedLeg, len(legs))
	for i, l := range legs {
		resolved[i] = models.ResolvedLeg{Leg: l}
	}
	if len(legs) == 0 {
		return Result{Resolved: resolved}, nil
	}

	var keys []models.ContractKey
	var positions []int
	for i, l := range legs {
		if l.Expiration == (civil.Date{}) {
			continue
		}
		keys = append(keys, l.Key())
		positions = append(positions, i)
	}

	if len(keys) > 0 {
		quotes, err := supplier.Quoter(src).QuotesForContracts(ctx, keys)
		if err != nil {
			return Result{}, err
		}
		if len(quotes) != len(keys) {
			return Result{}, fmt.Errorf("source %s returned %d quotes for %d contracts", supplier.Name(src), len(quotes), len(keys))
		}
		for j, q := range quotes {
			q = supplier.Sanitize(q)
			if supplier.MatchKey(q.Key()) != supplier.MatchKey(keys[j]) {
				continue
			}
			r := &resolved[positions[j]]
			r.Bid, r.Ask, r.Delta = q.Bid, q.Ask, q.Delta
		}
	}

	return Result{
		Resolved: resolved,
		Lazy:     pricing.LazyBotTotal(resolved),
		Smart:    pricing.SmartBotTotal(resolved),
	}, nil
}

// Expirations lists the source's expirations.
func Expirations(ctx context.Context, src supplier.ChainSource) ([]civil.Date, error) {
	return src.Expirations(ctx)
}
