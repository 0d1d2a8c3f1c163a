// Package supplier defines the read-only chain-data source capability consumed by
// quote resolution, with a default adapter for sources lacking direct contract
// lookup.
package supplier

import (
	"context"
	"math"
	"sort"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
)

// ChainSource is the required capability of every chain-data source.
type ChainSource interface {
	// Expirations lists available expirations in ascending order.
	Expirations(ctx context.Context) ([]civil.Date, error)
	// Chain returns every quote listed for one expiration.
	Chain(ctx context.Context, expiration civil.Date) ([]models.Quote, error)
}

// ContractQuoter is the optional direct-lookup capability. The result has the
// same length and order as keys; unmatched contracts get a zero-filled
// placeholder quote.
type ContractQuoter interface {
	QuotesForContracts(ctx context.Context, keys []models.ContractKey) ([]models.Quote, error)
}

// Connector is implemented by sources that hold a session.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Named is implemented by sources that report a display name.
type Named interface {
	Name() string
}

// Name returns the source's name, or "unknown".
func Name(src ChainSource) string {
	if n, ok := src.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// Quoter returns the source's own ContractQuoter when it has one, otherwise
// the chain-scanning adapter.
func Quoter(src ChainSource) ContractQuoter {
	if q, ok := src.(ContractQuoter); ok {
		return q
	}
	return WithContractLookup(src)
}

// WithContractLookup synthesizes QuotesForContracts from Expirations and
// Chain: one chain request per distinct listed expiration, matched locally.
func WithContractLookup(src ChainSource) ContractQuoter {
	return &chainLookup{src: src}
}

type chainLookup struct {
	src ChainSource
}

func (c *chainLookup) QuotesForContracts(ctx context.Context, keys []models.ContractKey) ([]models.Quote, error) {
	out := make([]models.Quote, len(keys))
	for i, k := range keys {
		out[i] = models.PlaceholderQuote(k)
	}
	if len(keys) == 0 {
		return out, nil
	}

	listed, err := c.src.Expirations(ctx)
	if err != nil {
		return nil, err
	}
	available := make(map[civil.Date]bool, len(listed))
	for _, d := range listed {
		available[d] = true
	}

	wanted := make(map[civil.Date][]int)
	var order []civil.Date
	for i, k := range keys {
		if !available[k.Expiration] {
			continue
		}
		if _, seen := wanted[k.Expiration]; !seen {
			order = append(order, k.Expiration)
		}
		wanted[k.Expiration] = append(wanted[k.Expiration], i)
	}

	for _, exp := range order {
		chain, err := c.src.Chain(ctx, exp)
		if err != nil {
			return nil, err
		}
		index := IndexQuotes(chain)
		for _, i := range wanted[exp] {
			if q, ok := index[MatchKey(keys[i])]; ok {
				out[i] = q
			}
		}
	}
	return out, nil
}

// MatchKey normalizes a contract key for lookups, rounding the strike to the
// thousandth that listed strikes are quoted in.
func MatchKey(k models.ContractKey) models.ContractKey {
	k.Strike = math.Round(k.Strike*1000) / 1000
	return k
}

// IndexQuotes maps quotes by normalized contract key. The first quote for a
// contract wins.
func IndexQuotes(quotes []models.Quote) map[models.ContractKey]models.Quote {
	index := make(map[models.ContractKey]models.Quote, len(quotes))
	for _, q := range quotes {
		k := MatchKey(q.Key())
		if _, dup := index[k]; !dup {
			index[k] = q
		}
	}
	return index
}

// Sanitize normalizes a quote received from an external source: prices and
// counts are never negative, NaN or infinite, and a delta outside [-1, 1] is
// dropped.
func Sanitize(q models.Quote) models.Quote {
	q.Bid = cleanPrice(q.Bid)
	q.Ask = cleanPrice(q.Ask)
	q.Last = cleanPrice(q.Last)
	if q.Volume < 0 {
		q.Volume = 0
	}
	if q.OpenInterest < 0 {
		q.OpenInterest = 0
	}
	if q.Delta != nil {
		d := *q.Delta
		if math.IsNaN(d) || d < -1 || d > 1 {
			q.Delta = nil
		} else {
			q.Delta = &d
		}
	}
	return q
}

func cleanPrice(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// SortDates sorts dates ascending and removes duplicates.
func SortDates(dates []civil.Date) []civil.Date {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	out := dates[:0]
	for _, d := range dates {
		if len(out) == 0 || d != out[len(out)-1] {
			out = append(out, d)
		}
	}
	return out
}

// NextExpiration returns the first expiration on or after today.
func NextExpiration(expirations []civil.Date, today civil.Date) (civil.Date, bool) {
	for _, d := range expirations {
		if !d.Before(today) {
			return d, true
		}
	}
	return civil.Date{}, false
}
