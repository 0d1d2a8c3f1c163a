package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// Quote is a single option quote as delivered by a chain-data supplier.
type Quote struct {
	Expiration   civil.Date `json:"expiration"`
	Strike       float64    `json:"strike"`
	Right        Right      `json:"right"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Last         float64    `json:"last"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
	Delta        *float64   `json:"delta,omitempty"` // nil when the source has no greeks
}

// Key returns the contract key of the quote.
func (q Quote) Key() ContractKey {
	return ContractKey{Expiration: q.Expiration, Strike: q.Strike, Right: q.Right}
}

// PlaceholderQuote returns the zero-filled quote used for a contract the source
// could not match.
func PlaceholderQuote(key ContractKey) Quote {
	return Quote{
		Expiration: key.Expiration,
		Strike:     key.Strike,
		Right:      key.Right,
	}
}

// ResolvedLeg is a leg with the market bid/ask (and delta when available) it resolved to.
type ResolvedLeg struct {
	Leg   Leg      `json:"leg"`
	Bid   float64  `json:"bid"`
	Ask   float64  `json:"ask"`
	Delta *float64 `json:"delta,omitempty"`
}

// PricePoint is one stored snapshot of a single contract.
type PricePoint struct {
	SnapshotUTC time.Time `json:"snapshot_utc" csv:"snapshot_utc"`
	Bid         float64   `json:"bid" csv:"bid"`
	Ask         float64   `json:"ask" csv:"ask"`
	Last        float64   `json:"last" csv:"last"`
}

// PayoffPoint is one sample of the expiration P&L curve.
type PayoffPoint struct {
	Underlying float64 `json:"underlying"`
	PnL        float64 `json:"pnl"`
}
