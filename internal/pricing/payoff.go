package pricing

import (
	"math"

	"spxopt/internal/models"
)

// DefaultSteps is the number of intervals sampled when the caller passes steps <= 0.
const DefaultSteps = 80

// DefaultPad is the fraction DefaultRange extends beyond the outer strikes.
const DefaultPad = 0.10

// IntrinsicValue returns the signed value of a leg at expiration for underlying price s.
func IntrinsicValue(leg models.Leg, s float64) float64 {
	var intrinsic float64
	if leg.IsCall() {
		intrinsic = math.Max(0, s-leg.Strike)
	} else {
		intrinsic = math.Max(0, leg.Strike-s)
	}
	v := float64(leg.Multiplier) * intrinsic
	if !leg.IsBuy() {
		return -v
	}
	return v
}

// PayoffCurve samples the P&L at expiration across [sMin, sMax] in steps equal
// intervals, returning steps+1 points including both endpoints. P&L is the
// total intrinsic value minus costBasis (a signed debit/credit). The result is
// empty when legs is empty.
func PayoffCurve(legs []models.Leg, costBasis, sMin, sMax float64, steps int) []models.PayoffPoint {
	if len(legs) == 0 {
		return []models.PayoffPoint{}
	}
	if steps <= 0 {
		steps = DefaultSteps
	}

	points := make([]models.PayoffPoint, 0, steps+1)
	for i := 0; i <= steps; i++ {
		s := sMin + (sMax-sMin)*float64(i)/float64(steps)
		var value float64
		for _, leg := range legs {
			value += IntrinsicValue(leg, s)
		}
		points = append(points, models.PayoffPoint{Underlying: s, PnL: value - costBasis})
	}
	return points
}

// DefaultRange returns a sweep range covering every strike, extended by pad
// (a fraction of the strike, DefaultPad when pad <= 0) on each side.
func DefaultRange(legs []models.Leg, pad float64) (sMin, sMax float64) {
	if len(legs) == 0 {
		return 0, 0
	}
	if pad <= 0 {
		pad = DefaultPad
	}
	lo, hi := legs[0].Strike, legs[0].Strike
	for _, leg := range legs[1:] {
		lo = math.Min(lo, leg.Strike)
		hi = math.Max(hi, leg.Strike)
	}
	return math.Max(0, lo*(1-pad)), hi * (1 + pad)
}

// Breakevens returns the underlying prices where the sampled P&L crosses zero,
// linearly interpolated between adjacent samples. A sample that is exactly zero
// is reported once.
func Breakevens(points []models.PayoffPoint) []float64 {
	var out []float64
	for i, p := range points {
		if p.PnL == 0 {
			if i == 0 || points[i-1].PnL != 0 {
				out = append(out, p.Underlying)
			}
			continue
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		if prev.PnL != 0 && (prev.PnL < 0) != (p.PnL < 0) {
			t := prev.PnL / (prev.PnL - p.PnL)
			out = append(out, prev.Underlying+t*(p.Underlying-prev.Underlying))
		}
	}
	return out
}

// Summary describes a sampled payoff curve.
type Summary struct {
	MaxProfit    float64    `json:"max_profit"`
	MaxProfitAt  float64    `json:"max_profit_at"`
	MaxLoss      float64    `json:"max_loss"`
	MaxLossAt    float64    `json:"max_loss_at"`
	Breakevens   []float64  `json:"breakevens"`
	CostBasis    float64    `json:"cost_basis"`
	SampledRange [2]float64 `json:"sampled_range"`
}

// PayoffSummary reports the extremes of a sampled curve. The values hold only
// over the sampled range.
func PayoffSummary(points []models.PayoffPoint, costBasis float64) Summary {
	s := Summary{CostBasis: costBasis, Breakevens: Breakevens(points)}
	if len(points) == 0 {
		return s
	}
	s.MaxProfit, s.MaxProfitAt = points[0].PnL, points[0].Underlying
	s.MaxLoss, s.MaxLossAt = points[0].PnL, points[0].Underlying
	for _, p := range points[1:] {
		if p.PnL > s.MaxProfit {
			s.MaxProfit, s.MaxProfitAt = p.PnL, p.Underlying
		}
		if p.PnL < s.MaxLoss {
			s.MaxLoss, s.MaxLossAt = p.PnL, p.Underlying
		}
	}
	s.SampledRange = [2]float64{points[0].Underlying, points[len(points)-1].Underlying}
	return s
}
