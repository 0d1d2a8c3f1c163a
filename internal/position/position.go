// Package position maintains a multi-leg option position with at most one leg per
// contract, netting legs that collapse onto the same contract.
package position

import (
	"fmt"
	"sort"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
)

// Position is an ordered collection of legs kept in canonical order
// (expiration ascending, calls before puts, strike ascending).
//
// A Position is a value: every operation returns a new Position and never
// mutates the receiver's legs.
type Position struct {
	legs []models.Leg
}

// New builds a position from legs, netting any duplicates in input order.
func New(legs ...models.Leg) Position {
	var p Position
	for _, leg := range legs {
		p = AddOrMerge(p, leg)
	}
	return p
}

// Legs returns a copy of the legs in canonical order.
func (p Position) Legs() []models.Leg {
	out := make([]models.Leg, len(p.legs))
	copy(out, p.legs)
	return out
}

// Len returns the number of legs.
func (p Position) Len() int {
	return len(p.legs)
}

// IsEmpty returns true when the position is flat.
func (p Position) IsEmpty() bool {
	return len(p.legs) == 0
}

// Leg returns the leg at index i.
func (p Position) Leg(i int) (models.Leg, error) {
	if i < 0 || i >= len(p.legs) {
		return models.Leg{}, fmt.Errorf("%w: %d (position has %d legs)", apperrors.ErrLegIndex, i, len(p.legs))
	}
	return p.legs[i], nil
}

// Keys returns the contract keys in canonical order.
func (p Position) Keys() []models.ContractKey {
	keys := make([]models.ContractKey, len(p.legs))
	for i, leg := range p.legs {
		keys[i] = leg.Key()
	}
	return keys
}

// AddOrMerge adds a leg to the position. If a leg on the same contract already
// exists, the two are netted: a zero net removes the contract, otherwise the
// surviving leg carries the net direction and count.
func AddOrMerge(p Position, candidate models.Leg) Position {
	legs := p.Legs()
	if j := indexOf(legs, candidate.Key(), -1); j >= 0 {
		legs = netInto(legs, j, candidate)
	} else {
		legs = append(legs, candidate)
	}
	return Position{legs: sortLegs(legs)}
}

// Edit replaces the leg at index with edited, netting it against any other leg
// on the same contract. When the net is zero both rows disappear.
func Edit(p Position, index int, edited models.Leg) (Position, error) {
	if _, err := p.Leg(index); err != nil {
		return p, err
	}

	legs := p.Legs()
	j := indexOf(legs, edited.Key(), index)
	if j < 0 {
		legs[index] = edited
		return Position{legs: sortLegs(legs)}, nil
	}

	// The matching row absorbs the edit and the edited row goes away.
	merged, flat := net(legs[j], edited)
	out := make([]models.Leg, 0, len(legs))
	for i, leg := range legs {
		switch {
		case i == index:
			continue
		case i == j:
			if !flat {
				out = append(out, merged)
			}
		default:
			out = append(out, leg)
		}
	}
	return Position{legs: sortLegs(out)}, nil
}

// Remove drops the leg at index.
func Remove(p Position, index int) (Position, error) {
	if _, err := p.Leg(index); err != nil {
		return p, err
	}
	legs := p.Legs()
	legs = append(legs[:index], legs[index+1:]...)
	return Position{legs: legs}, nil
}

// Sort returns legs in canonical display order without netting them.
func Sort(legs []models.Leg) []models.Leg {
	out := make([]models.Leg, len(legs))
	copy(out, legs)
	return sortLegs(out)
}

// Less reports whether a sorts before b in canonical order.
func Less(a, b models.Leg) bool {
	if a.Expiration != b.Expiration {
		return a.Expiration.Before(b.Expiration)
	}
	if a.Right != b.Right {
		return a.Right == models.Call
	}
	return a.Strike < b.Strike
}

func sortLegs(legs []models.Leg) []models.Leg {
	sort.SliceStable(legs, func(i, j int) bool {
		return Less(legs[i], legs[j])
	})
	return legs
}

// indexOf finds the leg with key, skipping index skip.
func indexOf(legs []models.Leg, key models.ContractKey, skip int) int {
	for i, leg := range legs {
		if i != skip && leg.Key() == key {
			return i
		}
	}
	return -1
}

// netInto nets candidate into legs[j] in place, deleting it when flat.
func netInto(legs []models.Leg, j int, candidate models.Leg) []models.Leg {
	merged, flat := net(legs[j], candidate)
	if flat {
		return append(legs[:j], legs[j+1:]...)
	}
	legs[j] = merged
	return legs
}

// net combines two legs on the same contract.
func net(existing, candidate models.Leg) (models.Leg, bool) {
	merged, ok := models.LegFromSigned(existing.Key(), existing.SignedContracts()+candidate.SignedContracts())
	return merged, !ok
}
