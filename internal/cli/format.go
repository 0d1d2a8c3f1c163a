package cli

import (
	"fmt"
	"strings"

	"spxopt/internal/models"
	"spxopt/pkg/utils"
)

// FormatDelta formats a delta, "-" when the source has none.
func FormatDelta(delta *float64) string {
	if delta == nil {
		return "-"
	}
	return fmt.Sprintf("%+.3f", *delta)
}

// FormatContract renders a contract as "2026-03-20 4000C".
func FormatContract(key models.ContractKey) string {
	return key.String()
}

// FormatLegAction renders the action and count, "BUY 2".
func FormatLegAction(leg models.Leg) string {
	return fmt.Sprintf("%s %d", leg.Action, leg.Multiplier)
}

// FormatBidAsk renders "bid / ask" with unquoted sides as "-".
func FormatBidAsk(bid, ask float64) string {
	return utils.FormatPrice(bid) + " / " + utils.FormatPrice(ask)
}

// FormatStrikes joins strikes for compact display.
func FormatStrikes(strikes []float64) string {
	parts := make([]string, len(strikes))
	for i, s := range strikes {
		parts[i] = models.FormatStrike(s)
	}
	return strings.Join(parts, " ")
}

// ParseLegs parses every --leg flag value.
func ParseLegs(texts []string) ([]models.Leg, error) {
	legs := make([]models.Leg, 0, len(texts))
	for _, text := range texts {
		leg, err := models.ParseLeg(text)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, nil
}
