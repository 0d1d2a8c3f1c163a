package alpaca

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"cloud.google.com/go/civil"

	"spxopt/internal/models"
)

// occTail is the fixed-width part after the root: YYMMDD, right, strike*1000.
const occTail = 6 + 1 + 8

// OCCSymbol returns the OCC option symbol of key under root, e.g.
// SPXW260320C04000000.
func OCCSymbol(root string, key models.ContractKey) string {
	strike := int64(math.Round(key.Strike * 1000))
	return fmt.Sprintf("%s%02d%02d%02d%s%08d",
		root, key.Expiration.Year%100, int(key.Expiration.Month), key.Expiration.Day, key.Right, strike)
}

// ParseOCCSymbol splits an OCC option symbol into its root and contract key.
func ParseOCCSymbol(symbol string) (string, models.ContractKey, error) {
	if len(symbol) <= occTail {
		return "", models.ContractKey{}, fmt.Errorf("occ symbol %q too short", symbol)
	}
	root := symbol[:len(symbol)-occTail]
	tail := symbol[len(symbol)-occTail:]

	yy, err1 := strconv.Atoi(tail[0:2])
	mm, err2 := strconv.Atoi(tail[2:4])
	dd, err3 := strconv.Atoi(tail[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", models.ContractKey{}, fmt.Errorf("occ symbol %q: bad date", symbol)
	}
	exp := civil.Date{Year: 2000 + yy, Month: time.Month(mm), Day: dd}
	if !exp.IsValid() {
		return "", models.ContractKey{}, fmt.Errorf("occ symbol %q: bad date", symbol)
	}

	right, err := models.ParseRight(tail[6:7])
	if err != nil {
		return "", models.ContractKey{}, fmt.Errorf("occ symbol %q: %w", symbol, err)
	}

	milli, err := strconv.ParseInt(tail[7:], 10, 64)
	if err != nil {
		return "", models.ContractKey{}, fmt.Errorf("occ symbol %q: bad strike", symbol)
	}

	return root, models.ContractKey{Expiration: exp, Strike: float64(milli) / 1000, Right: right}, nil
}
