package ibkr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
)

const maturityLayout = "20060102"

// monthCode returns the IBKR option month of a date, e.g. MAR26.
func monthCode(d civil.Date) string {
	return fmt.Sprintf("%s%02d", strings.ToUpper(d.Month.String()[:3]), d.Year%100)
}

func parseMaturity(s string) (civil.Date, error) {
	t, err := time.Parse(maturityLayout, s)
	if err != nil {
		return civil.Date{}, apperrors.Wrapf(err, "bad maturity date %q", s)
	}
	return civil.DateOf(t), nil
}

func formatMaturity(d civil.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// fieldValue extracts a number from a snapshot field. Values arrive as
// numbers, as strings with an optional status prefix ("C12.50" for a closing
// price, "H" for halted) or wrapped as {"v": value}. ok is false when the
// field is missing or not numeric.
func fieldValue(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		s := strings.TrimLeft(strings.TrimSpace(v), "CH")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case map[string]interface{}:
		if inner, ok := v["v"]; ok {
			return fieldValue(inner)
		}
	}
	return 0, false
}

// applySnapshot fills q from one snapshot row.
func applySnapshot(q *models.Quote, row map[string]interface{}) {
	if v, ok := fieldValue(row[fieldBid]); ok {
		q.Bid = v
	}
	if v, ok := fieldValue(row[fieldAsk]); ok {
		q.Ask = v
	}
	if v, ok := fieldValue(row[fieldLast]); ok {
		q.Last = v
	}
	if v, ok := fieldValue(row[fieldVolumeRaw]); ok {
		q.Volume = int64(v)
	} else if v, ok := fieldValue(row[fieldVolume]); ok {
		q.Volume = int64(v)
	}
	if v, ok := fieldValue(row[fieldOpenInterest]); ok {
		q.OpenInterest = int64(v)
	}
	if v, ok := fieldValue(row[fieldDelta]); ok {
		d := v
		q.Delta = &d
	}
}

func conidOf(row map[string]interface{}) int {
	switch v := row["conid"].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
