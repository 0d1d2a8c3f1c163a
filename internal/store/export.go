package store

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"spxopt/internal/models"
)

type historyRow struct {
	SnapshotUTC string  `csv:"snapshot_utc"`
	Expiration  string  `csv:"expiration"`
	Strike      float64 `csv:"strike"`
	Right       string  `csv:"option_type"`
	Bid         float64 `csv:"bid"`
	Ask         float64 `csv:"ask"`
	Last        float64 `csv:"last"`
}

// ExportHistoryCSV writes one contract's price history as CSV with a header row.
func ExportHistoryCSV(w io.Writer, key models.ContractKey, points []models.PricePoint) error {
	rows := make([]*historyRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, &historyRow{
			SnapshotUTC: p.SnapshotUTC.UTC().Format(time.RFC3339),
			Expiration:  key.Expiration.String(),
			Strike:      key.Strike,
			Right:       string(key.Right),
			Bid:         p.Bid,
			Ask:         p.Ask,
			Last:        p.Last,
		})
	}
	return gocsv.Marshal(&rows, w)
}
