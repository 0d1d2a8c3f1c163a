package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DataFreshness describes how recent the stored snapshot of an expiration is.
type DataFreshness struct {
	Expiration  civil.Date    `json:"expiration"`
	LastUpdated time.Time     `json:"last_updated"`
	Age         time.Duration `json:"age_ns"`
	IsFresh     bool          `json:"is_fresh"`
}

// Freshness reports the age of the latest stored snapshot of expiration.
// Data older than staleAfter is not fresh.
func Freshness(ctx context.Context, repo SnapshotRepository, expiration civil.Date, now time.Time, staleAfter time.Duration) (DataFreshness, error) {
	f := DataFreshness{Expiration: expiration}
	_, ts, err := repo.LatestChain(ctx, expiration)
	if err != nil {
		return f, err
	}
	if ts.IsZero() {
		return f, nil
	}
	f.LastUpdated = ts
	f.Age = now.Sub(ts)
	f.IsFresh = f.Age <= staleAfter
	return f, nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(f DataFreshness) string {
	if f.LastUpdated.IsZero() {
		return "No snapshots stored"
	}

	var ageStr string
	switch age := f.Age; {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if f.IsFresh {
		return fmt.Sprintf("Snapshot taken %s", ageStr)
	}
	return fmt.Sprintf("Stale snapshot, taken %s", ageStr)
}
